// internal/service/order/domain/state.go
package domain

import "strings"

// State 定义了订单的生命周期状态
type State string

const (
	StatePending    State = "Pending"    // 已下单，库存已预占
	StateProcessing State = "Processing" // 履约处理中
	StateShipped    State = "Shipped"    // 已发货
	StateDelivered  State = "Delivered"  // 已签收 (终态)
	StateCancelled  State = "Cancelled"  // 用户自助取消 (终态)
)

// fulfillmentTransitions 是后台履约可走的状态迁移表。
// Cancelled 不在其中：取消只能走用户自助取消流程，那里会同时归还库存。
var fulfillmentTransitions = map[State][]State{
	StatePending:    {StateProcessing},
	StateProcessing: {StateShipped},
	StateShipped:    {StateDelivered},
}

// ParseState 忽略大小写解析状态名
func ParseState(s string) (State, bool) {
	for _, st := range AllStates() {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, true
		}
	}
	return "", false
}

func AllStates() []State {
	return []State{StatePending, StateProcessing, StateShipped, StateDelivered, StateCancelled}
}

func (s State) IsTerminal() bool {
	return s == StateDelivered || s == StateCancelled
}

// CanAdvanceTo 判断后台状态变更 from -> to 是否在迁移表中。
func (s State) CanAdvanceTo(to State) bool {
	for _, next := range fulfillmentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
