package port

import "storefront/internal/service/order/domain"

// TransitionPolicy 决定后台状态变更 from -> to 是否允许
type TransitionPolicy interface {
	Allow(from, to domain.State) (bool, error)
}
