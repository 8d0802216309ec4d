package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const orderNumberPrefix = "ORD"

// NewOrderNumber 生成 ORD-20250102-1A2B3C4D 格式的订单号。
// 随机部分取自 uuid v4，最终唯一性由订单表的唯一索引保证。
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", orderNumberPrefix, now.UTC().Format("20060102"), suffix)
}
