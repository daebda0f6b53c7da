// internal/service/checkout/domain/port/lock.go
package port

import "context"

// CartLocker 是按购物车粒度的跨进程互斥锁。
// 复用检查与意图创建之间存在窗口，单靠数据库约束只能把竞态变成报错；
// 编排器在进入结算流程前先拿这把锁，把竞态变成排队。
type CartLocker interface {
	// WithLock 持有 cartID 对应的锁执行 fn，结束后释放。
	WithLock(ctx context.Context, cartID string, fn func() error) error
}
