// internal/service/checkout/infrastructure/adapter/cart_lock_zk_adapter.go
package adapter

import (
	"context"
	"time"

	"storefront/internal/pkg/zookeeper"
)

// CartLockZkAdapter 用 zookeeper 临时顺序节点实现购物车级别的跨进程互斥。
type CartLockZkAdapter struct {
	conn        *zookeeper.Conn
	waitTimeout time.Duration
}

func NewCartLockZkAdapter(conn *zookeeper.Conn, waitTimeout time.Duration) *CartLockZkAdapter {
	return &CartLockZkAdapter{conn: conn, waitTimeout: waitTimeout}
}

// WithLock 持有 cartID 对应的锁执行 fn。
// 锁释放失败只影响等待者的唤醒时机（临时节点随会话消失），不掩盖 fn 的结果。
func (a *CartLockZkAdapter) WithLock(ctx context.Context, cartID string, fn func() error) error {
	lock, err := zookeeper.NewDistributedLock(a.conn, "cart-"+cartID, a.waitTimeout)
	if err != nil {
		return err
	}
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}
