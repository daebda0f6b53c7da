// internal/service/checkout/infrastructure/tx.go
package infrastructure

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// GormTxManager 用 gorm 的事务把一组仓储操作包成原子单元，
// 事务句柄通过 context 传给各仓储。fn 返回错误即整体回滚。
type GormTxManager struct {
	db *gorm.DB
}

// NewGormTxManager 创建事务管理器。
func NewGormTxManager(db *gorm.DB) *GormTxManager {
	return &GormTxManager{db: db}
}

// WithinTx 实现 domain.TxManager。支持嵌套调用：已在事务内时直接复用。
func (m *GormTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// dbFromContext 取当前事务句柄；不在事务内时退化为裸连接。
func dbFromContext(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return fallback.WithContext(ctx)
}
