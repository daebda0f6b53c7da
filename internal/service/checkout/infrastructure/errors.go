// internal/service/checkout/infrastructure/errors.go
package infrastructure

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

const mysqlDuplicateEntry = 1062

// isDuplicateKeyError 判断是否为唯一索引冲突。
// 唯一索引是多个不变式（唯一活跃购物车、一客一码核销一次、
// webhook 事件只处理一次）在并发下的最终防线，仓储把冲突翻译成
// 领域层的 Conflict，而不是让裸驱动错误外泄。
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntry
	}
	return false
}
