// Package repository 定义数据访问端口
package repository

import "context"

// TxKey 事务上下文键
type TxKey struct{}

// Transactor 事务执行器
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
