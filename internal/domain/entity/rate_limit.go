// Package entity 定义领域实体
package entity

import "time"

// RateLimitRecord 限流记录：每次放行写入一行，窗口外的行惰性清理
type RateLimitRecord struct {
	ID         string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ScopeKey   string    `json:"scope_key" gorm:"type:varchar(64);index:idx_rate_limit_scope_ts;not null"`
	Identifier string    `json:"identifier" gorm:"type:varchar(128);not null"`
	Timestamp  time.Time `json:"timestamp" gorm:"index:idx_rate_limit_scope_ts;not null"`
}

func (RateLimitRecord) TableName() string {
	return "rate_limit_records"
}
