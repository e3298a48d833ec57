// Package entity 定义领域实体
package entity

import "time"

// User 用户实体（引擎只消费 ID 与订阅档位，认证由外部协作方负责）
type User struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Email     string    `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Name      string    `json:"name" gorm:"type:varchar(128)"`
	Tier      string    `json:"tier" gorm:"type:varchar(32);not null;default:'free'"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}
