package model

import "time"

// Artifact 配置快照索引，按内容哈希寻址
type Artifact struct {
	Hash       string    `json:"hash" gorm:"primaryKey;type:varchar(64)"`
	Size       int64     `json:"size" gorm:"not null"`
	URI        string    `json:"uri" gorm:"type:varchar(500);not null"`
	Backend    string    `json:"backend" gorm:"type:varchar(16);not null"`
	Compressed bool      `json:"compressed" gorm:"not null;default:false"`
	RefCount   int64     `json:"ref_count" gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (Artifact) TableName() string {
	return "artifacts"
}
