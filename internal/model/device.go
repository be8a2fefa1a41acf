package model

import (
	"time"
)

// 设备连接协议
const (
	ProtocolSSH    = "ssh"
	ProtocolTelnet = "telnet"
)

// DefaultDeviceType 未指定平台时的设备类型
const DefaultDeviceType = "cisco_ios"

// Device 网络设备
type Device struct {
	ID               uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Alias            string     `json:"alias" gorm:"type:varchar(100)"`
	Hostname         string     `json:"hostname" gorm:"type:varchar(255);not null"`
	IPAddress        string     `json:"ip_address" gorm:"column:ip_address;type:varchar(45);not null;index"`
	Port             int        `json:"port" gorm:"not null;default:22"`
	Protocol         string     `json:"protocol" gorm:"type:varchar(10);not null;default:'ssh'"`
	Username         string     `json:"username" gorm:"type:varchar(100);not null"`
	Password         Secret     `json:"-" gorm:"type:text"`
	EnablePassword   Secret     `json:"-" gorm:"type:text"`
	DeviceType       string     `json:"device_type" gorm:"type:varchar(50);default:'cisco_ios'"`
	BackupCommand    string     `json:"backup_command" gorm:"type:varchar(200)"`
	IsActive         bool       `json:"is_active" gorm:"not null"`
	LastBackup       *time.Time `json:"last_backup"`
	LastBackupStatus string     `json:"last_backup_status" gorm:"type:varchar(20)"`
	CreatedAt        time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Device) TableName() string {
	return "devices"
}

// DisplayName 设备展示名：优先别名，否则使用 IP
func (d *Device) DisplayName() string {
	if d == nil {
		return ""
	}
	if d.Alias != "" {
		return d.Alias
	}
	return d.IPAddress
}

// Address 设备连接地址，未设置 IP 时回退到主机名
func (d *Device) Address() string {
	if d.IPAddress != "" {
		return d.IPAddress
	}
	return d.Hostname
}

// DefaultPort 按协议返回默认端口
func DefaultPort(protocol string) int {
	if protocol == ProtocolTelnet {
		return 23
	}
	return 22
}
