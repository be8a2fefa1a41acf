package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sshcollectorpro/confbackup/internal/connector"
	"github.com/sshcollectorpro/confbackup/internal/model"
	"github.com/sshcollectorpro/confbackup/pkg/logger"
	"gorm.io/gorm"
)

// DeviceService 设备管理
type DeviceService struct {
	db          *gorm.DB
	conn        connector.Connector
	pingTimeout time.Duration
}

// NewDeviceService 创建设备服务
func NewDeviceService(db *gorm.DB, conn connector.Connector, pingTimeout time.Duration) *DeviceService {
	if pingTimeout <= 0 {
		pingTimeout = 15 * time.Second
	}
	return &DeviceService{db: db, conn: conn, pingTimeout: pingTimeout}
}

// DeviceInput 创建/更新设备；更新时空字段保持原值
type DeviceInput struct {
	Alias          string `json:"alias"`
	Hostname       string `json:"hostname"`
	IPAddress      string `json:"ip_address"`
	Port           int    `json:"port"`
	Protocol       string `json:"protocol"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	EnablePassword string `json:"enable_password"`
	DeviceType     string `json:"device_type"`
	BackupCommand  string `json:"backup_command"`
	IsActive       *bool  `json:"is_active"`
}

// List 设备列表
func (s *DeviceService) List(ctx context.Context, activeOnly bool) ([]model.Device, error) {
	devices := []model.Device{}
	q := s.db.WithContext(ctx).Order("id ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

// Get 查询设备
func (s *DeviceService) Get(ctx context.Context, id uint) (*model.Device, error) {
	var d model.Device
	if err := s.db.WithContext(ctx).First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &DeviceNotFoundError{DeviceID: id}
		}
		return nil, fmt.Errorf("failed to load device %d: %w", id, err)
	}
	return &d, nil
}

// Create 新增设备
func (s *DeviceService) Create(ctx context.Context, in DeviceInput) (*model.Device, error) {
	d := model.Device{IsActive: true}
	if err := applyDeviceInput(&d, in, true); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(&d).Error; err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}
	logger.Info("Device created", "device_id", d.ID, "address", d.Address(), "protocol", d.Protocol)
	return &d, nil
}

// Update 更新设备
func (s *DeviceService) Update(ctx context.Context, id uint, in DeviceInput) (*model.Device, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyDeviceInput(d, in, false); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(d).Error; err != nil {
		return nil, fmt.Errorf("failed to update device %d: %w", id, err)
	}
	logger.Info("Device updated", "device_id", d.ID, "active", d.IsActive)
	return d, nil
}

// Delete 删除设备；已有备份记录的设备不允许删除
func (s *DeviceService) Delete(ctx context.Context, id uint) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.BackupTask{}).Where("device_id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to count device tasks: %w", err)
	}
	if n > 0 {
		return &ConflictError{Reason: fmt.Sprintf("device %d has %d backup task(s), deactivate it instead", id, n)}
	}
	if err := s.db.WithContext(ctx).Delete(&model.Device{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete device %d: %w", id, err)
	}
	logger.Info("Device deleted", "device_id", id)
	return nil
}

// TestResult 连通性测试结果
type TestResult struct {
	Success  bool    `json:"success"`
	Message  string  `json:"message"`
	Kind     string  `json:"kind,omitempty"`
	Duration float64 `json:"duration"`
}

// Test 登录设备验证连通性与认证，不执行备份命令
func (s *DeviceService) Test(ctx context.Context, id uint) (*TestResult, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res := s.ping(ctx, d)
	if !res.Success {
		logger.Warn("Device connection test failed", "device_id", id, "kind", res.Kind, "error", res.Message)
	}
	return res, nil
}

func (s *DeviceService) ping(ctx context.Context, d *model.Device) *TestResult {
	pctx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()

	start := time.Now()
	err := s.conn.Ping(pctx, d)
	res := &TestResult{Duration: time.Since(start).Seconds()}
	if err != nil {
		ce := connector.Classify(pctx, d.Address(), err)
		res.Message = ce.Error()
		res.Kind = string(ce.Kind)
		return res
	}
	res.Success = true
	res.Message = "connection succeeded"
	return res
}

func applyDeviceInput(d *model.Device, in DeviceInput, create bool) error {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&d.Alias, in.Alias)
	set(&d.Hostname, in.Hostname)
	set(&d.IPAddress, in.IPAddress)
	set(&d.Username, in.Username)
	set(&d.DeviceType, in.DeviceType)
	set(&d.BackupCommand, in.BackupCommand)
	if in.Password != "" {
		d.Password = model.Secret(in.Password)
	}
	if in.EnablePassword != "" {
		d.EnablePassword = model.Secret(in.EnablePassword)
	}
	if in.IsActive != nil {
		d.IsActive = *in.IsActive
	}

	if p := strings.ToLower(strings.TrimSpace(in.Protocol)); p != "" {
		if p != model.ProtocolSSH && p != model.ProtocolTelnet {
			return &ValidationError{Field: "protocol", Reason: fmt.Sprintf("unsupported value %q", in.Protocol)}
		}
		d.Protocol = p
	}
	if d.Protocol == "" {
		d.Protocol = model.ProtocolSSH
	}
	if in.Port != 0 {
		if in.Port < 1 || in.Port > 65535 {
			return &ValidationError{Field: "port", Reason: fmt.Sprintf("%d out of range", in.Port)}
		}
		d.Port = in.Port
	}
	if d.Port == 0 {
		d.Port = model.DefaultPort(d.Protocol)
	}
	if d.DeviceType == "" {
		d.DeviceType = model.DefaultDeviceType
	}

	if d.IPAddress == "" {
		if create && d.Hostname != "" {
			d.IPAddress = d.Hostname
		} else {
			return &ValidationError{Field: "ip_address", Reason: "is required"}
		}
	}
	if d.Hostname == "" {
		d.Hostname = d.IPAddress
	}
	if d.Username == "" {
		return &ValidationError{Field: "username", Reason: "is required"}
	}
	return nil
}
