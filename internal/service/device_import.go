package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sshcollectorpro/confbackup/internal/database"
	"github.com/sshcollectorpro/confbackup/internal/model"
	"github.com/sshcollectorpro/confbackup/internal/util"
	"github.com/sshcollectorpro/confbackup/pkg/logger"
	"gorm.io/gorm"
)

const (
	// MaxImportBytes 导入文件大小上限
	MaxImportBytes = 4 << 20
	importAttempts = 5
)

// 导入文件列，模板按此顺序输出
var importColumns = []string{
	"ip_address", "username", "password", "alias", "hostname", "port",
	"protocol", "device_type", "enable_password", "backup_command",
}

var requiredImportColumns = []string{"ip_address", "username", "password"}

// ImportOptions 批量导入选项
type ImportOptions struct {
	// TestConnections 入库前逐台测试登录，失败的行计为错误
	TestConnections bool
	// BackupCommand 行内未指定时使用的备份命令
	BackupCommand string
}

// ImportResult 批量导入结果
type ImportResult struct {
	SuccessCount int            `json:"success_count"`
	ErrorCount   int            `json:"error_count"`
	SkippedCount int            `json:"skipped_count"`
	Errors       []string       `json:"errors"`
	Devices      []model.Device `json:"devices"`
}

func (r *ImportResult) fail(line int, err error) {
	r.ErrorCount++
	r.Errors = append(r.Errors, fmt.Sprintf("line %d: %v", line, err))
}

type importRow struct {
	line   int
	values map[string]string
}

// WriteImportTemplate 输出带示例行的 CSV 导入模板
func WriteImportTemplate(w io.Writer) error {
	cw := csv.NewWriter(w)
	return cw.WriteAll([][]string{
		importColumns,
		{"192.168.1.1", "admin", "password123", "core-sw-01", "", "22", "ssh", "cisco_ios", "enable123", "show running-config"},
		{"192.168.1.2", "admin", "password123", "access-sw-01", "", "23", "telnet", "huawei", "", "display current-configuration"},
	})
}

// Import 从 CSV 批量导入设备；已存在的 IP 跳过，单行错误不影响其他行
func (s *DeviceService) Import(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	rows, err := readImportRows(r)
	if err != nil {
		return nil, err
	}

	var ips []string
	if err := s.db.WithContext(ctx).Model(&model.Device{}).Pluck("ip_address", &ips).Error; err != nil {
		return nil, fmt.Errorf("failed to load device addresses: %w", err)
	}
	seen := make(map[string]bool, len(ips)+len(rows))
	for _, ip := range ips {
		seen[ip] = true
	}

	res := &ImportResult{Errors: []string{}, Devices: []model.Device{}}
	var pending []model.Device
	for _, row := range rows {
		if seen[strings.TrimSpace(row.values["ip_address"])] {
			res.SkippedCount++
			continue
		}
		d, err := row.device(opts.BackupCommand)
		if err != nil {
			res.fail(row.line, err)
			continue
		}
		if opts.TestConnections {
			if tr := s.ping(ctx, &d); !tr.Success {
				res.fail(row.line, fmt.Errorf("connection test failed: %s", tr.Message))
				continue
			}
		}
		seen[d.IPAddress] = true
		pending = append(pending, d)
	}

	if len(pending) > 0 {
		err := database.TransactionWithRetry(s.db.WithContext(ctx), func(tx *gorm.DB) error {
			for i := range pending {
				pending[i].ID = 0
			}
			return tx.CreateInBatches(&pending, 100).Error
		}, importAttempts, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to import devices: %w", err)
		}
		res.Devices = pending
	}
	res.SuccessCount = len(pending)

	logger.Info("Devices imported", "created", res.SuccessCount, "skipped", res.SkippedCount, "errors", res.ErrorCount)
	return res, nil
}

func readImportRows(r io.Reader) ([]importRow, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImportBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}
	if len(data) > MaxImportBytes {
		return nil, &ValidationError{Field: "file", Reason: fmt.Sprintf("exceeds %d bytes", MaxImportBytes)}
	}
	text := strings.TrimPrefix(util.EnsureUTF8Bytes(data), "\ufeff")

	cr := csv.NewReader(strings.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ValidationError{Field: "file", Reason: "is empty"}
	}
	if err != nil {
		return nil, &ValidationError{Field: "file", Reason: err.Error()}
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var missing []string
	for _, col := range requiredImportColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Field: "file", Reason: "missing required column(s): " + strings.Join(missing, ", ")}
	}

	var rows []importRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ValidationError{Field: "file", Reason: err.Error()}
		}
		line, _ := cr.FieldPos(0)
		row := importRow{line: line, values: make(map[string]string, len(index))}
		empty := true
		for col, i := range index {
			if i < len(rec) {
				row.values[col] = strings.TrimSpace(rec[i])
				if row.values[col] != "" {
					empty = false
				}
			}
		}
		if !empty {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil, &ValidationError{Field: "file", Reason: "contains no device rows"}
	}
	return rows, nil
}

func (r importRow) device(defaultCommand string) (model.Device, error) {
	v := r.values
	for _, col := range requiredImportColumns {
		if v[col] == "" {
			return model.Device{}, &ValidationError{Field: col, Reason: "is required"}
		}
	}
	in := DeviceInput{
		Alias:          v["alias"],
		Hostname:       v["hostname"],
		IPAddress:      v["ip_address"],
		Protocol:       v["protocol"],
		Username:       v["username"],
		Password:       v["password"],
		EnablePassword: v["enable_password"],
		DeviceType:     v["device_type"],
		BackupCommand:  v["backup_command"],
	}
	if in.BackupCommand == "" {
		in.BackupCommand = defaultCommand
	}
	if p := v["port"]; p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return model.Device{}, &ValidationError{Field: "port", Reason: fmt.Sprintf("%q is not a number", p)}
		}
		in.Port = port
	}
	d := model.Device{IsActive: true}
	if err := applyDeviceInput(&d, in, true); err != nil {
		return model.Device{}, err
	}
	return d, nil
}
