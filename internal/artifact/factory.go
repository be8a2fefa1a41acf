package artifact

import (
	"fmt"
	"strings"

	"github.com/sshcollectorpro/confbackup/internal/config"
	"github.com/sshcollectorpro/confbackup/pkg/logger"
)

// NewBlob 按配置创建存储后端；MinIO 初始化失败时回退到本地
func NewBlob(cfg config.StorageConfig) (Blob, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "minio":
		b, err := NewMinioBlob(cfg.Minio)
		if err == nil {
			return b, nil
		}
		logger.Warn("MinIO backend unavailable, falling back to local", "error", err)
		return NewLocalBlob(cfg.Local)
	case "", "local":
		return NewLocalBlob(cfg.Local)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
