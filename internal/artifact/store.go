package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/sshcollectorpro/confbackup/internal/model"
	"github.com/sshcollectorpro/confbackup/pkg/logger"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrArtifactNotFound 指定哈希的快照不存在
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrCorrupted 读取到的内容与哈希不符
	ErrCorrupted = errors.New("artifact content does not match its hash")
)

// Blob 快照内容的底层存储
type Blob interface {
	// Backend 后端名称：local | minio
	Backend() string
	// Put 写入内容；同一哈希重复写入须幂等
	Put(ctx context.Context, hash string, data []byte) (uri string, compressed bool, err error)
	// Get 读取原始内容；不存在时返回 ErrArtifactNotFound
	Get(ctx context.Context, hash string) ([]byte, error)
	// Exists 判断内容是否已存在
	Exists(ctx context.Context, hash string) (bool, error)
}

// PutResult 写入结果
type PutResult struct {
	Hash    string
	URI     string
	Size    int64
	Created bool
}

// Store 内容寻址的快照存储，只追加不修改
type Store struct {
	db    *gorm.DB
	blob  Blob
	group singleflight.Group
}

// NewStore 创建快照存储
func NewStore(db *gorm.DB, blob Blob) *Store {
	return &Store{db: db, blob: blob}
}

// HashOf 计算内容哈希（sha256 十六进制）
func HashOf(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ValidHash 校验哈希格式
func ValidHash(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil && strings.ToLower(hash) == hash
}

// Put 写入内容并返回哈希；相同内容只存一份，引用计数加一
func (s *Store) Put(ctx context.Context, content []byte) (PutResult, error) {
	hash := HashOf(content)

	// 同一哈希的并发写入合并为一次；共享的写入不受单个调用方取消影响
	v, err, _ := s.group.Do(hash, func() (interface{}, error) {
		return s.store(context.WithoutCancel(ctx), hash, content)
	})
	if err != nil {
		return PutResult{}, err
	}

	created, err := s.addRef(ctx, hash)
	if err != nil {
		return PutResult{}, fmt.Errorf("failed to bump artifact ref count: %w", err)
	}
	return PutResult{Hash: hash, URI: v.(string), Size: int64(len(content)), Created: created}, nil
}

// addRef 引用计数加一；计数由 0 变为 1 的调用方视为首次写入
func (s *Store) addRef(ctx context.Context, hash string) (bool, error) {
	first := s.db.WithContext(ctx).Model(&model.Artifact{}).
		Where("hash = ? AND ref_count = 0", hash).
		UpdateColumn("ref_count", 1)
	if first.Error != nil {
		return false, first.Error
	}
	if first.RowsAffected > 0 {
		return true, nil
	}
	err := s.db.WithContext(ctx).Model(&model.Artifact{}).
		Where("hash = ?", hash).
		UpdateColumn("ref_count", gorm.Expr("ref_count + 1")).Error
	return false, err
}

func (s *Store) store(ctx context.Context, hash string, content []byte) (string, error) {
	var existing model.Artifact
	err := s.db.WithContext(ctx).Where("hash = ?", hash).Take(&existing).Error
	switch {
	case err == nil:
		// 索引存在时确认内容仍在，缺失则补写
		ok, exErr := s.blob.Exists(ctx, hash)
		if exErr != nil {
			return "", fmt.Errorf("failed to stat artifact %s: %w", hash, exErr)
		}
		if ok {
			return existing.URI, nil
		}
		logger.Warn("Artifact index present but blob missing, rewriting", "hash", hash)
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return "", fmt.Errorf("failed to query artifact index: %w", err)
	}

	uri, compressed, err := s.blob.Put(ctx, hash, content)
	if err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", hash, err)
	}

	row := model.Artifact{
		Hash:       hash,
		Size:       int64(len(content)),
		URI:        uri,
		Backend:    s.blob.Backend(),
		Compressed: compressed,
		RefCount:   0,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"uri", "backend", "compressed"}),
	}).Create(&row)
	if res.Error != nil {
		return "", fmt.Errorf("failed to index artifact %s: %w", hash, res.Error)
	}

	logger.Debug("Artifact stored", "hash", hash, "size", len(content), "uri", uri)
	return uri, nil
}

// Get 读取内容并校验哈希
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	if !ValidHash(hash) {
		return nil, fmt.Errorf("%w: invalid hash %q", ErrArtifactNotFound, hash)
	}
	data, err := s.blob.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if HashOf(data) != hash {
		return nil, fmt.Errorf("%w: %s", ErrCorrupted, hash)
	}
	return data, nil
}

// Stat 查询索引记录
func (s *Store) Stat(ctx context.Context, hash string) (*model.Artifact, error) {
	var a model.Artifact
	if err := s.db.WithContext(ctx).Where("hash = ?", hash).Take(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, hash)
		}
		return nil, err
	}
	return &a, nil
}

// Verify 重新读取并校验内容
func (s *Store) Verify(ctx context.Context, hash string) error {
	_, err := s.Get(ctx, hash)
	return err
}

// Usage 快照总数与去重后的总字节数
func (s *Store) Usage(ctx context.Context) (count int64, bytes int64, err error) {
	var row struct {
		Count int64
		Bytes int64
	}
	err = s.db.WithContext(ctx).Model(&model.Artifact{}).
		Select("COUNT(*) AS count, COALESCE(SUM(size), 0) AS bytes").
		Scan(&row).Error
	return row.Count, row.Bytes, err
}

// Backend 当前后端名称
func (s *Store) Backend() string {
	return s.blob.Backend()
}
