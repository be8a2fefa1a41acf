package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/sshcollectorpro/confbackup/internal/config"
)

// LocalBlob 本地文件存储：base/prefix/ab/cd/<hash>.txt[.gz]
type LocalBlob struct {
	baseDir  string
	compress bool
}

// NewLocalBlob 创建本地存储
func NewLocalBlob(cfg config.LocalStorageConfig) (*LocalBlob, error) {
	baseDir := strings.TrimSpace(cfg.BaseDir)
	if baseDir == "" {
		baseDir = "./data/artifacts"
	}
	if p := strings.TrimSpace(cfg.Prefix); p != "" {
		baseDir = filepath.Join(baseDir, p)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return &LocalBlob{baseDir: abs, compress: cfg.Compress}, nil
}

// Backend 后端名称
func (b *LocalBlob) Backend() string { return "local" }

func (b *LocalBlob) dir(hash string) string {
	return filepath.Join(b.baseDir, hash[0:2], hash[2:4])
}

func (b *LocalBlob) plainPath(hash string) string {
	return filepath.Join(b.dir(hash), hash+".txt")
}

func (b *LocalBlob) gzipPath(hash string) string {
	return b.plainPath(hash) + ".gz"
}

// Put 原子写入：临时文件 + rename
func (b *LocalBlob) Put(ctx context.Context, hash string, data []byte) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if ok, err := b.Exists(ctx, hash); err != nil {
		return "", false, err
	} else if ok {
		p, compressed := b.existingPath(hash)
		return "file://" + p, compressed, nil
	}

	dir := b.dir(hash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create dir: %w", err)
	}

	payload := data
	target := b.plainPath(hash)
	if b.compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return "", false, fmt.Errorf("failed to compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return "", false, fmt.Errorf("failed to compress: %w", err)
		}
		payload = buf.Bytes()
		target = b.gzipPath(hash)
	}

	tmp, err := os.CreateTemp(dir, hash+".*.tmp")
	if err != nil {
		return "", false, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return "", false, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", false, fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", false, fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", false, fmt.Errorf("failed to chmod file: %w", err)
	}
	// 同名内容必然相同，覆盖是安全的
	if err := os.Rename(tmpName, target); err != nil {
		return "", false, fmt.Errorf("failed to rename file: %w", err)
	}
	return "file://" + target, b.compress, nil
}

func (b *LocalBlob) existingPath(hash string) (string, bool) {
	if _, err := os.Stat(b.gzipPath(hash)); err == nil {
		return b.gzipPath(hash), true
	}
	return b.plainPath(hash), false
}

// Get 读取内容，自动识别压缩文件
func (b *LocalBlob) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, compressed := b.existingPath(hash)
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, hash)
		}
		return nil, err
	}
	defer f.Close()

	if !compressed {
		return io.ReadAll(f)
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, hash, err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, hash, err)
	}
	return data, nil
}

// Exists 判断文件是否存在
func (b *LocalBlob) Exists(_ context.Context, hash string) (bool, error) {
	for _, p := range []string{b.gzipPath(hash), b.plainPath(hash)} {
		_, err := os.Stat(p)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
	}
	return false, nil
}
