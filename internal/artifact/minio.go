package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sshcollectorpro/confbackup/internal/config"
	"github.com/sshcollectorpro/confbackup/pkg/logger"
)

// MinioBlob MinIO 对象存储
type MinioBlob struct {
	client   *minio.Client
	endpoint string
	bucket   string
	prefix   string

	mu            sync.Mutex
	bucketEnsured bool
}

// NewMinioBlob 初始化 MinIO 客户端并尝试确保 bucket 存在
func NewMinioBlob(cfg config.MinioConfig) (*MinioBlob, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("minio configuration incomplete: host/port missing")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("minio bucket not configured")
	}
	endpoint := fmt.Sprintf("%s:%d", host, cfg.Port)

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 5 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.Secure,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client initialization failed: %w", err)
	}

	b := &MinioBlob{
		client:   client,
		endpoint: endpoint,
		bucket:   bucket,
		prefix:   strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.ensureBucket(ctx, 2); err != nil {
		// 启动阶段不阻断，首次写入时再确认
		logger.Warn("MinIO bucket ensure at init failed", "endpoint", endpoint, "error", err)
	}
	return b, nil
}

// Backend 后端名称
func (b *MinioBlob) Backend() string { return "minio" }

// objectName 对象路径：prefix/ab/<hash>.txt
func (b *MinioBlob) objectName(hash string) string {
	return objectName(b.prefix, hash)
}

func objectName(prefix, hash string) string {
	return path.Join(prefix, hash[0:2], hash+".txt")
}

// Put 带重试的对象写入
func (b *MinioBlob) Put(ctx context.Context, hash string, data []byte) (string, bool, error) {
	if err := b.ensureBucket(ctx, 3); err != nil {
		return "", false, fmt.Errorf("minio ensure bucket failed: %w", err)
	}

	name := b.objectName(hash)
	uri := "minio://" + path.Join(b.bucket, name)

	if ok, err := b.Exists(ctx, hash); err == nil && ok {
		return uri, false, nil
	}

	var lastErr error
	backoffs := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, d := range backoffs {
		attemptCtx, cancel := attemptContext(ctx, d)
		_, err := b.client.PutObject(attemptCtx, b.bucket, name, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
		cancel()
		if err == nil {
			return uri, false, nil
		}
		lastErr = err
		if i == len(backoffs)-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(d):
		}
	}
	return "", false, fmt.Errorf("minio put object failed after retries: %w", lastErr)
}

// Get 读取对象内容
func (b *MinioBlob) Get(ctx context.Context, hash string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.objectName(hash), minio.GetObjectOptions{})
	if err != nil {
		return nil, b.mapError(hash, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, b.mapError(hash, err)
	}
	return data, nil
}

// Exists 通过 StatObject 判断对象是否存在
func (b *MinioBlob) Exists(ctx context.Context, hash string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, b.objectName(hash), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (b *MinioBlob) mapError(hash string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", ErrArtifactNotFound, hash)
	}
	return fmt.Errorf("minio get object %s from %s: %w", hash, b.endpoint, err)
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket" || code == "NotFound"
}

// ensureBucket 校验并创建 bucket，支持有限重试
func (b *MinioBlob) ensureBucket(parent context.Context, retries int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bucketEnsured {
		return nil
	}
	var lastErr error
	for i := 0; i <= retries; i++ {
		ctx, cancel := attemptContext(parent, 10*time.Second)
		exists, err := b.client.BucketExists(ctx, b.bucket)
		if err == nil && !exists {
			err = b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{})
		}
		cancel()
		if err == nil {
			b.bucketEnsured = true
			return nil
		}
		lastErr = err
		select {
		case <-parent.Done():
			return parent.Err()
		case <-time.After(time.Duration(i+1) * time.Second):
		}
	}
	return lastErr
}

// attemptContext 构造限时上下文，尊重父上下文的剩余截止时间
func attemptContext(parent context.Context, prefer time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok {
		remain := time.Until(deadline)
		if remain > time.Second && prefer < remain {
			return context.WithTimeout(parent, prefer)
		}
		if remain > time.Second {
			return context.WithTimeout(parent, remain-time.Second)
		}
		return context.WithTimeout(parent, time.Second)
	}
	return context.WithTimeout(parent, prefer)
}
