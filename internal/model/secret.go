package model

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// 密文前缀；无前缀的历史数据按明文读取
const secretPrefix = "enc:v1:"

// DefaultSecretPassphrase 未配置加密口令时使用
const DefaultSecretPassphrase = "confbackup-default-credential-key"

var (
	secretMu  sync.RWMutex
	secretKey = deriveSecretKey(DefaultSecretPassphrase)
)

// ErrSecretDecrypt 密文无法用当前口令解开
var ErrSecretDecrypt = errors.New("failed to decrypt credential, check security.encryption_key")

// InitSecrets 设置凭据加密口令，返回是否使用了内置口令
func InitSecrets(passphrase string) bool {
	passphrase = strings.TrimSpace(passphrase)
	fallback := passphrase == ""
	if fallback {
		passphrase = DefaultSecretPassphrase
	}
	key := deriveSecretKey(passphrase)
	secretMu.Lock()
	secretKey = key
	secretMu.Unlock()
	return fallback
}

func deriveSecretKey(passphrase string) []byte {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(passphrase), []byte("confbackup/credentials"), []byte("device-secret"))
	if _, err := io.ReadFull(r, key); err != nil {
		panic(fmt.Sprintf("hkdf: %v", err))
	}
	return key
}

// Secret 设备凭据；写库时加密，读库时解密
type Secret string

// String 避免日志中输出明文
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "******"
}

// Value 实现 driver.Valuer
func (s Secret) Value() (driver.Value, error) {
	if s == "" {
		return "", nil
	}
	secretMu.RLock()
	key := secretKey
	secretMu.RUnlock()

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(s)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(s), nil)
	return secretPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Scan 实现 sql.Scanner
func (s *Secret) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*s = ""
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("unsupported secret type %T", src)
	}
	if !strings.HasPrefix(raw, secretPrefix) {
		*s = Secret(raw)
		return nil
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, secretPrefix))
	if err != nil {
		return fmt.Errorf("invalid secret encoding: %w", err)
	}
	secretMu.RLock()
	key := secretKey
	secretMu.RUnlock()

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return ErrSecretDecrypt
	}
	plain, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], nil)
	if err != nil {
		return ErrSecretDecrypt
	}
	*s = Secret(plain)
	return nil
}
