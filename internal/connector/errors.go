package connector

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sshcollectorpro/confbackup/pkg/prompt"
	"github.com/sshcollectorpro/confbackup/pkg/ssh"
	"github.com/sshcollectorpro/confbackup/pkg/telnet"
)

// Kind 连接器错误分类
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindAuth        Kind = "auth"
	KindUnreachable Kind = "unreachable"
	KindMalformed   Kind = "malformed"
	KindCancelled   Kind = "cancelled"
)

// Error 设备拉取失败；均可重试
type Error struct {
	Kind    Kind
	Address string
	Err     error
}

func (e *Error) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Address, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind 判断错误链中是否为指定分类的连接器错误
func IsKind(err error, kind Kind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == kind
}

// Classify 将底层错误归类；ctx 已结束时以 ctx 的原因为准
func Classify(ctx context.Context, address string, err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	kind := KindUnreachable
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled):
		kind = KindCancelled
	case errors.Is(err, ssh.ErrAuth), errors.Is(err, telnet.ErrAuth), errors.Is(err, prompt.ErrEnableFailed):
		kind = KindAuth
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			kind = KindTimeout
		}
	}
	return &Error{Kind: kind, Address: address, Err: err}
}

// Malformed 构造输出异常错误
func Malformed(address, format string, args ...interface{}) *Error {
	return &Error{Kind: KindMalformed, Address: address, Err: fmt.Errorf(format, args...)}
}
