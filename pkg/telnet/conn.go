// Package telnet 在 ziutek/telnet 之上提供按提示符交互的设备登录会话。
package telnet

import (
	"context"
	"fmt"
	"net"
	"time"

	ztelnet "github.com/ziutek/telnet"
)

// Conn Telnet 连接；选项协商由底层库处理，回显与 SGA 之外的选项一律拒绝
type Conn struct {
	*ztelnet.Conn
}

// Dial 建立 TCP 连接并包装为 Telnet 连接
func Dial(ctx context.Context, address string, timeout time.Duration) (*Conn, error) {
	d := &net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return NewConn(c)
}

// NewConn 包装已有连接
func NewConn(c net.Conn) (*Conn, error) {
	tc, err := ztelnet.NewConn(c)
	if err != nil {
		c.Close()
		return nil, err
	}
	return &Conn{Conn: tc}, nil
}

// SendLine 发送一行（CRLF 结尾）
func (c *Conn) SendLine(line string) error {
	if _, err := c.Write([]byte(line + "\r\n")); err != nil {
		return fmt.Errorf("telnet write: %w", err)
	}
	return nil
}
