package telnet

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeDevice 启动按脚本与客户端交互的 Telnet 设备
func newFakeDevice(t *testing.T, script func(conn net.Conn, r *bufio.Reader)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn, bufio.NewReader(conn))
	}()
	return ln.Addr().String()
}

// waitFor 读取直到出现 token
func waitFor(r *bufio.Reader, token string) bool {
	var acc strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return false
		}
		acc.WriteByte(b)
		if strings.Contains(acc.String(), token) {
			return true
		}
	}
}

// Telnet 协商字节
const (
	iac  = 255
	will = 251
	wont = 252
	do   = 253
	dont = 254
)

func TestNegotiationRefusesOptions(t *testing.T) {
	replies := make(chan []byte, 1)
	addr := newFakeDevice(t, func(conn net.Conn, r *bufio.Reader) {
		conn.Write([]byte{iac, do, 36, iac, will, 37})
		conn.Write([]byte("Username: "))
		buf := make([]byte, 6)
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		replies <- buf
		if !waitFor(r, "admin\r\n") {
			return
		}
		conn.Write([]byte("Password: "))
		if !waitFor(r, "secret\r\n") {
			return
		}
		conn.Write([]byte("\r\nSW1>"))
		waitFor(r, "never")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, addr, time.Second)
	require.NoError(t, err)
	sess, err := Login(ctx, conn, LoginOptions{Username: "admin", Password: "secret"})
	require.NoError(t, err)
	defer sess.Close()

	select {
	case got := <-replies:
		assert.Equal(t, []byte{iac, wont, 36, iac, dont, 37}, got)
	case <-ctx.Done():
		t.Fatal("no negotiation reply")
	}
}

func TestLoginEnableAndRun(t *testing.T) {
	addr := newFakeDevice(t, func(conn net.Conn, r *bufio.Reader) {
		conn.Write([]byte{iac, do, 1})
		conn.Write([]byte("\r\nUser Access Verification\r\n\r\nUsername: "))
		if !waitFor(r, "admin\r\n") {
			return
		}
		conn.Write([]byte("Password: "))
		if !waitFor(r, "secret\r\n") {
			return
		}
		conn.Write([]byte("\r\nR1>"))
		if !waitFor(r, "enable\r\n") {
			return
		}
		conn.Write([]byte("enable\r\nPassword: "))
		if !waitFor(r, "en-secret\r\n") {
			return
		}
		conn.Write([]byte("\r\nR1#"))
		if !waitFor(r, "show running-config\r\n") {
			return
		}
		conn.Write([]byte("show running-config\r\nBuilding configuration...\r\n!\r\nhostname R1\r\n --More-- "))
		if !waitFor(r, " ") {
			return
		}
		conn.Write([]byte("\b\b\b\b\b\b\b\b\b\binterface Gi0/1\r\n ip address 10.0.0.1 255.255.255.0\r\nend\r\n\r\nR1#"))
		waitFor(r, "never")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, addr, time.Second)
	require.NoError(t, err)
	sess, err := Login(ctx, conn, LoginOptions{Username: "admin", Password: "secret"})
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Enable(ctx, "en-secret"))
	out, err := sess.Run(ctx, "show running-config")
	require.NoError(t, err)
	assert.Equal(t, "Building configuration...\n!\nhostname R1\ninterface Gi0/1\n ip address 10.0.0.1 255.255.255.0\nend\n", out)
}

func TestLoginRejected(t *testing.T) {
	addr := newFakeDevice(t, func(conn net.Conn, r *bufio.Reader) {
		conn.Write([]byte("Username: "))
		if !waitFor(r, "\r\n") {
			return
		}
		conn.Write([]byte("Password: "))
		if !waitFor(r, "\r\n") {
			return
		}
		conn.Write([]byte("\r\n% Login invalid\r\n\r\nUsername: "))
		waitFor(r, "never")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, addr, time.Second)
	require.NoError(t, err)
	_, err = Login(ctx, conn, LoginOptions{Username: "admin", Password: "wrong"})
	assert.ErrorIs(t, err, ErrAuth)
}

func TestLoginTimeout(t *testing.T) {
	addr := newFakeDevice(t, func(conn net.Conn, r *bufio.Reader) {
		conn.Write([]byte("welcome\r\n"))
		waitFor(r, "never")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	conn, err := Dial(ctx, addr, time.Second)
	require.NoError(t, err)
	_, err = Login(ctx, conn, LoginOptions{Username: "admin", Password: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
