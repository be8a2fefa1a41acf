package connector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sshcollectorpro/confbackup/internal/config"
	"github.com/sshcollectorpro/confbackup/internal/model"
	"github.com/sshcollectorpro/confbackup/pkg/telnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConnector struct {
	name string
}

func (s *stubConnector) Fetch(context.Context, *model.Device, string) (string, error) {
	return s.name, nil
}

func (s *stubConnector) Ping(context.Context, *model.Device) error { return nil }

func TestRouterDispatch(t *testing.T) {
	r := NewRouterWith(&stubConnector{name: "ssh"}, &stubConnector{name: "telnet"})
	ctx := context.Background()

	out, err := r.Fetch(ctx, &model.Device{Protocol: "ssh"}, "show run")
	require.NoError(t, err)
	assert.Equal(t, "ssh", out)

	out, err = r.Fetch(ctx, &model.Device{Protocol: "TELNET"}, "show run")
	require.NoError(t, err)
	assert.Equal(t, "telnet", out)

	_, err = r.Fetch(ctx, &model.Device{Protocol: "serial", IPAddress: "10.0.0.1"}, "show run")
	assert.True(t, IsKind(err, KindUnreachable))
}

func TestClassify(t *testing.T) {
	bg := context.Background()
	assert.Nil(t, Classify(bg, "x", nil))
	assert.Equal(t, KindAuth, Classify(bg, "x", fmt.Errorf("wrap: %w", telnet.ErrAuth)).Kind)
	assert.Equal(t, KindUnreachable, Classify(bg, "x", errors.New("connection refused")).Kind)

	expired, cancel := context.WithTimeout(bg, 0)
	defer cancel()
	<-expired.Done()
	assert.Equal(t, KindTimeout, Classify(expired, "x", errors.New("read: use of closed connection")).Kind)

	cancelled, cancel2 := context.WithCancel(bg)
	cancel2()
	assert.Equal(t, KindCancelled, Classify(cancelled, "x", errors.New("closed")).Kind)

	orig := Malformed("x", "bad")
	assert.Same(t, orig, Classify(bg, "y", fmt.Errorf("wrap: %w", orig)))
}

func TestFinishRejectsErrorOutput(t *testing.T) {
	d := &model.Device{IPAddress: "10.0.0.1", Port: 22}
	hints := config.Default().Backup.ErrorHints

	_, err := finish(d, "show run", "   \n", hints)
	assert.True(t, IsKind(err, KindMalformed))

	_, err = finish(d, "show runn", "      ^\n% Invalid input detected at '^' marker.\n", hints)
	assert.True(t, IsKind(err, KindMalformed))
	assert.Contains(t, err.Error(), "% Invalid input detected")

	out, err := finish(d, "show run", "hostname R1\n", hints)
	require.NoError(t, err)
	assert.Equal(t, "hostname R1\n", out)
}

func TestProfileFor(t *testing.T) {
	assert.Equal(t, []string{"screen-length 0 temporary"}, profileFor("huawei_ce", nil).pagingCmds)
	assert.Equal(t, []string{"screen-length disable"}, profileFor("h3c_s", nil).pagingCmds)
	assert.Equal(t, []string{"terminal length 0"}, profileFor("cisco_ios", []string{"terminal length 0"}).pagingCmds)
	assert.Empty(t, profileFor("linux", []string{"terminal length 0"}).pagingCmds)
}

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

func startTelnetDevice(t *testing.T, config string) *model.Device {
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
		r := bufio.NewReader(conn)
		conn.Write([]byte("Username: "))
		if !waitFor(r, "\r\n") {
			return
		}
		conn.Write([]byte("Password: "))
		if !waitFor(r, "\r\n") {
			return
		}
		conn.Write([]byte("\r\nSW1#"))
		if !waitFor(r, "terminal length 0\r\n") {
			return
		}
		conn.Write([]byte("terminal length 0\r\nSW1#"))
		if !waitFor(r, "show running-config\r\n") {
			return
		}
		conn.Write([]byte("show running-config\r\n" + strings.ReplaceAll(config, "\n", "\r\n") + "SW1#"))
		waitFor(r, "exit")
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &model.Device{
		Hostname:   "sw1",
		IPAddress:  host,
		Port:       port,
		Protocol:   model.ProtocolTelnet,
		Username:   "admin",
		Password:   "secret",
		DeviceType: model.DefaultDeviceType,
		IsActive:   true,
	}
}

func TestTelnetFetch(t *testing.T) {
	cfg := config.Default()
	device := startTelnetDevice(t, "hostname SW1\n!\nvlan 10\n name users\nend\n")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := NewRouter(cfg).Fetch(ctx, device, "show running-config")
	require.NoError(t, err)
	assert.Equal(t, "hostname SW1\n!\nvlan 10\n name users\nend\n", out)
}

func TestTelnetUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	cfg := config.Default()
	cfg.SSH.ConnectTimeout = time.Second
	device := &model.Device{IPAddress: "127.0.0.1", Port: addr.Port, Protocol: model.ProtocolTelnet}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = NewRouter(cfg).Fetch(ctx, device, "show running-config")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindUnreachable))
}
