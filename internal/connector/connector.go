// Package connector 按设备协议拉取配置文本。
package connector

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/sshcollectorpro/confbackup/internal/config"
	"github.com/sshcollectorpro/confbackup/internal/model"
	"github.com/sshcollectorpro/confbackup/internal/util"
	"github.com/sshcollectorpro/confbackup/pkg/logger"
)

// Connector 设备配置拉取
type Connector interface {
	// Fetch 执行备份命令并返回 UTF-8 文本；失败时返回 *Error
	Fetch(ctx context.Context, device *model.Device, command string) (string, error)
	// Ping 仅验证连通性与认证
	Ping(ctx context.Context, device *model.Device) error
}

// platformProfile 平台级交互差异
type platformProfile struct {
	pagingCmds []string
	exitCmd    string
}

func profileFor(deviceType string, defaults []string) platformProfile {
	p := strings.ToLower(strings.TrimSpace(deviceType))
	switch {
	case strings.HasPrefix(p, "huawei"):
		return platformProfile{pagingCmds: []string{"screen-length 0 temporary"}, exitCmd: "quit"}
	case strings.HasPrefix(p, "h3c"):
		return platformProfile{pagingCmds: []string{"screen-length disable"}, exitCmd: "quit"}
	case strings.HasPrefix(p, "juniper"):
		return platformProfile{pagingCmds: []string{"set cli screen-length 0"}, exitCmd: "exit"}
	case strings.HasPrefix(p, "linux"):
		return platformProfile{exitCmd: "exit"}
	default:
		return platformProfile{pagingCmds: defaults, exitCmd: "exit"}
	}
}

func address(device *model.Device) string {
	port := device.Port
	if port < 1 || port > 65535 {
		port = model.DefaultPort(device.Protocol)
	}
	return net.JoinHostPort(device.Address(), strconv.Itoa(port))
}

// Router 按设备协议选择连接器
type Router struct {
	ssh    Connector
	telnet Connector
}

// NewRouter 按配置创建 SSH 与 Telnet 连接器
func NewRouter(cfg *config.Config) *Router {
	return &Router{
		ssh:    NewSSH(cfg.SSH, cfg.Backup.ErrorHints),
		telnet: NewTelnet(cfg.SSH, cfg.Telnet, cfg.Backup.ErrorHints),
	}
}

// NewRouterWith 使用指定实现（测试使用）
func NewRouterWith(sshConn, telnetConn Connector) *Router {
	return &Router{ssh: sshConn, telnet: telnetConn}
}

func (r *Router) pick(device *model.Device) (Connector, error) {
	switch strings.ToLower(strings.TrimSpace(device.Protocol)) {
	case "", model.ProtocolSSH:
		return r.ssh, nil
	case model.ProtocolTelnet:
		return r.telnet, nil
	default:
		return nil, &Error{Kind: KindUnreachable, Address: address(device), Err: fmt.Errorf("unsupported protocol %q", device.Protocol)}
	}
}

// Fetch 拉取配置
func (r *Router) Fetch(ctx context.Context, device *model.Device, command string) (string, error) {
	c, err := r.pick(device)
	if err != nil {
		return "", err
	}
	return c.Fetch(ctx, device, command)
}

// Ping 连通性测试
func (r *Router) Ping(ctx context.Context, device *model.Device) error {
	c, err := r.pick(device)
	if err != nil {
		return err
	}
	return c.Ping(ctx, device)
}

// finish 解码、校验并记录输出
func finish(device *model.Device, command, output string, errorHints []string) (string, error) {
	text := util.EnsureUTF8(output)
	if strings.TrimSpace(text) == "" {
		return "", Malformed(address(device), "empty output for %q", command)
	}
	lower := strings.ToLower(text)
	for _, hint := range errorHints {
		if hint != "" && strings.Contains(lower, strings.ToLower(hint)) {
			return "", Malformed(address(device), "device rejected %q: %s", command, firstLineWith(text, hint))
		}
	}
	logger.DebugOutput(device.DisplayName(), command, text, 5)
	return text, nil
}

func firstLineWith(text, hint string) string {
	lh := strings.ToLower(hint)
	for _, ln := range strings.Split(text, "\n") {
		if strings.Contains(strings.ToLower(ln), lh) {
			return strings.TrimSpace(ln)
		}
	}
	return hint
}
