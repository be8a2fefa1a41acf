package connector

import (
	"context"
	"strings"

	"github.com/sshcollectorpro/confbackup/internal/config"
	"github.com/sshcollectorpro/confbackup/internal/model"
	"github.com/sshcollectorpro/confbackup/pkg/telnet"
)

// TelnetConnector 通过 Telnet 拉取配置
type TelnetConnector struct {
	sshCfg     config.SSHConfig
	cfg        config.TelnetConfig
	errorHints []string
}

// NewTelnet 创建 Telnet 连接器；连接超时与提示符后缀沿用 SSH 配置
func NewTelnet(sshCfg config.SSHConfig, cfg config.TelnetConfig, errorHints []string) *TelnetConnector {
	return &TelnetConnector{sshCfg: sshCfg, cfg: cfg, errorHints: errorHints}
}

func (c *TelnetConnector) login(ctx context.Context, device *model.Device) (*telnet.Session, error) {
	conn, err := telnet.Dial(ctx, address(device), c.sshCfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	// ctx 结束时关闭连接以打断阻塞读取
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	sess, err := telnet.Login(ctx, conn, telnet.LoginOptions{
		Username:        device.Username,
		Password:        string(device.Password),
		LoginPrompts:    c.cfg.LoginPrompts,
		PasswordPrompts: c.cfg.PasswordPrompts,
		PromptSuffixes:  c.sshCfg.PromptSuffixes,
	})
	if err != nil {
		stop()
		return nil, err
	}
	return sess, nil
}

// Fetch 拉取配置
func (c *TelnetConnector) Fetch(ctx context.Context, device *model.Device, command string) (string, error) {
	addr := address(device)
	sess, err := c.login(ctx, device)
	if err != nil {
		return "", Classify(ctx, addr, err)
	}
	defer sess.Close()

	if strings.TrimSpace(string(device.EnablePassword)) != "" {
		if err := sess.Enable(ctx, string(device.EnablePassword)); err != nil {
			return "", Classify(ctx, addr, err)
		}
	}
	profile := profileFor(device.DeviceType, c.sshCfg.DisablePagingCmds)
	for _, pc := range profile.pagingCmds {
		if _, err := sess.Run(ctx, pc); err != nil {
			return "", Classify(ctx, addr, err)
		}
	}
	out, err := sess.Run(ctx, command)
	if err != nil {
		return "", Classify(ctx, addr, err)
	}
	_ = sess.SendLine(profile.exitCmd)
	return finish(device, command, out, c.errorHints)
}

// Ping 完成登录即视为可用
func (c *TelnetConnector) Ping(ctx context.Context, device *model.Device) error {
	sess, err := c.login(ctx, device)
	if err != nil {
		return Classify(ctx, address(device), err)
	}
	return sess.Close()
}
