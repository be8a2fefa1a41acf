package connector

import (
	"context"
	"errors"
	"strings"

	"github.com/sshcollectorpro/confbackup/internal/config"
	"github.com/sshcollectorpro/confbackup/internal/model"
	"github.com/sshcollectorpro/confbackup/pkg/logger"
	"github.com/sshcollectorpro/confbackup/pkg/prompt"
	"github.com/sshcollectorpro/confbackup/pkg/ssh"
)

// SSHConnector 通过 SSH 拉取配置：优先 PTY 交互，失败回退 exec
type SSHConnector struct {
	cfg        config.SSHConfig
	errorHints []string
}

// NewSSH 创建 SSH 连接器
func NewSSH(cfg config.SSHConfig, errorHints []string) *SSHConnector {
	return &SSHConnector{cfg: cfg, errorHints: errorHints}
}

func (c *SSHConnector) connect(ctx context.Context, device *model.Device) (*ssh.Client, error) {
	port := device.Port
	if port < 1 || port > 65535 {
		port = 22
	}
	client := ssh.NewClient(&ssh.Config{Timeout: c.cfg.ConnectTimeout, KeepAlive: c.cfg.KeepAliveInterval})
	err := client.Connect(ctx, &ssh.ConnectionInfo{
		Host:     device.Address(),
		Port:     port,
		Username: device.Username,
		Password: string(device.Password),
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Fetch 拉取配置
func (c *SSHConnector) Fetch(ctx context.Context, device *model.Device, command string) (string, error) {
	addr := address(device)
	client, err := c.connect(ctx, device)
	if err != nil {
		return "", Classify(ctx, addr, err)
	}
	defer client.Close()

	out, err := c.interactive(ctx, client, device, command)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, prompt.ErrEnableFailed) {
			return "", Classify(ctx, addr, err)
		}
		// 交互失败时回退 exec 通道
		logger.Warn("SSH interactive session failed, falling back to exec", "device", addr, "error", err)
		res, execErr := client.ExecuteCommand(ctx, command)
		if execErr != nil {
			return "", Classify(ctx, addr, execErr)
		}
		out = prompt.CleanOutput(res.Output, "", nil)
	}
	return finish(device, command, out, c.errorHints)
}

func (c *SSHConnector) interactive(ctx context.Context, client *ssh.Client, device *model.Device, command string) (string, error) {
	shell, err := client.OpenShell(ctx)
	if err != nil {
		return "", err
	}
	defer shell.Close()

	cli := prompt.NewCLI(shell, shell.Expecter, prompt.NewMatcher(c.cfg.PromptSuffixes))
	if _, err := cli.WaitPrompt(ctx); err != nil {
		return "", err
	}
	if strings.TrimSpace(string(device.EnablePassword)) != "" {
		if err := cli.Enable(ctx, string(device.EnablePassword)); err != nil {
			return "", err
		}
	}
	profile := profileFor(device.DeviceType, c.cfg.DisablePagingCmds)
	for _, pc := range profile.pagingCmds {
		if _, err := cli.Run(ctx, pc); err != nil {
			return "", err
		}
	}
	out, err := cli.Run(ctx, command)
	if err != nil {
		return "", err
	}
	_ = shell.SendLine(profile.exitCmd)
	return out, nil
}

// Ping 仅建立连接并完成认证
func (c *SSHConnector) Ping(ctx context.Context, device *model.Device) error {
	client, err := c.connect(ctx, device)
	if err != nil {
		return Classify(ctx, address(device), err)
	}
	defer client.Close()
	if !client.IsConnected() {
		return &Error{Kind: KindUnreachable, Address: address(device), Err: errors.New("connection dropped after login")}
	}
	return nil
}
