package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEnableFailed 进入特权模式失败
var ErrEnableFailed = errors.New("enable failed")

// Sender 向会话写入
type Sender interface {
	SendLine(line string) error
	SendRaw(data string) error
}

// CLI 基于提示符的命令交互
type CLI struct {
	tx  Sender
	exp *Expecter
	m   *Matcher
	// lastPrompt 最近一次看到的提示符
	lastPrompt string
	// TriggerInterval 等待首个提示符时发送回车的间隔
	TriggerInterval time.Duration
}

// NewCLI 创建交互驱动
func NewCLI(tx Sender, exp *Expecter, m *Matcher) *CLI {
	return &CLI{tx: tx, exp: exp, m: m, TriggerInterval: time.Second}
}

// Matcher 提示符识别器
func (c *CLI) Matcher() *Matcher {
	return c.m
}

// WaitPrompt 等待首个提示符并学习主机名前缀；期间周期性发送回车诱发提示符
func (c *CLI) WaitPrompt(ctx context.Context) (string, error) {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, c.TriggerInterval)
		out, err := c.exp.Expect(waitCtx, c.m.AtPrompt)
		cancel()
		if err == nil {
			c.m.Learn(LastLine(out))
			c.lastPrompt = strings.TrimSpace(Sanitize(LastLine(out)))
			return out, nil
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return out, err
		}
		if err := c.tx.SendLine(""); err != nil {
			return out, err
		}
	}
}

// Adopt 以已读到的输出作为当前提示符（登录流程已等到提示符时使用）
func (c *CLI) Adopt(out string) {
	last := LastLine(out)
	c.m.Learn(last)
	c.lastPrompt = strings.TrimSpace(Sanitize(last))
}

// Run 执行命令并返回清洗后的输出；遇到分页提示自动发送空格
func (c *CLI) Run(ctx context.Context, command string) (string, error) {
	if err := c.tx.SendLine(command); err != nil {
		return "", err
	}
	var acc strings.Builder
	for {
		out, err := c.exp.Expect(ctx, func(s string) bool {
			return HasPager(s) || c.m.AtPrompt(s)
		})
		acc.WriteString(out)
		if err != nil {
			return CleanOutput(acc.String(), command, c.m), err
		}
		if HasPager(out) {
			if err := c.tx.SendRaw(" "); err != nil {
				return "", err
			}
			continue
		}
		return CleanOutput(acc.String(), command, c.m), nil
	}
}

// Enable 进入特权模式；已处于 # 提示符时直接返回
func (c *CLI) Enable(ctx context.Context, password string) error {
	if strings.HasSuffix(c.lastPrompt, "#") {
		return nil
	}
	if err := c.tx.SendLine("enable"); err != nil {
		return err
	}
	out, err := c.exp.Expect(ctx, func(s string) bool {
		return EndsWithAny(s, []string{"password:"}) || c.m.AtPrompt(s)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEnableFailed, err)
	}
	if EndsWithAny(out, []string{"password:"}) {
		if err := c.tx.SendLine(password); err != nil {
			return err
		}
		out, err = c.exp.Expect(ctx, func(s string) bool {
			return EndsWithAny(s, []string{"password:"}) || c.m.AtPrompt(s)
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEnableFailed, err)
		}
	}
	last := strings.TrimSpace(Sanitize(LastLine(out)))
	if !strings.HasSuffix(last, "#") {
		return fmt.Errorf("%w: prompt %q", ErrEnableFailed, last)
	}
	c.lastPrompt = last
	return nil
}
