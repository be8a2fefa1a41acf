package telnet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sshcollectorpro/confbackup/pkg/prompt"
)

// ErrAuth 登录失败
var ErrAuth = errors.New("telnet authentication failed")

// LoginOptions 登录参数
type LoginOptions struct {
	Username        string
	Password        string
	LoginPrompts    []string
	PasswordPrompts []string
	PromptSuffixes  []string
}

// Session 已登录的 Telnet 会话
type Session struct {
	conn *Conn
	exp  *prompt.Expecter
	*prompt.CLI
}

// SendRaw 原样发送
func (s *Session) SendRaw(data string) error {
	_, err := s.conn.Write([]byte(data))
	return err
}

// SendLine 发送一行
func (s *Session) SendLine(line string) error {
	return s.conn.SendLine(line)
}

// Close 关闭会话
func (s *Session) Close() error {
	s.exp.Close()
	return s.conn.Close()
}

// Login 完成用户名/密码交互并等待设备提示符
func Login(ctx context.Context, conn *Conn, opts LoginOptions) (*Session, error) {
	if len(opts.LoginPrompts) == 0 {
		opts.LoginPrompts = []string{"username:", "login:"}
	}
	if len(opts.PasswordPrompts) == 0 {
		opts.PasswordPrompts = []string{"password:"}
	}
	s := &Session{conn: conn, exp: prompt.NewExpecter(conn)}
	m := prompt.NewMatcher(opts.PromptSuffixes)
	s.CLI = prompt.NewCLI(s, s.exp, m)

	isLogin := func(out string) bool { return prompt.EndsWithAny(out, opts.LoginPrompts) }
	isPassword := func(out string) bool { return prompt.EndsWithAny(out, opts.PasswordPrompts) }

	passwordSent := false
	for {
		out, err := s.exp.Expect(ctx, func(out string) bool {
			return isLogin(out) || isPassword(out) || m.AtPrompt(out)
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("telnet login: %w", err)
		}
		switch {
		case isLogin(out):
			// 密码已发送后再次出现用户名提示，说明认证失败
			if passwordSent {
				s.Close()
				return nil, ErrAuth
			}
			if err := s.SendLine(opts.Username); err != nil {
				s.Close()
				return nil, err
			}
		case isPassword(out):
			if passwordSent {
				s.Close()
				return nil, ErrAuth
			}
			passwordSent = true
			if err := s.SendLine(opts.Password); err != nil {
				s.Close()
				return nil, err
			}
		default:
			if failed(out) {
				s.Close()
				return nil, ErrAuth
			}
			s.CLI.Adopt(out)
			return s, nil
		}
	}
}

func failed(out string) bool {
	lower := strings.ToLower(out)
	for _, hint := range []string{"login invalid", "authentication failed", "access denied", "login incorrect"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
