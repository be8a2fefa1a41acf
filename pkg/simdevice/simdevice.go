// Package simdevice 模拟网络设备的 SSH CLI，用于本地联调与测试。
// 登录用户名选择设备，密码与 enable 口令按设备配置校验。
package simdevice

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh"

	"github.com/sshcollectorpro/confbackup/pkg/logger"
)

// Config 模拟器配置
type Config struct {
	Listen      string            `mapstructure:"listen"`
	MaxConn     int               `mapstructure:"max_conn"`
	IdleTimeout time.Duration     `mapstructure:"idle_timeout"`
	Devices     map[string]Device `mapstructure:"devices"`
}

// Device 单台模拟设备
type Device struct {
	Hostname string `mapstructure:"hostname"`
	Password string `mapstructure:"password"`
	// EnableSecret 非空时登录后处于 > 模式，需要 enable
	EnableSecret string `mapstructure:"enable_secret"`
	// PageLines 大于 0 时未关闭分页的输出按页显示 --More--
	PageLines int `mapstructure:"page_lines"`
	// Outputs 命令到输出的映射，命令忽略大小写
	Outputs map[string]string `mapstructure:"outputs"`
}

// 关闭分页的命令
var pagingOff = []string{"terminal length 0", "screen-length 0 temporary", "screen-length disable", "set cli screen-length 0"}

const (
	invalidInput = "% Invalid input detected at '^' marker."
	moreMarker   = " --More-- "
)

// LoadConfig 读取 yaml 配置
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("listen", "127.0.0.1:2222")
	v.SetDefault("idle_timeout", 5*time.Minute)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read simulator config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulator config: %w", err)
	}
	if len(cfg.Devices) == 0 {
		return nil, errors.New("simulator config has no devices")
	}
	return &cfg, nil
}

// Server SSH 模拟服务
type Server struct {
	cfg      Config
	devices  map[string]Device
	listener net.Listener
	srvCfg   *ssh.ServerConfig

	mu     sync.Mutex
	active int
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
}

// Start 监听并开始接受连接
func Start(cfg Config) (*Server, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, err
	}
	listen := cfg.Listen
	if listen == "" {
		listen = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		devices:  make(map[string]Device, len(cfg.Devices)),
		listener: ln,
		conns:    make(map[net.Conn]struct{}),
	}
	for user, d := range cfg.Devices {
		if d.Hostname == "" {
			d.Hostname = user
		}
		s.devices[strings.ToLower(user)] = d
	}
	s.srvCfg = &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return s.authenticate(meta.User(), string(password))
		},
		KeyboardInteractiveCallback: func(meta ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge(meta.User(), "Authentication", []string{"Password:"}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) == 0 {
				return nil, errors.New("access denied")
			}
			return s.authenticate(meta.User(), answers[0])
		},
	}
	s.srvCfg.AddHostKey(signer)

	s.wg.Add(1)
	go s.acceptLoop()
	logger.Info("Device simulator listening", "addr", ln.Addr().String(), "devices", len(s.devices))
	return s, nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Port 实际监听端口
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Stop 关闭监听与所有会话
func (s *Server) Stop() {
	_ = s.listener.Close()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) authenticate(user, password string) (*ssh.Permissions, error) {
	d, ok := s.devices[strings.ToLower(strings.TrimSpace(user))]
	if !ok || d.Password != password {
		logger.Debug("Simulator: auth failed", "user", user)
		return nil, errors.New("access denied")
	}
	return nil, nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return
		}
		s.mu.Lock()
		if s.cfg.MaxConn > 0 && s.active >= s.cfg.MaxConn {
			s.mu.Unlock()
			_ = nc.Close()
			logger.Warn("Simulator: connection rejected, max_conn exceeded", "remote", nc.RemoteAddr().String())
			continue
		}
		s.active++
		s.conns[nc] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConn(c)
			s.mu.Lock()
			s.active--
			delete(s.conns, c)
			s.mu.Unlock()
		}(nc)
	}
}

func (s *Server) handleConn(nc net.Conn) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, s.srvCfg)
	if err != nil {
		logger.Debug("Simulator: handshake failed", "remote", nc.RemoteAddr().String(), "error", err)
		_ = nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	device := s.devices[strings.ToLower(conn.User())]
	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := ch.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(channel, requests, device)
	}
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request, d Device) {
	defer channel.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req", "env", "window-change":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			newShell(channel, d, s.cfg.IdleTimeout).run()
			return
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				return
			}
			_ = req.Reply(true, nil)
			status := uint32(0)
			out, ok := d.output(payload.Command)
			if !ok {
				out, status = invalidInput+"\n", 1
			}
			_, _ = channel.Write([]byte(crlf(out)))
			_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}

func (d Device) output(command string) (string, bool) {
	cmd := strings.ToLower(strings.Join(strings.Fields(command), " "))
	for k, v := range d.Outputs {
		if strings.ToLower(strings.Join(strings.Fields(k), " ")) == cmd {
			return v, true
		}
	}
	return "", false
}

// shell 交互会话状态
type shell struct {
	ch      ssh.Channel
	r       *bufio.Reader
	d       Device
	idle    time.Duration
	suffix  string
	paged   bool
	lastErr error
}

func newShell(ch ssh.Channel, d Device, idle time.Duration) *shell {
	suffix := "#"
	if d.EnableSecret != "" {
		suffix = ">"
	}
	return &shell{ch: ch, r: bufio.NewReader(ch), d: d, idle: idle, suffix: suffix, paged: d.PageLines > 0}
}

func (sh *shell) write(s string) {
	if sh.lastErr == nil {
		_, sh.lastErr = sh.ch.Write([]byte(s))
	}
}

func (sh *shell) prompt() {
	sh.write("\r\n" + sh.d.Hostname + sh.suffix)
}

// readLine 读取一行输入；空闲超时后关闭会话
func (sh *shell) readLine() (string, error) {
	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := sh.r.ReadString('\n')
		done <- result{line, err}
	}()
	if sh.idle <= 0 {
		res := <-done
		return res.line, res.err
	}
	select {
	case res := <-done:
		return res.line, res.err
	case <-time.After(sh.idle):
		sh.write("\r\nSession closed due to idle timeout.\r\n")
		return "", io.EOF
	}
}

func (sh *shell) run() {
	sh.write("Welcome to " + sh.d.Hostname + "\r\n")
	sh.prompt()
	for sh.lastErr == nil {
		line, err := sh.readLine()
		if err != nil && line == "" {
			return
		}
		cmd := strings.TrimSpace(strings.ReplaceAll(line, "\r", ""))
		// 回显
		sh.write(cmd + "\r\n")
		switch {
		case cmd == "":
		case strings.EqualFold(cmd, "exit"), strings.EqualFold(cmd, "quit"):
			return
		case strings.EqualFold(cmd, "enable"):
			sh.enable()
		case isPagingOff(cmd):
			sh.paged = false
		default:
			out, ok := sh.d.output(cmd)
			if !ok {
				out = invalidInput + "\n"
			}
			if !sh.page(crlf(out)) {
				return
			}
		}
		sh.prompt()
	}
}

func (sh *shell) enable() {
	if sh.d.EnableSecret == "" || sh.suffix == "#" {
		return
	}
	sh.write("Password: ")
	pwd, err := sh.readLine()
	if err != nil {
		return
	}
	if strings.TrimSpace(pwd) != sh.d.EnableSecret {
		sh.write("\r\n% Access denied\r\n")
		return
	}
	sh.suffix = "#"
}

// page 分页输出，等待空格继续；会话中断时返回 false
func (sh *shell) page(out string) bool {
	if !sh.paged {
		sh.write(out)
		return true
	}
	lines := strings.SplitAfter(out, "\r\n")
	for i := 0; i < len(lines); i += sh.d.PageLines {
		end := i + sh.d.PageLines
		if end >= len(lines) {
			sh.write(strings.Join(lines[i:], ""))
			return true
		}
		sh.write(strings.Join(lines[i:end], "") + moreMarker)
		b, err := sh.r.ReadByte()
		if err != nil {
			return false
		}
		// 退格清除分页提示
		sh.write(strings.Repeat("\b", len(moreMarker)))
		if b == 'q' {
			return true
		}
	}
	return true
}

func isPagingOff(cmd string) bool {
	c := strings.ToLower(strings.Join(strings.Fields(cmd), " "))
	for _, p := range pagingOff {
		if c == p {
			return true
		}
	}
	return false
}

// crlf 统一为 CRLF 并保证以换行结尾
func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	if !strings.HasSuffix(s, "\r\n") {
		s += "\r\n"
	}
	return s
}
