// Package prompt 识别网络设备 CLI 提示符并清洗终端输出。
package prompt

import (
	"strings"
)

// DefaultSuffixes 常见设备提示符后缀
var DefaultSuffixes = []string{"#", ">", "]"}

// pagerMarkers 分页提示，命中后需要发送空格继续
var pagerMarkers = []string{"--more--", "---- more ----", "<--- more --->"}

// Sanitize 移除 ANSI 转义序列与不可见控制字符，保留制表符
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	skip := false
	for _, r := range s {
		if skip {
			if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
				skip = false
			}
			continue
		}
		if r == 0x1b {
			skip = true
			continue
		}
		if r < 0x20 && r != '\t' && r != '\n' {
			continue
		}
		if r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LastLine 取最后一行（未以换行结束的部分）
func LastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Matcher 基于后缀的提示符识别；学习到主机名前缀后要求后续提示符包含该前缀
type Matcher struct {
	suffixes []string
	prefix   string
}

// NewMatcher 创建识别器，suffixes 为空时使用默认后缀
func NewMatcher(suffixes []string) *Matcher {
	if len(suffixes) == 0 {
		suffixes = DefaultSuffixes
	}
	return &Matcher{suffixes: suffixes}
}

// IsPrompt 判断一行是否为提示符
func (m *Matcher) IsPrompt(line string) bool {
	s := strings.TrimSpace(Sanitize(line))
	if s == "" || len(s) > 128 {
		return false
	}
	for _, suf := range m.suffixes {
		if strings.HasSuffix(s, suf) {
			// 允许 hostname(config)# 这类模式变化
			if m.prefix != "" && !strings.Contains(s, m.prefix) {
				continue
			}
			return true
		}
	}
	return false
}

// Learn 记录提示符的主机名前缀
func (m *Matcher) Learn(line string) {
	s := strings.TrimSpace(Sanitize(line))
	for _, suf := range m.suffixes {
		if strings.HasSuffix(s, suf) {
			p := strings.TrimSpace(strings.TrimSuffix(s, suf))
			// 去掉 <> [] 等包裹与 (config) 模式后缀
			p = strings.TrimLeft(p, "<[")
			if i := strings.IndexByte(p, '('); i > 0 {
				p = p[:i]
			}
			if p != "" {
				m.prefix = p
			}
			return
		}
	}
}

// Prefix 已学习的主机名前缀
func (m *Matcher) Prefix() string {
	return m.prefix
}

// AtPrompt 输出末尾是否停在提示符
func (m *Matcher) AtPrompt(output string) bool {
	return m.IsPrompt(LastLine(output))
}

// HasPager 输出末尾是否停在分页提示
func HasPager(output string) bool {
	tail := strings.ToLower(strings.TrimSpace(Sanitize(LastLine(output))))
	for _, p := range pagerMarkers {
		if strings.Contains(tail, p) {
			return true
		}
	}
	return false
}

// EndsWithAny 末行（忽略大小写）是否以任一模式结尾
func EndsWithAny(output string, patterns []string) bool {
	tail := strings.ToLower(strings.TrimSpace(Sanitize(LastLine(output))))
	for _, p := range patterns {
		if p != "" && strings.HasSuffix(tail, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// CleanOutput 规范换行、去除控制符与分页残留、剥离命令回显和结尾提示符
func CleanOutput(raw, command string, m *Matcher) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "")
	s = Sanitize(s)
	lines := strings.Split(s, "\n")

	out := make([]string, 0, len(lines))
	echoSeen := command == ""
	for _, ln := range lines {
		if !echoSeen {
			if strings.Contains(ln, strings.TrimSpace(command)) {
				echoSeen = true
				continue
			}
			if strings.TrimSpace(ln) == "" || (m != nil && m.IsPrompt(ln)) {
				continue
			}
			echoSeen = true
		}
		out = append(out, stripPager(ln))
	}
	// 去掉结尾的提示符与空行
	for len(out) > 0 {
		last := strings.TrimSpace(out[len(out)-1])
		if last == "" || (m != nil && m.IsPrompt(last)) {
			out = out[:len(out)-1]
			continue
		}
		break
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}

func stripPager(line string) string {
	lower := strings.ToLower(line)
	removed := false
	for _, p := range pagerMarkers {
		if i := strings.Index(lower, p); i >= 0 {
			line = line[:i] + line[i+len(p):]
			lower = strings.ToLower(line)
			removed = true
		}
	}
	if !removed {
		return line
	}
	// 分页提示被空格覆盖后残留的前导空白
	return strings.TrimLeft(line, " ")
}
