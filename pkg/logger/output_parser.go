package logger

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// OutputPreview 配置输出的头尾预览
type OutputPreview struct {
	Head  []string `json:"head"`
	Tail  []string `json:"tail"`
	Lines int      `json:"lines"`
}

// PreviewOutput 提取输出的前后各 maxLines 行；总行数不超过 maxLines 时 Tail 为空
func PreviewOutput(output string, maxLines int) OutputPreview {
	if maxLines <= 0 {
		maxLines = 5
	}
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return OutputPreview{}
	}
	lines := strings.Split(output, "\n")
	p := OutputPreview{Lines: len(lines)}
	if len(lines) <= maxLines {
		p.Head = append([]string(nil), lines...)
		return p
	}
	p.Head = append([]string(nil), lines[:maxLines]...)
	tailStart := len(lines) - maxLines
	if tailStart < maxLines {
		tailStart = maxLines
	}
	p.Tail = append([]string(nil), lines[tailStart:]...)
	return p
}

// String 用于日志记录
func (p OutputPreview) String() string {
	if p.Lines == 0 {
		return "<empty>"
	}
	var b strings.Builder
	b.WriteString("head: [")
	b.WriteString(strings.Join(p.Head, " ⟩ "))
	b.WriteString("]")
	if len(p.Tail) > 0 {
		b.WriteString(", tail: [")
		b.WriteString(strings.Join(p.Tail, " ⟩ "))
		b.WriteString("]")
	}
	return b.String()
}

// DebugOutput 在 debug 级别记录设备输出的头尾行
func DebugOutput(device, command, output string, maxLines int) {
	if GetLogger().Level < logrus.DebugLevel {
		return
	}
	p := PreviewOutput(output, maxLines)
	Debug("Device output", "device", device, "command", command, "lines", p.Lines, "preview", p.String())
}
