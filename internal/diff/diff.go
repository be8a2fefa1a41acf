// Package diff 按行比较两份配置文本，输出变更统计与统一 diff。
package diff

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sshcollectorpro/confbackup/internal/config"
)

// 变更行类型
const (
	ChangeAdded   = "added"
	ChangeRemoved = "removed"
	ChangeContext = "context"
)

// DefaultContextLines 统一 diff 默认上下文行数
const DefaultContextLines = 3

// ErrTooLarge 内容超出比较上限
var ErrTooLarge = errors.New("content exceeds comparison limits")

// Summary 变更统计
// total_changes 为配对前的新增与删除行之和；同一变更段内的删除/新增按 min(删除, 新增) 配对为修改
type Summary struct {
	TotalChanges  int  `json:"total_changes"`
	AddedLines    int  `json:"added_lines"`
	RemovedLines  int  `json:"removed_lines"`
	ModifiedLines int  `json:"modified_lines"`
	HasChanges    bool `json:"has_changes"`
}

// Change hunk 中的一行
type Change struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Block 一个 hunk
type Block struct {
	Header  string   `json:"header"`
	Changes []Change `json:"changes"`
}

// Result 比较结果
type Result struct {
	Summary Summary `json:"summary"`
	Blocks  []Block `json:"diff_blocks"`
	RawDiff string  `json:"raw_diff"`
}

// Options 比较选项
type Options struct {
	IgnoreWhitespace bool
	IgnoreCase       bool
	// ContextLines 为 0 时使用引擎默认值
	ContextLines int
	FromLabel    string
	ToLabel      string
}

// Limits 比较上限，0 表示不限制
type Limits struct {
	MaxBytes int64
	MaxLines int
}

// Engine 差异比较引擎
type Engine struct {
	mu           sync.RWMutex
	limits       Limits
	contextLines int
}

// NewEngine 按配置创建引擎
func NewEngine(cfg config.DiffConfig) *Engine {
	e := &Engine{}
	e.Configure(cfg)
	return e
}

// Configure 更新上限与上下文行数（配置热更新时调用）
func (e *Engine) Configure(cfg config.DiffConfig) {
	ctx := cfg.ContextLines
	if ctx <= 0 {
		ctx = DefaultContextLines
	}
	e.mu.Lock()
	e.limits = Limits{MaxBytes: cfg.MaxBytes, MaxLines: cfg.MaxLines}
	e.contextLines = ctx
	e.mu.Unlock()
}

// Limits 当前上限
func (e *Engine) Limits() Limits {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.limits
}

// Check 校验单份内容是否可比较
func (e *Engine) Check(content string) error {
	limits := e.Limits()
	if limits.MaxBytes > 0 && int64(len(content)) > limits.MaxBytes {
		return fmt.Errorf("%w: %d bytes > %d", ErrTooLarge, len(content), limits.MaxBytes)
	}
	if limits.MaxLines > 0 {
		if n := LineCount(content); n > limits.MaxLines {
			return fmt.Errorf("%w: %d lines > %d", ErrTooLarge, n, limits.MaxLines)
		}
	}
	return nil
}

// Compare 比较 from 与 to；超出上限时返回 ErrTooLarge，不做截断
func (e *Engine) Compare(from, to string, opts Options) (*Result, error) {
	if err := e.Check(from); err != nil {
		return nil, err
	}
	if err := e.Check(to); err != nil {
		return nil, err
	}

	e.mu.RLock()
	n := e.contextLines
	e.mu.RUnlock()
	if opts.ContextLines > 0 {
		n = opts.ContextLines
	}
	if opts.FromLabel == "" {
		opts.FromLabel = "a"
	}
	if opts.ToLabel == "" {
		opts.ToLabel = "b"
	}

	a, b := splitLines(from), splitLines(to)
	ra, rb := encode(a, b, opts)
	ops := align(ra, rb)

	res := &Result{Summary: summarize(ops)}
	res.Blocks, res.RawDiff = render(a, b, ops, n, opts.FromLabel, opts.ToLabel)
	return res, nil
}

// summarize 按连续变更段统计；每段内 min(删除, 新增) 计为修改
func summarize(ops []op) Summary {
	var s Summary
	dels, ins := 0, 0
	flush := func() {
		m := min(dels, ins)
		s.ModifiedLines += m
		s.RemovedLines += dels - m
		s.AddedLines += ins - m
		s.TotalChanges += dels + ins
		dels, ins = 0, 0
	}
	for _, o := range ops {
		switch o.kind {
		case opDelete:
			dels++
		case opInsert:
			ins++
		default:
			flush()
		}
	}
	flush()
	s.HasChanges = s.TotalChanges > 0
	return s
}

// LineCount 行数（末行无换行也计一行）
func LineCount(s string) int {
	return len(splitLines(s))
}
