package diff

import (
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type opKind int8

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

// op 一行的对齐结果；a/b 为两侧行号（不适用的一侧为 -1）
type op struct {
	kind opKind
	a    int
	b    int
}

// line 一行内容；eol 标识该行是否以换行结束
type line struct {
	text string
	eol  bool
}

// splitLines 按 \n 切分，保留每行是否有换行符
func splitLines(s string) []line {
	if s == "" {
		return nil
	}
	parts := strings.SplitAfter(s, "\n")
	lines := make([]line, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "\n") {
			lines = append(lines, line{text: p[:len(p)-1], eol: true})
		} else {
			lines = append(lines, line{text: p, eol: false})
		}
	}
	return lines
}

// key 比较用的归一化键
func (o Options) key(l line) string {
	s := l.text
	if o.IgnoreCase {
		s = strings.ToLower(s)
	}
	if o.IgnoreWhitespace {
		// 空白折叠后比较，行尾换行差异一并忽略
		return strings.Join(strings.Fields(s), " ")
	}
	if l.eol {
		return s + "\n"
	}
	return s
}

// lineRune 将行 ID 映射为合法 rune，避开代理区
func lineRune(id int) rune {
	r := rune(id)
	if r >= 0xD800 {
		r += 0x800
	}
	return r
}

// encode 为两侧的每行分配共享 ID；ID 按两侧键的并集排序分配，与参数顺序无关
func encode(a, b []line, opts Options) ([]rune, []rune) {
	keysA, keysB := keys(a, opts), keys(b, opts)
	ids := make(map[string]int, len(keysA)+len(keysB))
	for _, k := range keysA {
		ids[k] = 0
	}
	for _, k := range keysB {
		ids[k] = 0
	}
	union := make([]string, 0, len(ids))
	for k := range ids {
		union = append(union, k)
	}
	sort.Strings(union)
	for i, k := range union {
		ids[k] = i
	}
	conv := func(ks []string) []rune {
		out := make([]rune, len(ks))
		for i, k := range ks {
			out[i] = lineRune(ids[k])
		}
		return out
	}
	return conv(keysA), conv(keysB)
}

func keys(lines []line, opts Options) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = opts.key(l)
	}
	return out
}

// lessRunes 字典序比较，用于确定规范方向
func lessRunes(x, y []rune) bool {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	for i := 0; i < n; i++ {
		if x[i] != y[i] {
			return x[i] < y[i]
		}
	}
	return len(x) < len(y)
}

// align 计算最长公共子序列对齐；结果与参数顺序无关（交换后删除/新增互换）
func align(ra, rb []rune) []op {
	if lessRunes(rb, ra) {
		return mirror(myers(rb, ra))
	}
	return myers(ra, rb)
}

func myers(ra, rb []rune) []op {
	dmp := diffmatchpatch.New()
	// 不设超时，保证结果为最优对齐
	dmp.DiffTimeout = 0

	ops := make([]op, 0, len(ra)+len(rb))
	i, j := 0, 0
	for _, d := range dmp.DiffMainRunes(ra, rb, false) {
		n := len([]rune(d.Text))
		for k := 0; k < n; k++ {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, op{kind: opEqual, a: i, b: j})
				i++
				j++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, op{kind: opDelete, a: i, b: -1})
				i++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, op{kind: opInsert, a: -1, b: j})
				j++
			}
		}
	}
	return normalizeRuns(ops)
}

func mirror(ops []op) []op {
	out := make([]op, len(ops))
	for i, o := range ops {
		switch o.kind {
		case opDelete:
			out[i] = op{kind: opInsert, a: -1, b: o.a}
		case opInsert:
			out[i] = op{kind: opDelete, a: o.b, b: -1}
		default:
			out[i] = op{kind: opEqual, a: o.b, b: o.a}
		}
	}
	return normalizeRuns(out)
}

// normalizeRuns 连续变更段内统一为先删除后新增
func normalizeRuns(ops []op) []op {
	out := make([]op, 0, len(ops))
	for i := 0; i < len(ops); {
		if ops[i].kind == opEqual {
			out = append(out, ops[i])
			i++
			continue
		}
		j := i
		for j < len(ops) && ops[j].kind != opEqual {
			j++
		}
		for _, o := range ops[i:j] {
			if o.kind == opDelete {
				out = append(out, o)
			}
		}
		for _, o := range ops[i:j] {
			if o.kind == opInsert {
				out = append(out, o)
			}
		}
		i = j
	}
	return out
}
