package diff

import (
	"fmt"
	"strings"
)

const noNewlineMarker = `\ No newline at end of file`

// opcode 一段连续的相同或变更区间，[i1,i2) 对应旧内容，[j1,j2) 对应新内容
type opcode struct {
	equal          bool
	i1, i2, j1, j2 int
}

// opcodes 将逐行对齐压缩为区间
func opcodes(ops []op, na, nb int) []opcode {
	var codes []opcode
	i, j := 0, 0
	for k := 0; k < len(ops); {
		if ops[k].kind == opEqual {
			start := k
			for k < len(ops) && ops[k].kind == opEqual {
				k++
			}
			n := k - start
			codes = append(codes, opcode{equal: true, i1: i, i2: i + n, j1: j, j2: j + n})
			i += n
			j += n
			continue
		}
		dels, ins := 0, 0
		for k < len(ops) && ops[k].kind != opEqual {
			if ops[k].kind == opDelete {
				dels++
			} else {
				ins++
			}
			k++
		}
		codes = append(codes, opcode{i1: i, i2: i + dels, j1: j, j2: j + ins})
		i += dels
		j += ins
	}
	if len(codes) == 0 {
		codes = []opcode{{equal: true, i1: 0, i2: min(1, na), j1: 0, j2: min(1, nb)}}
	}
	return codes
}

// groupOpcodes 按上下文行数切分为 hunk
func groupOpcodes(codes []opcode, n int) [][]opcode {
	codes = append([]opcode(nil), codes...)
	if first := &codes[0]; first.equal {
		first.i1 = max(first.i1, first.i2-n)
		first.j1 = max(first.j1, first.j2-n)
	}
	if last := &codes[len(codes)-1]; last.equal {
		last.i2 = min(last.i2, last.i1+n)
		last.j2 = min(last.j2, last.j1+n)
	}

	var groups [][]opcode
	var group []opcode
	nn := n + n
	for _, c := range codes {
		if c.equal && c.i2-c.i1 > nn {
			group = append(group, opcode{equal: true, i1: c.i1, i2: min(c.i2, c.i1+n), j1: c.j1, j2: min(c.j2, c.j1+n)})
			groups = append(groups, group)
			group = nil
			c.i1 = max(c.i1, c.i2-n)
			c.j1 = max(c.j1, c.j2-n)
		}
		group = append(group, c)
	}
	if len(group) > 0 && !(len(group) == 1 && group[0].equal) {
		groups = append(groups, group)
	}
	return groups
}

// formatRange 统一 diff 的区间格式：单行只写起始行，空区间写 start-1,0
func formatRange(start, stop int) string {
	beginning := start + 1
	length := stop - start
	if length == 1 {
		return fmt.Sprintf("%d", beginning)
	}
	if length == 0 {
		beginning--
	}
	return fmt.Sprintf("%d,%d", beginning, length)
}

// render 生成 diff 块与统一 diff 文本
func render(a, b []line, ops []op, n int, fromLabel, toLabel string) ([]Block, string) {
	groups := groupOpcodes(opcodes(ops, len(a), len(b)), n)
	if len(groups) == 0 {
		return []Block{}, ""
	}

	out := []string{"--- " + fromLabel, "+++ " + toLabel}
	blocks := make([]Block, 0, len(groups))

	emit := func(blk *Block, prefix byte, typ string, l line) {
		out = append(out, string(prefix)+l.text)
		if !l.eol {
			out = append(out, noNewlineMarker)
		}
		blk.Changes = append(blk.Changes, Change{Type: typ, Content: l.text})
	}

	for _, g := range groups {
		first, last := g[0], g[len(g)-1]
		header := fmt.Sprintf("@@ -%s +%s @@", formatRange(first.i1, last.i2), formatRange(first.j1, last.j2))
		out = append(out, header)
		blk := Block{Header: header, Changes: make([]Change, 0)}
		for _, c := range g {
			if c.equal {
				for i := c.i1; i < c.i2; i++ {
					emit(&blk, ' ', ChangeContext, a[i])
				}
				continue
			}
			for i := c.i1; i < c.i2; i++ {
				emit(&blk, '-', ChangeRemoved, a[i])
			}
			for j := c.j1; j < c.j2; j++ {
				emit(&blk, '+', ChangeAdded, b[j])
			}
		}
		blocks = append(blocks, blk)
	}
	return blocks, strings.Join(out, "\n") + "\n"
}
