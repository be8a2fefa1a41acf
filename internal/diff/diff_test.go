package diff

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/sshcollectorpro/confbackup/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine() *Engine {
	return NewEngine(config.DiffConfig{ContextLines: 3, MaxBytes: 1024 * 1024, MaxLines: 10000})
}

func TestCompareModifiedLine(t *testing.T) {
	res, err := newEngine().Compare("a\nb\nc\n", "a\nx\nc\n", Options{FromLabel: "old", ToLabel: "new"})
	require.NoError(t, err)

	assert.Equal(t, Summary{TotalChanges: 2, ModifiedLines: 1, HasChanges: true}, res.Summary)
	assert.Equal(t, strings.Join([]string{
		"--- old",
		"+++ new",
		"@@ -1,3 +1,3 @@",
		" a",
		"-b",
		"+x",
		" c",
	}, "\n")+"\n", res.RawDiff)

	require.Len(t, res.Blocks, 1)
	assert.Equal(t, "@@ -1,3 +1,3 @@", res.Blocks[0].Header)
	assert.Equal(t, []Change{
		{Type: ChangeContext, Content: "a"},
		{Type: ChangeRemoved, Content: "b"},
		{Type: ChangeAdded, Content: "x"},
		{Type: ChangeContext, Content: "c"},
	}, res.Blocks[0].Changes)
}

func TestCompareSelfIsNoop(t *testing.T) {
	content := "hostname R1\n!\ninterface Gi0/1\n ip address 10.0.0.1 255.255.255.0\n"
	res, err := newEngine().Compare(content, content, Options{})
	require.NoError(t, err)
	assert.False(t, res.Summary.HasChanges)
	assert.Zero(t, res.Summary.TotalChanges)
	assert.Empty(t, res.RawDiff)
	assert.NotNil(t, res.Blocks)
	assert.Empty(t, res.Blocks)
}

func TestCompareEmptyInputs(t *testing.T) {
	res, err := newEngine().Compare("", "", Options{})
	require.NoError(t, err)
	assert.False(t, res.Summary.HasChanges)

	res, err = newEngine().Compare("", "x\n", Options{})
	require.NoError(t, err)
	assert.Equal(t, Summary{TotalChanges: 1, AddedLines: 1, HasChanges: true}, res.Summary)
	assert.Contains(t, res.RawDiff, "@@ -0,0 +1 @@\n+x")
}

func TestCompareSymmetry(t *testing.T) {
	cases := [][2]string{
		{"a\nb\nc\n", "a\nx\nc\n"},
		{"a\nb\nc\nd\ne\n", "b\nc\ne\nf\n"},
		{"1\n2\n3\n", "3\n2\n1\n"},
		{"x\ny\nx\ny\nx\n", "y\nx\ny\n"},
		{"", "only\nnew\n"},
		{"a\nb", "a\nb\n"},
		{"a\nb\nc\n", "a\nx\ny\nz\nc\n"},
		{"d\nd\nd\nb\nc\nb\na\na\na\nc\nd\n", "b\na\nc\nd\nb\nb\nc\nd\nc\na\nc\nd\n"},
	}
	e := newEngine()
	for i, c := range cases {
		t.Run(fmt.Sprintf("case%d", i), func(t *testing.T) {
			ab, err := e.Compare(c[0], c[1], Options{})
			require.NoError(t, err)
			ba, err := e.Compare(c[1], c[0], Options{})
			require.NoError(t, err)

			assert.Equal(t, ab.Summary.TotalChanges, ba.Summary.TotalChanges)
			assert.Equal(t, ab.Summary.AddedLines, ba.Summary.RemovedLines)
			assert.Equal(t, ab.Summary.RemovedLines, ba.Summary.AddedLines)
			assert.Equal(t, ab.Summary.ModifiedLines, ba.Summary.ModifiedLines)
			assert.GreaterOrEqual(t, ab.Summary.TotalChanges, ab.Summary.ModifiedLines)
		})
	}
}

func TestCompareDeterministic(t *testing.T) {
	a := "a\nb\nc\nd\ne\nf\n"
	b := "a\nc\nb\nd\nf\ne\n"
	first, err := newEngine().Compare(a, b, Options{})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := newEngine().Compare(a, b, Options{})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCompareModifiedPairing(t *testing.T) {
	res, err := newEngine().Compare("a\nb\nc\n", "a\nx\ny\nz\nc\n", Options{})
	require.NoError(t, err)
	assert.Equal(t, Summary{TotalChanges: 4, AddedLines: 2, ModifiedLines: 1, HasChanges: true}, res.Summary)
}

func TestCompareNoNewlineAtEOF(t *testing.T) {
	res, err := newEngine().Compare("a\nb", "a\nb\n", Options{FromLabel: "old", ToLabel: "new"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.ModifiedLines)
	assert.Equal(t, strings.Join([]string{
		"--- old",
		"+++ new",
		"@@ -1,2 +1,2 @@",
		" a",
		"-b",
		`\ No newline at end of file`,
		"+b",
	}, "\n")+"\n", res.RawDiff)
}

func TestCompareSplitsHunks(t *testing.T) {
	var a, b []string
	for i := 1; i <= 20; i++ {
		a = append(a, fmt.Sprintf("l%d", i))
		switch i {
		case 2:
			b = append(b, "X")
		case 18:
			b = append(b, "Y")
		default:
			b = append(b, fmt.Sprintf("l%d", i))
		}
	}
	res, err := newEngine().Compare(strings.Join(a, "\n")+"\n", strings.Join(b, "\n")+"\n", Options{})
	require.NoError(t, err)
	require.Len(t, res.Blocks, 2)
	assert.Equal(t, "@@ -1,5 +1,5 @@", res.Blocks[0].Header)
	assert.Equal(t, "@@ -15,6 +15,6 @@", res.Blocks[1].Header)
	assert.Equal(t, 2, res.Summary.ModifiedLines)

	res, err = newEngine().Compare(strings.Join(a, "\n")+"\n", strings.Join(b, "\n")+"\n", Options{ContextLines: 1})
	require.NoError(t, err)
	assert.Equal(t, "@@ -1,3 +1,3 @@", res.Blocks[0].Header)
	assert.Equal(t, "@@ -17,3 +17,3 @@", res.Blocks[1].Header)
}

func TestCompareIgnoreOptions(t *testing.T) {
	e := newEngine()
	res, err := e.Compare("interface  Gi0/1\n", "interface Gi0/1 \n", Options{IgnoreWhitespace: true})
	require.NoError(t, err)
	assert.False(t, res.Summary.HasChanges)

	res, err = e.Compare("Hostname R1\n", "hostname r1\n", Options{IgnoreCase: true})
	require.NoError(t, err)
	assert.False(t, res.Summary.HasChanges)

	res, err = e.Compare("Hostname R1\n", "hostname r1\n", Options{})
	require.NoError(t, err)
	assert.True(t, res.Summary.HasChanges)
}

func TestCompareLimits(t *testing.T) {
	e := NewEngine(config.DiffConfig{MaxBytes: 10, MaxLines: 2})

	_, err := e.Compare("0123456789A", "x\n", Options{})
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = e.Compare("a\n", "a\nb\nc\n", Options{})
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = e.Compare("a\n", "a\nb\n", Options{})
	assert.NoError(t, err)

	e.Configure(config.DiffConfig{})
	_, err = e.Compare("0123456789A", "a\nb\nc\n", Options{})
	assert.NoError(t, err)
}

func TestFormatRange(t *testing.T) {
	assert.Equal(t, "1", formatRange(0, 1))
	assert.Equal(t, "1,3", formatRange(0, 3))
	assert.Equal(t, "0,0", formatRange(0, 0))
	assert.Equal(t, "4,0", formatRange(4, 4))
}

func TestLineRuneSkipsSurrogates(t *testing.T) {
	assert.Equal(t, rune(0xD7FF), lineRune(0xD7FF))
	assert.Equal(t, rune(0xE000), lineRune(0xD800))
	r := lineRune(0xDFFF)
	assert.Equal(t, []rune(string(r))[0], r)
}

func TestLineCount(t *testing.T) {
	assert.Equal(t, 0, LineCount(""))
	assert.Equal(t, 2, LineCount("a\nb\n"))
	assert.Equal(t, 2, LineCount("a\nb"))
}

// lcsLength 动态规划求最长公共子序列长度
func lcsLength(a, b []string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func randomLines(r *rand.Rand, alphabet string) []string {
	n := r.IntN(14)
	out := make([]string, n)
	for i := range out {
		out[i] = string(alphabet[r.IntN(len(alphabet))])
	}
	return out
}

func TestCompareRandomizedSymmetryAndOptimality(t *testing.T) {
	e := newEngine()
	r := rand.New(rand.NewPCG(20261019, 7))
	for i := 0; i < 3000; i++ {
		alphabet := "abcd"
		if i%2 == 1 {
			alphabet = "ab"
		}
		a, b := randomLines(r, alphabet), randomLines(r, alphabet)
		from, to := joinLines(a), joinLines(b)

		ab, err := e.Compare(from, to, Options{})
		require.NoError(t, err)
		ba, err := e.Compare(to, from, Options{})
		require.NoError(t, err)

		lcs := lcsLength(a, b)
		msg := fmt.Sprintf("a=%q b=%q", a, b)
		require.Equal(t, len(a)+len(b)-2*lcs, ab.Summary.TotalChanges, msg)
		require.Equal(t, len(a)-lcs, ab.Summary.RemovedLines+ab.Summary.ModifiedLines, msg)
		require.Equal(t, len(b)-lcs, ab.Summary.AddedLines+ab.Summary.ModifiedLines, msg)

		require.Equal(t, ab.Summary.TotalChanges, ba.Summary.TotalChanges, msg)
		require.Equal(t, ab.Summary.AddedLines, ba.Summary.RemovedLines, msg)
		require.Equal(t, ab.Summary.RemovedLines, ba.Summary.AddedLines, msg)
		require.Equal(t, ab.Summary.ModifiedLines, ba.Summary.ModifiedLines, msg)
	}
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
