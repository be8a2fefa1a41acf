package prompt

import (
	"context"
	"io"
	"strings"
)

type chunk struct {
	data []byte
	err  error
}

// Expecter 从会话输出中持续读取，直到满足匹配条件
type Expecter struct {
	ch   chan chunk
	done chan struct{}
	buf  strings.Builder
	err  error
}

// NewExpecter 启动后台读取协程；读取在 r 返回错误（含连接关闭）时结束
func NewExpecter(r io.Reader) *Expecter {
	e := &Expecter{ch: make(chan chunk, 64), done: make(chan struct{})}
	go func() {
		defer close(e.ch)
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				if !e.send(chunk{data: data}) {
					return
				}
			}
			if err != nil {
				e.send(chunk{err: err})
				return
			}
		}
	}()
	return e
}

func (e *Expecter) send(c chunk) bool {
	select {
	case e.ch <- c:
		return true
	case <-e.done:
		return false
	}
}

// Close 停止向缓冲推送；底层连接需由调用方关闭
func (e *Expecter) Close() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

// Expect 读取直到 match 返回 true，返回并清空累计输出
// 读取结束（EOF 等）时返回已读内容与该错误
func (e *Expecter) Expect(ctx context.Context, match func(output string) bool) (string, error) {
	for {
		if out := e.buf.String(); out != "" && match(out) {
			e.buf.Reset()
			return out, nil
		}
		if e.err != nil {
			out := e.buf.String()
			e.buf.Reset()
			return out, e.err
		}
		select {
		case <-ctx.Done():
			// 超时不清空缓冲，后续 Expect 可继续匹配
			return e.buf.String(), ctx.Err()
		case c, ok := <-e.ch:
			if !ok {
				e.err = io.EOF
				continue
			}
			if c.err != nil {
				e.err = c.err
				continue
			}
			e.buf.Write(c.data)
		}
	}
}

// Drain 丢弃当前已缓冲的输出
func (e *Expecter) Drain() {
	for {
		select {
		case c, ok := <-e.ch:
			if !ok {
				return
			}
			if c.err != nil {
				e.err = c.err
				return
			}
		default:
			e.buf.Reset()
			return
		}
	}
}
