package util

import (
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

type namedEncoding struct {
	name string
	enc  encoding.Encoding
}

// 设备输出常见的遗留编码，按优先级排列
var legacyEncodings = []namedEncoding{
	{"gb18030", simplifiedchinese.GB18030},
	{"gbk", simplifiedchinese.GBK},
	{"hz-gb-2312", simplifiedchinese.HZGB2312},
	{"big5", traditionalchinese.Big5},
	{"windows-1252", charmap.Windows1252},
	{"iso-8859-1", charmap.ISO8859_1},
	{"macintosh", charmap.Macintosh},
}

// EnsureUTF8Bytes 将设备输出转换为 UTF-8 字符串；已是合法 UTF-8 时原样返回
func EnsureUTF8Bytes(b []byte) string {
	s, _ := DecodeText(b)
	return s
}

// EnsureUTF8 对可能乱码的字符串按字节重新解码
func EnsureUTF8(s string) string {
	return EnsureUTF8Bytes([]byte(s))
}

// DecodeText 返回解码后的文本及识别出的编码名称
func DecodeText(b []byte) (string, string) {
	if len(b) == 0 {
		return "", "utf-8"
	}
	if utf8.Valid(b) {
		return string(b), "utf-8"
	}
	for _, ne := range legacyEncodings {
		if s, ok := tryDecode(ne.enc, b); ok {
			return s, ne.name
		}
	}
	// 兜底：按原始字节返回
	return string(b), "binary"
}

func tryDecode(enc encoding.Encoding, b []byte) (string, bool) {
	reader := transform.NewReader(bytes.NewReader(b), enc.NewDecoder())
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", false
	}
	if utf8.Valid(decoded) {
		return string(decoded), true
	}
	return "", false
}
