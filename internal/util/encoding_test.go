package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestDecodeTextUTF8(t *testing.T) {
	s, enc := DecodeText([]byte("hostname R1\n"))
	assert.Equal(t, "hostname R1\n", s)
	assert.Equal(t, "utf-8", enc)
}

func TestDecodeTextEmpty(t *testing.T) {
	s, enc := DecodeText(nil)
	assert.Empty(t, s)
	assert.Equal(t, "utf-8", enc)
}

func TestEnsureUTF8BytesGBK(t *testing.T) {
	raw, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("description 核心交换机"))
	require.NoError(t, err)

	s, enc := DecodeText(raw)
	assert.Equal(t, "description 核心交换机", s)
	assert.Equal(t, "gb18030", enc)
	assert.Equal(t, s, EnsureUTF8(string(raw)))
}
