package convert

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"single byte", []byte{0x00}},
		{"ascii", []byte("hello world")},
		{"binary", []byte{0xff, 0x00, 0xab, 0x10}},
		{"large", bytes.Repeat([]byte{0x42}, 1<<16)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, string(tt.data), ToString(ToArray(tt.data)))
		})
	}
}

func TestToArray_DoesNotAlias(t *testing.T) {
	src := []byte{1, 2, 3}
	out := ToArray(src)
	src[0] = 99

	assert.Equal(t, byte(1), out[0])
}

func TestHexRoundTrip(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef}

	decoded, err := FromHex(ToHex(data))
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestFromHex_Invalid(t *testing.T) {
	_, err := FromHex("zz")
	assert.Error(t, err)
}
