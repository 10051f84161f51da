package checksum

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestSHA256(t *testing.T) {
	sum, err := SHA256(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, helloSHA256, sum)
}

func TestFromBase64(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"s3 header", "LPJNul+wow4m6DsqxbninhsWHlwfp0JecwQzYpOLmCQ=", helloSHA256, false},
		{"not base64", "not base64!", "", true},
		{"wrong length", "AAAA", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromBase64(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCounter(t *testing.T) {
	c := NewCounter(strings.NewReader("hello"))

	_, ok := c.Sum()
	assert.False(t, ok, "no digest before EOF")

	data, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, int64(5), c.N())

	sum, ok := c.Sum()
	require.True(t, ok)
	assert.Equal(t, helloSHA256, sum)
}
