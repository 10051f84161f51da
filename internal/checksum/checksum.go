// Package checksum computes the SHA-256 content fingerprints shared by every
// backend. Fingerprints are lowercase hex; S3 reports base64.
package checksum

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// SHA256 reads r to EOF and returns its hex digest.
func SHA256(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FromBase64 turns an S3 checksum header into a fingerprint.
func FromBase64(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("decode checksum %q: %w", s, err)
	}
	if len(raw) != sha256.Size {
		return "", fmt.Errorf("checksum %q is %d bytes, not a SHA-256 digest", s, len(raw))
	}
	return hex.EncodeToString(raw), nil
}

// Counter hashes and counts the bytes read through it, so an upload can be
// checked against what the remote says it stored.
type Counter struct {
	r   io.Reader
	h   hash.Hash
	n   int64
	eof bool
}

func NewCounter(r io.Reader) *Counter {
	return &Counter{r: r, h: sha256.New()}
}

func (c *Counter) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		c.h.Write(p[:n])
	}
	if err == io.EOF {
		c.eof = true
	}
	return n, err
}

// N is the number of bytes read so far.
func (c *Counter) N() int64 {
	return c.n
}

// Sum returns the digest of everything read. ok is false until the
// underlying reader reached EOF.
func (c *Counter) Sum() (sum string, ok bool) {
	if !c.eof {
		return "", false
	}
	return hex.EncodeToString(c.h.Sum(nil)), true
}
