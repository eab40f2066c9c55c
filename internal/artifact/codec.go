package artifact

import (
	"bytes"
	"compress/gzip"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// EncodingGzip tags artifacts compressed with compress/gzip. The tag is
// stored alongside the bytes so decoding stays possible if the default
// compressor ever changes.
const EncodingGzip = "gzip"

var ErrUnsupportedEncoding = errors.New("unsupported artifact encoding")

const tokenBytes = 32 // 256 bits of entropy

// Compress encodes report output for storage and returns the encoding tag
// to persist with it.
func Compress(data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, "", fmt.Errorf("compress artifact: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("compress artifact: %w", err)
	}
	return buf.Bytes(), EncodingGzip, nil
}

// Decompress is the inverse of Compress.
func Decompress(data []byte, encoding string) ([]byte, error) {
	r, err := NewReader(bytes.NewReader(data), encoding)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress artifact: %w", err)
	}
	return out, nil
}

// NewReader returns a reader that decodes the artifact stream on the fly.
func NewReader(r io.Reader, encoding string) (io.ReadCloser, error) {
	switch encoding {
	case EncodingGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("decompress artifact: %w", err)
		}
		return zr, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}
}

// MintToken generates a random download token and the hash to persist for
// it. The raw token is returned exactly once and must never be stored.
func MintToken() (raw string, hash string, err error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("mint download token: %w", err)
	}
	raw = hex.EncodeToString(b)
	return raw, HashToken(raw), nil
}

// HashToken returns the hex SHA-256 of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// VerifyToken reports whether the candidate token matches the stored hash.
// The comparison is constant-time; expiry is the caller's check.
func VerifyToken(candidate, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	h := HashToken(candidate)
	return subtle.ConstantTimeCompare([]byte(h), []byte(storedHash)) == 1
}
