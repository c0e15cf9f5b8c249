// Package cryptox implements reversible, URL-safe encryption of opaque
// identifiers so raw store keys never appear in URLs or payloads.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dmitrijs2005/clusterapi/internal/common"
	"golang.org/x/crypto/hkdf"
)

// IDKey is the only mapping key whose value is (de)ciphered by the tree walkers.
const IDKey = "id"

var encoding = base64.RawURLEncoding

// IDCodec encrypts identifiers with AES-256-GCM under a single process-wide key.
// A fresh random nonce is used per call, so the same id encrypts to different
// strings while every one of them decrypts back to the original.
type IDCodec struct {
	aead cipher.AEAD
}

// NewIDCodec derives a 256-bit key from secret with HKDF-SHA256.
func NewIDCodec(secret string) (*IDCodec, error) {
	if secret == "" {
		return nil, errors.New("id codec: empty secret")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("clusterapi/id-codec")), key); err != nil {
		return nil, fmt.Errorf("id codec: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &IDCodec{aead: aead}, nil
}

// Encrypt returns the URL-safe ciphertext of plaintext. An empty plaintext
// passes through as "".
func (c *IDCodec) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := common.GenerateRandByteArray(c.aead.NonceSize())
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encoding.EncodeToString(sealed), nil
}

// Decrypt recovers the identifier behind ciphertext. An empty input passes
// through as "". Anything not produced by Encrypt under the same key yields
// common.ErrUndecodableID.
func (c *IDCodec) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := encoding.DecodeString(ciphertext)
	if err != nil {
		return "", common.ErrUndecodableID
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", common.ErrUndecodableID
	}

	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", common.ErrUndecodableID
	}
	return string(plain), nil
}

// EncryptTree returns a copy of v where every scalar value stored under an
// "id" key, at any depth, is replaced by its ciphertext. Numbers are
// encrypted in their decimal form.
func (c *IDCodec) EncryptTree(v any) any {
	return walkIDs(v, func(id any) any {
		plain, ok := scalarString(id)
		if !ok {
			return id
		}
		enc, err := c.Encrypt(plain)
		if err != nil {
			return nil
		}
		return enc
	})
}

// DecryptTree is the inverse of EncryptTree. Ids that cannot be decrypted
// become null, which callers treat as "identifier absent".
func (c *IDCodec) DecryptTree(v any) any {
	return walkIDs(v, func(id any) any {
		s, ok := id.(string)
		if !ok {
			return nil
		}
		plain, err := c.Decrypt(s)
		if err != nil {
			return nil
		}
		return plain
	})
}

// walkIDs copies a decoded JSON tree, applying fn only to scalar values found
// directly under IDKey in a mapping. Values under other keys are recursed
// into; a mapping or sequence stored under IDKey is copied untouched.
func walkIDs(v any, fn func(any) any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			if k == IDKey {
				switch child.(type) {
				case map[string]any, []any:
					out[k] = child
				default:
					out[k] = fn(child)
				}
				continue
			}
			out[k] = walkIDs(child, fn)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = walkIDs(child, fn)
		}
		return out
	default:
		return v
	}
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	default:
		return "", false
	}
}
