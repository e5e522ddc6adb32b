// Package codec implements field-level encryption of document trees.
//
// Documents are walked as a closed union of Scalar, List and Record values.
// A Schema names the structural keys (identifiers, flags, timestamps,
// permission markers) that stay in the clear; every other scalar leaf is
// converted to its string form and encrypted individually. Decryption never
// fails: a leaf that does not decrypt is returned unchanged, which lets
// legacy plaintext values coexist with encrypted ones.
package codec

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the decrypted-leaf cache.
const DefaultCacheSize = 4096

// Codec encodes and decodes document trees.
type Codec struct {
	cipher   *Cipher
	cache    *lru.Cache[string, string]
	indexKey []byte
}

// New creates a codec from a 32-byte key. cacheSize <= 0 uses DefaultCacheSize.
func New(key []byte, cacheSize int) (*Codec, error) {
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create decrypt cache: %w", err)
	}
	indexKey, err := deriveKey(key, "tablevault blind index")
	if err != nil {
		return nil, err
	}
	return &Codec{cipher: c, cache: cache, indexKey: indexKey}, nil
}

// Encode encrypts every non-plain scalar leaf of v.
func (c *Codec) Encode(v Value, s Schema) Value {
	return c.walk(v, s, false, c.encryptLeaf)
}

// Decode decrypts every non-plain scalar leaf of v.
func (c *Codec) Decode(v Value, s Schema) Value {
	return c.walk(v, s, false, c.decryptLeaf)
}

// EncodeDocument encrypts a BSON-tagged struct into dst.
func (c *Codec) EncodeDocument(src, dst interface{}, s Schema) error {
	v, err := toDocument(src)
	if err != nil {
		return err
	}
	return fromDocument(c.Encode(v, s), dst)
}

// DecodeDocument decrypts a BSON-tagged struct into dst.
func (c *Codec) DecodeDocument(src, dst interface{}, s Schema) error {
	v, err := toDocument(src)
	if err != nil {
		return err
	}
	return fromDocument(c.Decode(v, s), dst)
}

func (c *Codec) walk(v Value, s Schema, plain bool, leaf func(Scalar) Scalar) Value {
	switch t := v.(type) {
	case Scalar:
		if plain {
			return t
		}
		return leaf(t)
	case List:
		out := make(List, len(t))
		for i, e := range t {
			out[i] = c.walk(e, s, plain, leaf)
		}
		return out
	case *Record:
		out := NewRecord()
		for _, k := range t.Keys {
			out.Set(k, c.walk(t.Fields[k], s, s.IsPlain(k), leaf))
		}
		return out
	default:
		panic(fmt.Sprintf("codec: unsupported value %T", v))
	}
}

func (c *Codec) encryptLeaf(s Scalar) Scalar {
	if s.V == nil {
		return s
	}
	return Scalar{V: c.EncryptString(Stringify(s.V))}
}

func (c *Codec) decryptLeaf(s Scalar) Scalar {
	str, ok := s.V.(string)
	if !ok {
		return s
	}
	return Scalar{V: c.DecryptString(str)}
}

// EncryptString encrypts one leaf. On failure the plaintext is returned.
func (c *Codec) EncryptString(plaintext string) string {
	out, err := c.cipher.Encrypt(plaintext)
	if err != nil {
		return plaintext
	}
	c.cache.Add(out, plaintext)
	return out
}

// DecryptString decrypts one leaf. Input that is not valid ciphertext
// (including plaintext) is returned unchanged.
func (c *Codec) DecryptString(ciphertext string) string {
	if ciphertext == "" {
		return ciphertext
	}
	if plain, ok := c.cache.Get(ciphertext); ok {
		return plain
	}
	plain, err := c.cipher.Decrypt(ciphertext)
	if err != nil {
		return ciphertext
	}
	c.cache.Add(ciphertext, plain)
	return plain
}

// BlindIndex returns a keyed hash of a normalized string. It only narrows
// lookups; callers still compare decrypted values before trusting a match.
func (c *Codec) BlindIndex(s string) string {
	return c.Digest(strings.ToLower(strings.TrimSpace(s)))
}

// Digest returns a keyed hash of s exactly as given. Equal inputs always
// produce equal digests, so digests can back equality lookups and unique
// indexes on values whose ciphertext is randomized.
func (c *Codec) Digest(s string) string {
	mac := hmac.New(sha256.New, c.indexKey)
	mac.Write([]byte(s))
	return hex.EncodeToString(mac.Sum(nil))
}
