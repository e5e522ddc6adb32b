package core

import (
	"fmt"

	"tablevault/codec"
)

// Crypter applies the field codec to tables and rows.
type Crypter struct {
	codec *codec.Codec
}

// NewCrypter wraps a codec.
func NewCrypter(c *codec.Codec) *Crypter {
	return &Crypter{codec: c}
}

// DecryptString decrypts a single value, passing non-ciphertext through.
func (c *Crypter) DecryptString(s string) string {
	return c.codec.DecryptString(s)
}

// Digest returns the equality digest used for row indexes and filters.
func (c *Crypter) Digest(s string) string {
	return c.codec.Digest(s)
}

// GranteeIndex returns the blind index of a grantee email.
func (c *Crypter) GranteeIndex(email string) string {
	return c.codec.BlindIndex(email)
}

// EncodeTable encrypts a plaintext table and refreshes its grantee index.
func (c *Crypter) EncodeTable(t *Table) (*Table, error) {
	plain := *t
	plain.GranteeIndex = make([]string, 0, len(t.Shares))
	for _, g := range t.Shares {
		plain.GranteeIndex = append(plain.GranteeIndex, c.codec.BlindIndex(g.Email))
	}

	var out Table
	if err := c.codec.EncodeDocument(&plain, &out, TableSchema); err != nil {
		return nil, fmt.Errorf("failed to encode table: %w", err)
	}
	return &out, nil
}

// DecodeTable decrypts a stored table.
func (c *Crypter) DecodeTable(t *Table) (*Table, error) {
	var out Table
	if err := c.codec.DecodeDocument(t, &out, TableSchema); err != nil {
		return nil, fmt.Errorf("failed to decode table: %w", err)
	}
	return &out, nil
}

// EncodeRow encrypts row values and computes the digest index for every
// indexable field and the unique keys for every unique field.
func (c *Crypter) EncodeRow(r *Row, fields []Field) *Row {
	out := *r
	out.Index = make(map[string]interface{})
	out.Unique = nil
	for _, f := range fields {
		if !f.Type.Indexable() {
			continue
		}
		idx := IndexValue(r.Values[f.Name], c.codec.Digest)
		if idx == nil {
			continue
		}
		out.Index[f.Name] = idx
		if s, ok := idx.(string); ok && f.Unique {
			out.Unique = append(out.Unique, UniqueKey(f.Name, s))
		}
	}

	enc := codec.ToAny(c.codec.Encode(codec.FromAny(r.Values), RowValuesSchema))
	out.Values, _ = enc.(map[string]interface{})
	if out.Values == nil {
		out.Values = make(map[string]interface{})
	}
	return &out
}

// DecodeRow decrypts row values and restores their field types.
func (c *Crypter) DecodeRow(r *Row, fields []Field) *Row {
	out := *r
	dec, _ := codec.ToAny(c.codec.Decode(codec.FromAny(r.Values), RowValuesSchema)).(map[string]interface{})
	out.Values = RestoreValues(fields, dec)
	return &out
}
