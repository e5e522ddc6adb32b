package core

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTableSchema_CoversTypedKeys tests that every non-string key of the table
// document is plain, since encrypted leaves come back as strings
func TestTableSchema_CoversTypedKeys(t *testing.T) {
	var missing []string
	var walk func(reflect.Type)
	walk = func(typ reflect.Type) {
		for typ.Kind() == reflect.Ptr || typ.Kind() == reflect.Slice {
			typ = typ.Elem()
		}
		if typ.Kind() != reflect.Struct || typ == reflect.TypeOf(time.Time{}) {
			return
		}
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			name := strings.Split(f.Tag.Get("bson"), ",")[0]
			ft := f.Type
			for ft.Kind() == reflect.Slice {
				ft = ft.Elem()
			}
			switch {
			case ft.Kind() == reflect.Struct && ft != reflect.TypeOf(time.Time{}):
				walk(ft)
			case ft.Kind() != reflect.String && !TableSchema.IsPlain(name):
				missing = append(missing, name)
			}
		}
	}
	walk(reflect.TypeOf(Table{}))

	assert.Empty(t, missing)
}

// TestCrypter_TableRoundTrip tests table encryption and decryption
func TestCrypter_TableRoundTrip(t *testing.T) {
	crypter := newTestCrypter(t)

	tbl := NewTable("Budget", "owner-1", []Field{
		{Name: "status", Type: FieldTypeSelect, Required: true, Options: []string{"open", "closed"}},
	})
	tbl.Shares = []SharedGrant{{
		Email:            "bob@example.com",
		Permissions:      []FieldPermission{{FieldName: "status", Permission: PermissionRead, Filter: []string{"open"}}},
		CanEdit:          true,
		RowsPerPageLimit: 7,
		Network:          []NetworkAccess{{IP: "10.0.0.1", Enabled: true, Family: "ipv4", Comment: "vpn"}},
		WorkingTime:      []WorkingTimeAccess{{Day: "friday", Enabled: true, Ranges: []TimeRange{{Start: "08:00", End: "12:00"}}}},
	}}

	stored, err := crypter.EncodeTable(tbl)
	require.NoError(t, err)

	assert.Equal(t, tbl.ID, stored.ID)
	assert.Equal(t, "owner-1", stored.OwnerID)
	assert.NotEqual(t, "Budget", stored.Name)
	assert.NotEqual(t, "status", stored.Fields[0].Name)
	assert.NotEqual(t, "open", stored.Fields[0].Options[0])
	assert.Equal(t, FieldTypeSelect, stored.Fields[0].Type)
	assert.True(t, stored.Fields[0].Required)

	g := stored.Shares[0]
	assert.NotEqual(t, "bob@example.com", g.Email)
	assert.Equal(t, PermissionRead, g.Permissions[0].Permission)
	assert.NotEqual(t, "open", g.Permissions[0].Filter[0])
	assert.NotEqual(t, "10.0.0.1", g.Network[0].IP)
	assert.NotEqual(t, "vpn", g.Network[0].Comment)
	assert.Equal(t, "ipv4", g.Network[0].Family)
	assert.Equal(t, "08:00", g.WorkingTime[0].Ranges[0].Start)
	assert.Equal(t, 7, g.RowsPerPageLimit)
	assert.Equal(t, []string{crypter.GranteeIndex("BOB@example.com")}, stored.GranteeIndex)

	decoded, err := crypter.DecodeTable(stored)
	require.NoError(t, err)
	assert.Equal(t, "Budget", decoded.Name)
	assert.Equal(t, tbl.Fields, decoded.Fields)
	assert.Equal(t, tbl.Shares, decoded.Shares)
}

// TestCrypter_RowRoundTrip tests row value encryption, indexing and type restore
func TestCrypter_RowRoundTrip(t *testing.T) {
	crypter := newTestCrypter(t)
	fields := sampleFields()

	values, err := ValidateAndCoerce(fields, map[string]interface{}{
		"title": "Rent", "amount": 1200, "done": false, "tags": "home,monthly", "due": "2024-02-01",
	}, WriteInsert)
	require.NoError(t, err)
	att, err := AttachmentValues(fields, map[string]interface{}{"files": "lease.pdf"}, nil, "/uploads", WriteInsert)
	require.NoError(t, err)
	for k, v := range att {
		values[k] = v
	}

	row := NewRow("t1", "owner-1")
	row.Values = values

	stored := crypter.EncodeRow(row, fields)
	assert.NotEqual(t, "Rent", stored.Values["title"])
	assert.IsType(t, "", stored.Values["amount"], "numbers are stored encrypted")
	assert.Equal(t, crypter.Digest("Rent"), stored.Index["title"])
	assert.Equal(t, crypter.Digest("1200"), stored.Index["amount"])
	assert.Equal(t, []string{crypter.Digest("home"), crypter.Digest("monthly")}, stored.Index["tags"])
	assert.NotContains(t, stored.Index, "files")

	decoded := crypter.DecodeRow(stored, fields)
	assert.Equal(t, "Rent", decoded.Values["title"])
	assert.Equal(t, float64(1200), decoded.Values["amount"])
	assert.Equal(t, false, decoded.Values["done"])
	assert.Equal(t, []string{"home", "monthly"}, decoded.Values["tags"])
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), decoded.Values["due"])

	files := decoded.Values["files"].([]Attachment)
	require.Len(t, files, 1)
	assert.Equal(t, "/uploads/lease.pdf", files[0].URL)
	assert.Equal(t, "lease.pdf", files[0].OriginalName)
}

// TestCrypter_RowUniqueKeys tests that only unique fields with a value get a unique key
func TestCrypter_RowUniqueKeys(t *testing.T) {
	crypter := newTestCrypter(t)
	fields := []Field{
		{Name: "code", Type: FieldTypeText, Unique: true},
		{Name: "serial", Type: FieldTypeNumber, Unique: true},
		{Name: "title", Type: FieldTypeText},
	}

	row := NewRow("t1", "owner-1")
	row.Values = map[string]interface{}{"code": "A-1", "title": "Rent"}
	row.Unique = []string{"stale.value"}

	stored := crypter.EncodeRow(row, fields)
	assert.Equal(t, []string{UniqueKey("code", crypter.Digest("A-1"))}, stored.Unique)

	row.Values = map[string]interface{}{"title": "Rent"}
	assert.Empty(t, crypter.EncodeRow(row, fields).Unique)
}
