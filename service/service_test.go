package service

import (
	"context"
	"testing"
	"time"

	"tablevault/codec"
	"tablevault/core"
	"tablevault/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	alice = core.Identity{UserID: "alice", Email: "alice@example.com"}
	bob   = core.Identity{UserID: "bob", Email: "bob@example.com"}
	carol = core.Identity{UserID: "carol", Email: "carol@example.com"}
	noReq = core.RequestContext{IP: "10.0.0.1"}
)

// harness wires the services over the in-memory stores.
type harness struct {
	store      *storage.MemoryStore
	backup     *storage.MemoryBackup
	dispatcher *storage.BackupDispatcher
	crypter    *core.Crypter
	tables     *TableService
	rows       *RowService
	audit      *AuditLog
	resolver   *core.AccessResolver
	now        time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key, err := codec.ParseKey("service test key")
	require.NoError(t, err)
	c, err := codec.New(key, 128)
	require.NoError(t, err)

	logger := zap.NewNop().Sugar()
	h := &harness{
		store:   storage.NewMemoryStore(),
		backup:  storage.NewMemoryBackup(),
		crypter: core.NewCrypter(c),
		now:     time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	h.dispatcher = storage.NewBackupDispatcher(h.backup, storage.BackupDispatcherConfig{
		Workers:         1,
		QueueSize:       256,
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
	}, logger)
	t.Cleanup(h.dispatcher.Close)

	h.resolver = core.NewAccessResolver(h.store, h.crypter, time.UTC, func() time.Time { return h.now })
	h.audit = NewAuditLog(h.store, h.dispatcher, logger)
	h.useRowStore(h.store)
	return h
}

// useRowStore rewires both services onto rows.
func (h *harness) useRowStore(rows RowStore) {
	logger := zap.NewNop().Sugar()
	h.tables = NewTableService(h.store, rows, h.crypter, h.resolver, h.audit, h.dispatcher, logger)
	h.rows = NewRowService(rows, h.crypter, h.resolver, h.audit, h.dispatcher, "/uploads", 20, logger)
}

// faultyRows is a MemoryStore whose unique-field changes or inserts fail.
type faultyRows struct {
	*storage.MemoryStore
	enableErr error
	insertErr error
}

func (f *faultyRows) EnableUnique(ctx context.Context, tableID, field string) error {
	if f.enableErr != nil {
		return f.enableErr
	}
	return f.MemoryStore.EnableUnique(ctx, tableID, field)
}

func (f *faultyRows) InsertRow(ctx context.Context, r *core.Row) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.MemoryStore.InsertRow(ctx, r)
}

func ledgerFields() []core.Field {
	return []core.Field{
		{Name: "title", Type: core.FieldTypeText, Required: true},
		{Name: "code", Type: core.FieldTypeText, Unique: true},
		{Name: "status", Type: core.FieldTypeSelect, Options: []string{"open", "closed"}},
		{Name: "amount", Type: core.FieldTypeNumber},
		{Name: "done", Type: core.FieldTypeBoolean},
		{Name: "secret", Type: core.FieldTypeText, Hidden: true},
		{Name: "files", Type: core.FieldTypeAttachment},
	}
}

func (h *harness) createTable(t *testing.T) *core.Table {
	t.Helper()
	tbl, err := h.tables.CreateTable(context.Background(), alice, noReq, TableInput{Name: "Ledger", Fields: ledgerFields()})
	require.NoError(t, err)
	return tbl
}

func (h *harness) insert(t *testing.T, tableID string, values map[string]interface{}) *core.Row {
	t.Helper()
	row, err := h.rows.InsertRow(context.Background(), tableID, alice, noReq, RowWrite{Values: values})
	require.NoError(t, err)
	return row
}

// bobGrant reads title, writes status within open rows and can edit but not delete.
func bobGrant() core.SharedGrant {
	return core.SharedGrant{
		Email: "Bob@Example.com",
		Permissions: []core.FieldPermission{
			{FieldName: "title", Permission: core.PermissionRead},
			{FieldName: "status", Permission: core.PermissionWrite, Filter: []string{"open"}},
			{FieldName: "amount", Permission: core.PermissionNone},
			{FieldName: "secret", Permission: core.PermissionRead},
		},
		CanEdit: true,
	}
}
