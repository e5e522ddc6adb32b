package service

import (
	"context"

	"tablevault/core"
)

// TableStore defines table persistence needed by the services.
// Defined here (consumer package) following Interface Segregation Principle.
type TableStore interface {
	CreateTable(ctx context.Context, t *core.Table) error
	GetTable(ctx context.Context, id string) (*core.Table, error)
	UpdateTable(ctx context.Context, t *core.Table) error
	DeleteTable(ctx context.Context, id string) error
	ListTablesByOwner(ctx context.Context, ownerID string) ([]*core.Table, error)
	ListTablesByGrantee(ctx context.Context, granteeIndex string) ([]*core.Table, error)
}

// RowStore defines row persistence and the unique-key backstop. Rows carry
// the keys of their unique fields; EnableUnique backfills them for a field
// that becomes unique and DisableUnique removes them.
type RowStore interface {
	InsertRow(ctx context.Context, r *core.Row) error
	UpdateRow(ctx context.Context, r *core.Row) error
	GetRow(ctx context.Context, tableID, rowID string) (*core.Row, error)
	FindRows(ctx context.Context, q *core.RowQuery) ([]*core.Row, error)
	CountRows(ctx context.Context, tableID string, filter map[string][]string) (int64, error)
	ValueExists(ctx context.Context, tableID, field, digest, excludeRowID string) (bool, error)
	DeleteRow(ctx context.Context, tableID, rowID string) error
	DeleteRowsByTable(ctx context.Context, tableID string) (int64, error)
	EnableUnique(ctx context.Context, tableID, field string) error
	DisableUnique(ctx context.Context, tableID, field string) error
}

// LogStore defines audit log persistence.
type LogStore interface {
	InsertLog(ctx context.Context, e *core.LogEntry) error
	ListLogs(ctx context.Context, skip, limit int) ([]*core.LogEntry, int64, error)
}

// BackupSink accepts best-effort backup copies. storage.BackupDispatcher
// implements it.
type BackupSink interface {
	Dispatch(collection, id string, doc interface{}) bool
}
