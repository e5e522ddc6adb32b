package service

import (
	"context"

	"tablevault/core"
	"tablevault/storage"

	"go.uber.org/zap"
)

// Audit actions.
const (
	ActionTableCreate = "table.create"
	ActionTableUpdate = "table.update"
	ActionTableDelete = "table.delete"
	ActionTableShare  = "table.share"
	ActionTableRevoke = "table.revoke"
	ActionRowInsert   = "row.insert"
	ActionRowUpdate   = "row.update"
	ActionRowDelete   = "row.delete"
)

// LogPage is one page of audit log entries.
type LogPage struct {
	Entries []*core.LogEntry `json:"entries"`
	Total   int64            `json:"total"`
	Page    int              `json:"page"`
	Limit   int              `json:"limit"`
}

// AuditLog records mutations to the primary log collection and dispatches a
// backup copy. A failed audit write is logged and never fails the mutation.
type AuditLog struct {
	logs   LogStore
	backup BackupSink
	logger *zap.SugaredLogger
}

// NewAuditLog creates an audit log writer.
func NewAuditLog(logs LogStore, backup BackupSink, logger *zap.SugaredLogger) *AuditLog {
	if logs == nil {
		panic("logs is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &AuditLog{logs: logs, backup: backup, logger: logger}
}

// Record writes one entry.
func (a *AuditLog) Record(ctx context.Context, e *core.LogEntry) {
	if err := a.logs.InsertLog(ctx, e); err != nil {
		a.logger.Warnw("Failed to write audit log entry",
			"action", e.Action,
			"table_id", e.TableID,
			"error", err)
		return
	}
	if a.backup != nil {
		a.backup.Dispatch(storage.CollectionLogs, e.ID, e)
	}
}

// Info records an info-severity entry for an actor's action on a table.
func (a *AuditLog) Info(ctx context.Context, action, message string, actor core.Identity, req core.RequestContext, tableID string, details map[string]string) {
	e := core.NewLogEntry(core.SeverityInfo, action, message)
	e.ActorID = actor.UserID
	e.IPAddress = req.IP
	e.TableID = tableID
	e.Details = details
	a.Record(ctx, e)
}

// List returns a page of entries, newest first.
func (a *AuditLog) List(ctx context.Context, page, limit int) (*LogPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = core.DefaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	entries, total, err := a.logs.ListLogs(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	return &LogPage{Entries: entries, Total: total, Page: page, Limit: limit}, nil
}
