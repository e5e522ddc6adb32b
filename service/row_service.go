package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tablevault/core"
	"tablevault/metrics"
	"tablevault/storage"

	"go.uber.org/zap"
)

// RowPage is one page of rows as the caller may see them.
type RowPage struct {
	Rows  []*core.Row `json:"rows"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// RowWrite is the input of an insert or update: untyped values keyed by
// field name, plus files already stored by the upload collaborator.
type RowWrite struct {
	Values  map[string]interface{}
	Uploads []core.AttachmentUpload
}

// RowService reads and writes table rows under the caller's access decision.
// Each write runs validate, coerce, unique check, commit. The unique check is
// a fast path for a readable error; the store's unique index is the backstop.
type RowService struct {
	rows         RowStore
	crypter      *core.Crypter
	resolver     *core.AccessResolver
	audit        *AuditLog
	backup       BackupSink
	baseURL      string
	defaultLimit int
	logger       *zap.SugaredLogger
}

// NewRowService creates a row service. backup may be nil.
func NewRowService(
	rows RowStore,
	crypter *core.Crypter,
	resolver *core.AccessResolver,
	audit *AuditLog,
	backup BackupSink,
	baseURL string,
	defaultLimit int,
	logger *zap.SugaredLogger,
) *RowService {
	if rows == nil || crypter == nil || resolver == nil || audit == nil || logger == nil {
		panic("rows, crypter, resolver, audit and logger are required")
	}
	return &RowService{
		rows:         rows,
		crypter:      crypter,
		resolver:     resolver,
		audit:        audit,
		backup:       backup,
		baseURL:      baseURL,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

// ListRows returns a page of rows, newest first. Shared callers only see
// their readable fields and the rows inside their filter scope.
func (s *RowService) ListRows(ctx context.Context, tableID string, id core.Identity, req core.RequestContext, page, limit int) (*RowPage, error) {
	d, err := resolve(ctx, s.resolver, tableID, id, req)
	if err != nil {
		return nil, err
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	q, err := core.BuildRowQuery(d, page, limit, s.defaultLimit, s.crypter.Digest)
	if err != nil {
		return nil, err
	}

	stored, err := s.rows.FindRows(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	total, err := s.rows.CountRows(ctx, q.TableID, q.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}

	out := make([]*core.Row, 0, len(stored))
	for _, r := range stored {
		out = append(out, core.Project(s.crypter.DecodeRow(r, d.Table.Fields), q.Projection))
	}
	return &RowPage{Rows: out, Total: total, Page: q.Page, Limit: q.Limit}, nil
}

// InsertRow validates and stores a new row. A shared caller's row must fall
// inside their filter scope.
func (s *RowService) InsertRow(ctx context.Context, tableID string, id core.Identity, req core.RequestContext, in RowWrite) (*core.Row, error) {
	d, err := resolve(ctx, s.resolver, tableID, id, req)
	if err != nil {
		return nil, err
	}
	if err := checkWritable(d, in); err != nil {
		return nil, err
	}

	values, err := s.coerce(d.Table.Fields, in, core.WriteInsert)
	if err != nil {
		return nil, err
	}
	dropNil(values)

	row := core.NewRow(tableID, id.UserID)
	row.Values = values
	stored := s.crypter.EncodeRow(row, d.Table.Fields)
	if err := s.checkScope(d, stored); err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, d.Table, values, ""); err != nil {
		return nil, err
	}
	if err := s.rows.InsertRow(ctx, stored); err != nil {
		return nil, s.writeErr(ctx, d.Table, values, "", err)
	}
	s.afterWrite(ctx, "insert", ActionRowInsert, "row inserted", stored, id, req)
	return visibleRow(d, row), nil
}

// UpdateRow applies a partial update to an existing row. Shared callers need
// edit rights, write permission on every supplied field and the row inside
// their filter scope, before and after the update.
func (s *RowService) UpdateRow(ctx context.Context, tableID, rowID string, id core.Identity, req core.RequestContext, in RowWrite) (*core.Row, error) {
	d, err := resolve(ctx, s.resolver, tableID, id, req)
	if err != nil {
		return nil, err
	}
	if !d.IsOwner() && !d.Mask.CanEdit {
		return nil, &core.PermissionError{Kind: core.PermissionReadOnly}
	}
	if err := checkWritable(d, in); err != nil {
		return nil, err
	}

	existing, err := s.scopedRow(ctx, d, tableID, rowID)
	if err != nil {
		return nil, err
	}

	changes, err := s.coerce(d.Table.Fields, in, core.WriteUpdate)
	if err != nil {
		return nil, err
	}

	row := s.crypter.DecodeRow(existing, d.Table.Fields)
	for k, v := range changes {
		row.Values[k] = v
	}
	dropNil(row.Values)
	row.UpdatedBy = id.UserID
	row.UpdatedAt = time.Now().UTC()
	stored := s.crypter.EncodeRow(row, d.Table.Fields)
	if err := s.checkScope(d, stored); err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, d.Table, onlyKeys(row.Values, changes), rowID); err != nil {
		return nil, err
	}
	if err := s.rows.UpdateRow(ctx, stored); err != nil {
		return nil, s.writeErr(ctx, d.Table, row.Values, rowID, err)
	}
	s.afterWrite(ctx, "update", ActionRowUpdate, "row updated", stored, id, req)
	return visibleRow(d, row), nil
}

// DeleteRow removes a row from the primary store. Shared callers need delete
// rights and the row inside their filter scope.
func (s *RowService) DeleteRow(ctx context.Context, tableID, rowID string, id core.Identity, req core.RequestContext) error {
	d, err := resolve(ctx, s.resolver, tableID, id, req)
	if err != nil {
		return err
	}
	if !d.IsOwner() && !d.Mask.CanDelete {
		return &core.PermissionError{Kind: core.PermissionReadOnly}
	}
	if _, err := s.scopedRow(ctx, d, tableID, rowID); err != nil {
		return err
	}

	if err := s.rows.DeleteRow(ctx, tableID, rowID); err != nil {
		return err
	}
	metrics.RowsWritten.WithLabelValues("delete").Inc()
	s.audit.Info(ctx, ActionRowDelete, "row deleted", id, req, tableID, map[string]string{"row_id": rowID})
	return nil
}

func (s *RowService) coerce(fields []core.Field, in RowWrite, mode core.WriteMode) (map[string]interface{}, error) {
	values, verr := core.ValidateAndCoerce(fields, in.Values, mode)
	attachments, aerr := core.AttachmentValues(fields, in.Values, in.Uploads, s.baseURL, mode)

	var errs core.FieldErrors
	for _, err := range []error{verr, aerr} {
		var fe core.FieldErrors
		switch {
		case err == nil:
		case errors.As(err, &fe):
			errs = append(errs, fe...)
		default:
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	for k, v := range attachments {
		values[k] = v
	}
	return values, nil
}

// checkUnique runs one existence query per unique field with a value and
// reports every conflict.
func (s *RowService) checkUnique(ctx context.Context, t *core.Table, values map[string]interface{}, excludeRowID string) error {
	var errs core.FieldErrors
	for _, f := range t.Fields {
		if !f.Unique {
			continue
		}
		digest, ok := core.IndexValue(values[f.Name], s.crypter.Digest).(string)
		if !ok {
			continue
		}
		exists, err := s.rows.ValueExists(ctx, t.ID, f.Name, digest, excludeRowID)
		if err != nil {
			return fmt.Errorf("failed to check unique field %q: %w", f.Name, err)
		}
		if exists {
			errs = append(errs, &core.DuplicateValueError{Field: f.Name, Value: values[f.Name]})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// writeErr maps a store-level unique violation, which means a concurrent
// writer won the race, back to the offending field. A violation no unique
// field explains is an internal error.
func (s *RowService) writeErr(ctx context.Context, t *core.Table, values map[string]interface{}, excludeRowID string, err error) error {
	if !errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("failed to write row: %w", err)
	}
	if uerr := s.checkUnique(ctx, t, values, excludeRowID); uerr != nil {
		return uerr
	}
	s.logger.Errorw("Unique conflict without a conflicting field", "table_id", t.ID, "error", err)
	return fmt.Errorf("failed to write row: unexplained unique conflict: %v", err)
}

func (s *RowService) scopedRow(ctx context.Context, d *core.Decision, tableID, rowID string) (*core.Row, error) {
	existing, err := s.rows.GetRow(ctx, tableID, rowID)
	if err != nil {
		return nil, err
	}
	if err := s.checkScope(d, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// checkScope requires a stored row to match the caller's filter scope. It
// runs on the row before and after a shared write, so collaborators cannot
// move rows out of their own view.
func (s *RowService) checkScope(d *core.Decision, stored *core.Row) error {
	scope, err := core.ScopeFilter(d, s.crypter.Digest)
	if err != nil {
		return err
	}
	if !core.MatchesFilter(stored, scope) {
		return &core.PermissionError{Kind: core.PermissionRowOutOfScope}
	}
	return nil
}

func (s *RowService) afterWrite(ctx context.Context, op, action, message string, stored *core.Row, id core.Identity, req core.RequestContext) {
	metrics.RowsWritten.WithLabelValues(op).Inc()
	if s.backup != nil {
		s.backup.Dispatch(storage.CollectionRows, stored.ID, stored)
	}
	s.audit.Info(ctx, action, message, id, req, stored.TableID, map[string]string{"row_id": stored.ID})
}

// checkWritable requires WRITE on every supplied field that exists on the
// table. Unknown fields are left to validation.
func checkWritable(d *core.Decision, in RowWrite) error {
	if d.IsOwner() {
		return nil
	}
	for name := range in.Values {
		if _, ok := d.Table.FieldByName(name); ok && !d.CanWriteField(name) {
			return &core.PermissionError{Kind: core.PermissionFieldNotWritable, Field: name}
		}
	}
	for _, up := range in.Uploads {
		if !d.CanWriteField(up.FieldName) {
			return &core.PermissionError{Kind: core.PermissionFieldNotWritable, Field: up.FieldName}
		}
	}
	return nil
}

// visibleRow trims a written row to what the caller may read.
func visibleRow(d *core.Decision, r *core.Row) *core.Row {
	if d.IsOwner() {
		return r
	}
	readable := []string{}
	for _, f := range d.Table.Fields {
		if !f.Hidden && d.Mask.Permission(f.Name).CanRead() {
			readable = append(readable, f.Name)
		}
	}
	return core.Project(r, readable)
}

func dropNil(values map[string]interface{}) {
	for k, v := range values {
		if v == nil {
			delete(values, k)
		}
	}
}

func onlyKeys(values, keys map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keys))
	for k := range keys {
		if v, ok := values[k]; ok {
			out[k] = v
		}
	}
	return out
}
