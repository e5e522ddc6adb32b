package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"tablevault/core"
	"tablevault/metrics"
	"tablevault/storage"

	"go.uber.org/zap"
)

// TableInput is the caller-editable part of a table definition.
type TableInput struct {
	Name   string       `json:"name" validate:"required,max=200"`
	Fields []core.Field `json:"fields" validate:"required,min=1,dive"`
}

// TableList is the table overview of one caller.
type TableList struct {
	Owned  []*core.Table `json:"owned"`
	Shared []*core.Table `json:"shared"`
}

// TableService manages table definitions and their grants. Table documents
// are encrypted before they reach the store; every request resolves access
// from the stored table.
type TableService struct {
	tables   TableStore
	rows     RowStore
	crypter  *core.Crypter
	resolver *core.AccessResolver
	audit    *AuditLog
	backup   BackupSink
	logger   *zap.SugaredLogger
}

// NewTableService creates a table service. backup may be nil.
func NewTableService(
	tables TableStore,
	rows RowStore,
	crypter *core.Crypter,
	resolver *core.AccessResolver,
	audit *AuditLog,
	backup BackupSink,
	logger *zap.SugaredLogger,
) *TableService {
	if tables == nil || rows == nil {
		panic("tables and rows are required")
	}
	if crypter == nil || resolver == nil {
		panic("crypter and resolver are required")
	}
	if audit == nil || logger == nil {
		panic("audit and logger are required")
	}
	return &TableService{
		tables:   tables,
		rows:     rows,
		crypter:  crypter,
		resolver: resolver,
		audit:    audit,
		backup:   backup,
		logger:   logger,
	}
}

// ListTables returns the caller's own tables and the tables currently shared
// with them. Shared tables are found through the grantee blind index and then
// confirmed by the resolver; only tables the caller may open right now are
// listed, in their shared view.
func (s *TableService) ListTables(ctx context.Context, id core.Identity, req core.RequestContext) (*TableList, error) {
	list := &TableList{Owned: []*core.Table{}, Shared: []*core.Table{}}

	owned, err := s.tables.ListTablesByOwner(ctx, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list owned tables: %w", err)
	}
	for _, stored := range owned {
		t, err := s.crypter.DecodeTable(stored)
		if err != nil {
			return nil, err
		}
		list.Owned = append(list.Owned, t)
	}

	if id.Email == "" {
		return list, nil
	}
	candidates, err := s.tables.ListTablesByGrantee(ctx, s.crypter.GranteeIndex(id.Email))
	if err != nil {
		return nil, fmt.Errorf("failed to list shared tables: %w", err)
	}
	for _, stored := range candidates {
		if stored.OwnerID == id.UserID {
			continue
		}
		d, err := s.resolver.ResolveTable(stored, id, req)
		if err != nil {
			return nil, err
		}
		if d.State == core.SharedAllowed {
			list.Shared = append(list.Shared, core.SharedView(d))
		}
	}
	return list, nil
}

// GetTable returns the full definition to the owner and the shared view to
// an allowed collaborator.
func (s *TableService) GetTable(ctx context.Context, tableID string, id core.Identity, req core.RequestContext) (*core.Table, error) {
	d, err := resolve(ctx, s.resolver, tableID, id, req)
	if err != nil {
		return nil, err
	}
	return core.SharedView(d), nil
}

// CreateTable validates and stores a new table owned by the caller.
func (s *TableService) CreateTable(ctx context.Context, id core.Identity, req core.RequestContext, in TableInput) (*core.Table, error) {
	t := core.NewTable(strings.TrimSpace(in.Name), id.UserID, in.Fields)
	if err := t.ValidateDefinition(); err != nil {
		return nil, err
	}

	// A new table has no rows, so its unique fields need no backfill: every
	// row written from now on carries its unique keys.
	stored, err := s.crypter.EncodeTable(t)
	if err != nil {
		return nil, err
	}
	if err := s.tables.CreateTable(ctx, stored); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	s.backupTable(stored)

	s.audit.Info(ctx, ActionTableCreate, "table created", id, req, t.ID,
		map[string]string{"fields": fmt.Sprint(len(t.Fields))})
	s.logger.Infow("Table created", "table_id", t.ID, "owner_id", id.UserID, "fields", len(t.Fields))
	return t, nil
}

// UpdateTable replaces the name and fields of an owned table. Grant
// permissions on removed fields are pruned and row unique keys follow the new
// field flags. A field that cannot become unique rolls back the fields
// enabled before it and leaves the table unchanged.
func (s *TableService) UpdateTable(ctx context.Context, tableID string, id core.Identity, req core.RequestContext, in TableInput) (*core.Table, error) {
	d, err := s.ownerDecision(ctx, tableID, id, req)
	if err != nil {
		return nil, err
	}
	t := d.Table
	before := uniqueFields(t.Fields)

	t.Name = strings.TrimSpace(in.Name)
	t.Fields = in.Fields
	if err := t.ValidateDefinition(); err != nil {
		return nil, err
	}
	t.PruneGrants()
	for i := range t.Shares {
		if err := t.ValidateGrant(&t.Shares[i]); err != nil {
			return nil, fmt.Errorf("grant for %s no longer fits the table: %w", t.Shares[i].Email, err)
		}
	}

	after := uniqueFields(t.Fields)
	var enabled []string
	for _, name := range sortedNames(after) {
		if _, ok := before[name]; ok {
			continue
		}
		if err := s.rows.EnableUnique(ctx, t.ID, name); err != nil {
			s.disableUnique(ctx, t.ID, enabled)
			if errors.Is(err, storage.ErrDuplicateKey) {
				return nil, &core.DuplicateValueError{Field: name}
			}
			return nil, fmt.Errorf("failed to enable unique field %q: %w", name, err)
		}
		enabled = append(enabled, name)
	}

	if err := s.save(ctx, t, id); err != nil {
		s.disableUnique(ctx, t.ID, enabled)
		return nil, err
	}

	var dropped []string
	for _, name := range sortedNames(before) {
		if _, ok := after[name]; !ok {
			dropped = append(dropped, name)
		}
	}
	s.disableUnique(ctx, t.ID, dropped)

	s.audit.Info(ctx, ActionTableUpdate, "table updated", id, req, t.ID, nil)
	return t, nil
}

// ShareTable adds or replaces the grant of grant.Email.
func (s *TableService) ShareTable(ctx context.Context, tableID string, id core.Identity, req core.RequestContext, grant core.SharedGrant) (*core.Table, error) {
	d, err := s.ownerDecision(ctx, tableID, id, req)
	if err != nil {
		return nil, err
	}
	t := d.Table

	grant.Email = strings.TrimSpace(grant.Email)
	if strings.EqualFold(grant.Email, strings.TrimSpace(id.Email)) {
		return nil, fmt.Errorf("%w: a table cannot be shared with its owner", core.ErrInvalidTable)
	}
	for i := range grant.Network {
		if grant.Network[i].Family == "" {
			grant.Network[i].Family = core.NetworkFamily(grant.Network[i].IP)
		}
	}
	if err := t.ValidateGrant(&grant); err != nil {
		return nil, err
	}

	if i := t.FindGrant(grant.Email); i >= 0 {
		t.Shares[i] = grant
	} else {
		t.Shares = append(t.Shares, grant)
	}

	if err := s.save(ctx, t, id); err != nil {
		return nil, err
	}
	s.audit.Info(ctx, ActionTableShare, "table shared", id, req, t.ID,
		map[string]string{"blocked": fmt.Sprint(grant.IsBlocked)})
	return t, nil
}

// RevokeShare removes the grant of email.
func (s *TableService) RevokeShare(ctx context.Context, tableID string, id core.Identity, req core.RequestContext, email string) (*core.Table, error) {
	d, err := s.ownerDecision(ctx, tableID, id, req)
	if err != nil {
		return nil, err
	}
	t := d.Table

	i := t.FindGrant(email)
	if i < 0 {
		return nil, core.ErrShareNotFound
	}
	t.Shares = append(t.Shares[:i], t.Shares[i+1:]...)

	if err := s.save(ctx, t, id); err != nil {
		return nil, err
	}
	s.audit.Info(ctx, ActionTableRevoke, "table share revoked", id, req, t.ID, nil)
	return t, nil
}

// DeleteTable removes an owned table and all of its rows from the primary
// store. Backup copies are kept.
func (s *TableService) DeleteTable(ctx context.Context, tableID string, id core.Identity, req core.RequestContext) error {
	if _, err := s.ownerDecision(ctx, tableID, id, req); err != nil {
		return err
	}

	n, err := s.rows.DeleteRowsByTable(ctx, tableID)
	if err != nil {
		return fmt.Errorf("failed to delete rows: %w", err)
	}
	if err := s.tables.DeleteTable(ctx, tableID); err != nil {
		return fmt.Errorf("failed to delete table: %w", err)
	}

	s.audit.Info(ctx, ActionTableDelete, "table deleted", id, req, tableID,
		map[string]string{"rows": fmt.Sprint(n)})
	s.logger.Infow("Table deleted", "table_id", tableID, "rows", n)
	return nil
}

// ownerDecision resolves access and requires ownership.
func (s *TableService) ownerDecision(ctx context.Context, tableID string, id core.Identity, req core.RequestContext) (*core.Decision, error) {
	d, err := resolve(ctx, s.resolver, tableID, id, req)
	if err != nil {
		return nil, err
	}
	if !d.IsOwner() {
		return nil, &core.PermissionError{Kind: core.PermissionOwnerOnly}
	}
	return d, nil
}

func (s *TableService) save(ctx context.Context, t *core.Table, id core.Identity) error {
	t.UpdatedBy = id.UserID
	t.UpdatedAt = time.Now().UTC()

	stored, err := s.crypter.EncodeTable(t)
	if err != nil {
		return err
	}
	if err := s.tables.UpdateTable(ctx, stored); err != nil {
		return fmt.Errorf("failed to update table: %w", err)
	}
	s.backupTable(stored)
	return nil
}

func (s *TableService) backupTable(stored *core.Table) {
	if s.backup != nil {
		s.backup.Dispatch(storage.CollectionTables, stored.ID, stored)
	}
}

// disableUnique drops the unique keys of fields. Leftover keys only
// constrain rows written before the table changed, so failures are logged.
func (s *TableService) disableUnique(ctx context.Context, tableID string, fields []string) {
	for _, name := range fields {
		if err := s.rows.DisableUnique(ctx, tableID, name); err != nil {
			s.logger.Warnw("Failed to disable unique field", "table_id", tableID, "field", name, "error", err)
		}
	}
}

func sortedNames(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func uniqueFields(fields []core.Field) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range fields {
		if f.Unique {
			out[f.Name] = struct{}{}
		}
	}
	return out
}

// resolve runs the access resolver, counts the outcome and maps denials to
// the error taxonomy.
func resolve(ctx context.Context, r *core.AccessResolver, tableID string, id core.Identity, req core.RequestContext) (*core.Decision, error) {
	d, err := r.Resolve(ctx, tableID, id, req)
	if err != nil {
		return nil, err
	}
	metrics.AccessDecisions.WithLabelValues(d.State.String()).Inc()
	if err := d.Err(); err != nil {
		return nil, err
	}
	return d, nil
}
