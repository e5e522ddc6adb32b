package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"tablevault/core"

	"go.mongodb.org/mongo-driver/bson"
)

// MemoryStore is an in-process primary store with the same semantics as
// MongoStore, including per-table unique keys. Documents are copied
// through BSON on every read and write so callers never share state with
// the store.
type MemoryStore struct {
	mu       sync.RWMutex
	tables   map[string][]byte
	rows     map[string][]byte
	users    map[string][]byte
	logs     map[string][]byte
	otps     map[string][]byte
	attempts map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:   make(map[string][]byte),
		rows:     make(map[string][]byte),
		users:    make(map[string][]byte),
		logs:     make(map[string][]byte),
		otps:     make(map[string][]byte),
		attempts: make(map[string][]byte),
	}
}

func encodeDoc(doc interface{}) ([]byte, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return raw, nil
}

func decodeDoc[T any](raw []byte) (*T, error) {
	var out T
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return &out, nil
}

// HealthCheck always succeeds.
func (m *MemoryStore) HealthCheck(context.Context) error {
	return nil
}

// CreateTable inserts a table document.
func (m *MemoryStore) CreateTable(_ context.Context, t *core.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tables[t.ID]; exists {
		return fmt.Errorf("failed to create table: %w", ErrDuplicateKey)
	}
	raw, err := encodeDoc(t)
	if err != nil {
		return err
	}
	m.tables[t.ID] = raw
	return nil
}

// GetTable loads a table document by id.
func (m *MemoryStore) GetTable(_ context.Context, id string) (*core.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.tables[id]
	if !ok {
		return nil, core.ErrTableNotFound
	}
	return decodeDoc[core.Table](raw)
}

// UpdateTable replaces a table document.
func (m *MemoryStore) UpdateTable(_ context.Context, t *core.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[t.ID]; !ok {
		return core.ErrTableNotFound
	}
	raw, err := encodeDoc(t)
	if err != nil {
		return err
	}
	m.tables[t.ID] = raw
	return nil
}

// DeleteTable removes a table document.
func (m *MemoryStore) DeleteTable(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[id]; !ok {
		return core.ErrTableNotFound
	}
	delete(m.tables, id)
	return nil
}

// ListTablesByOwner returns the tables owned by a user, newest first.
func (m *MemoryStore) ListTablesByOwner(_ context.Context, ownerID string) ([]*core.Table, error) {
	return m.listTables(func(t *core.Table) bool { return t.OwnerID == ownerID })
}

// ListTablesByGrantee returns the tables whose grantee index holds granteeIndex.
func (m *MemoryStore) ListTablesByGrantee(_ context.Context, granteeIndex string) ([]*core.Table, error) {
	return m.listTables(func(t *core.Table) bool {
		for _, g := range t.GranteeIndex {
			if g == granteeIndex {
				return true
			}
		}
		return false
	})
}

func (m *MemoryStore) listTables(keep func(*core.Table) bool) ([]*core.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.Table, 0)
	for _, raw := range m.tables {
		t, err := decodeDoc[core.Table](raw)
		if err != nil {
			return nil, err
		}
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// InsertRow inserts a row, enforcing its unique keys.
func (m *MemoryStore) InsertRow(_ context.Context, r *core.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rows[r.ID]; exists {
		return fmt.Errorf("failed to insert row: %w", ErrDuplicateKey)
	}
	return m.putRow(r)
}

// UpdateRow replaces a row, enforcing its unique keys.
func (m *MemoryStore) UpdateRow(_ context.Context, r *core.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, err := m.row(r.TableID, r.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return core.ErrRowNotFound
	}
	return m.putRow(r)
}

func (m *MemoryStore) putRow(r *core.Row) error {
	if len(r.Unique) > 0 {
		rows, err := m.matchingRows(r.TableID, nil)
		if err != nil {
			return err
		}
		keys := make(map[string]struct{}, len(r.Unique))
		for _, k := range r.Unique {
			keys[k] = struct{}{}
		}
		for _, other := range rows {
			if other.ID == r.ID {
				continue
			}
			for _, k := range other.Unique {
				if _, taken := keys[k]; taken {
					return fmt.Errorf("failed to write row: %w", ErrDuplicateKey)
				}
			}
		}
	}
	raw, err := encodeDoc(r)
	if err != nil {
		return err
	}
	m.rows[r.ID] = raw
	return nil
}

func (m *MemoryStore) row(tableID, rowID string) (*core.Row, error) {
	raw, ok := m.rows[rowID]
	if !ok {
		return nil, nil
	}
	r, err := decodeDoc[core.Row](raw)
	if err != nil {
		return nil, err
	}
	if r.TableID != tableID {
		return nil, nil
	}
	return r, nil
}

// GetRow loads one row of a table.
func (m *MemoryStore) GetRow(_ context.Context, tableID, rowID string) (*core.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, err := m.row(tableID, rowID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, core.ErrRowNotFound
	}
	return r, nil
}

func (m *MemoryStore) matchingRows(tableID string, filter map[string][]string) ([]*core.Row, error) {
	out := make([]*core.Row, 0)
	for _, raw := range m.rows {
		r, err := decodeDoc[core.Row](raw)
		if err != nil {
			return nil, err
		}
		if r.TableID == tableID && core.MatchesFilter(r, filter) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// FindRows runs a paginated row query, newest rows first.
func (m *MemoryStore) FindRows(_ context.Context, q *core.RowQuery) ([]*core.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, err := m.matchingRows(q.TableID, q.Filter)
	if err != nil {
		return nil, err
	}

	start := q.Skip
	if start > len(rows) {
		start = len(rows)
	}
	end := len(rows)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}

	out := make([]*core.Row, 0, end-start)
	for _, r := range rows[start:end] {
		if q.Projection != nil {
			r = core.Project(r, q.Projection)
			r.CreatedBy, r.UpdatedBy = "", ""
		}
		out = append(out, r)
	}
	return out, nil
}

// CountRows counts a table's rows under a digest filter.
func (m *MemoryStore) CountRows(_ context.Context, tableID string, filter map[string][]string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, err := m.matchingRows(tableID, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// ValueExists reports whether another row of the table holds the digest at field.
func (m *MemoryStore) ValueExists(_ context.Context, tableID, field, digest, excludeRowID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.valueExists(tableID, field, digest, excludeRowID)
}

func (m *MemoryStore) valueExists(tableID, field, digest, excludeRowID string) (bool, error) {
	rows, err := m.matchingRows(tableID, map[string][]string{field: {digest}})
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		if r.ID != excludeRowID {
			return true, nil
		}
	}
	return false, nil
}

// DeleteRow removes one row.
func (m *MemoryStore) DeleteRow(_ context.Context, tableID, rowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.row(tableID, rowID)
	if err != nil {
		return err
	}
	if r == nil {
		return core.ErrRowNotFound
	}
	delete(m.rows, rowID)
	return nil
}

// DeleteRowsByTable removes every row of a table.
func (m *MemoryStore) DeleteRowsByTable(_ context.Context, tableID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.matchingRows(tableID, nil)
	if err != nil {
		return 0, err
	}
	for _, r := range rows {
		delete(m.rows, r.ID)
	}
	return int64(len(rows)), nil
}

// EnableUnique makes field unique within the table and adds its key to every
// row holding a value. Existing duplicates fail with ErrDuplicateKey and
// leave the rows untouched.
func (m *MemoryStore) EnableUnique(_ context.Context, tableID, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.matchingRows(tableID, nil)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		v, ok := r.Index[field].(string)
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			return fmt.Errorf("failed to enable unique field: %w", ErrDuplicateKey)
		}
		seen[v] = struct{}{}
	}

	for _, r := range rows {
		v, ok := r.Index[field].(string)
		if !ok {
			continue
		}
		r.Unique = append(withoutField(r.Unique, field), core.UniqueKey(field, v))
		raw, err := encodeDoc(r)
		if err != nil {
			return err
		}
		m.rows[r.ID] = raw
	}
	return nil
}

// DisableUnique removes the keys of field from every row of the table.
func (m *MemoryStore) DisableUnique(_ context.Context, tableID, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.matchingRows(tableID, nil)
	if err != nil {
		return err
	}
	for _, r := range rows {
		kept := withoutField(r.Unique, field)
		if len(kept) == len(r.Unique) {
			continue
		}
		r.Unique = kept
		raw, err := encodeDoc(r)
		if err != nil {
			return err
		}
		m.rows[r.ID] = raw
	}
	return nil
}

func withoutField(keys []string, field string) []string {
	prefix := core.UniqueKey(field, "")
	var out []string
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

// CreateUser inserts a user. A taken email returns ErrDuplicateKey.
func (m *MemoryStore) CreateUser(_ context.Context, u *core.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = NormalizeEmail(u.Email)
	if _, exists := m.users[u.ID]; exists {
		return fmt.Errorf("failed to create user: %w", ErrDuplicateKey)
	}
	if existing, _ := m.userByEmail(u.Email); existing != nil {
		return fmt.Errorf("failed to create user: %w", ErrDuplicateKey)
	}
	raw, err := encodeDoc(u)
	if err != nil {
		return err
	}
	m.users[u.ID] = raw
	return nil
}

// UpdateUser replaces a user document.
func (m *MemoryStore) UpdateUser(_ context.Context, u *core.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = NormalizeEmail(u.Email)
	if _, ok := m.users[u.ID]; !ok {
		return core.ErrUserNotFound
	}
	if existing, _ := m.userByEmail(u.Email); existing != nil && existing.ID != u.ID {
		return fmt.Errorf("failed to update user: %w", ErrDuplicateKey)
	}
	raw, err := encodeDoc(u)
	if err != nil {
		return err
	}
	m.users[u.ID] = raw
	return nil
}

// GetUserByEmail looks a user up by normalized email.
func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (*core.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, err := m.userByEmail(NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, core.ErrUserNotFound
	}
	return u, nil
}

// GetUserByID looks a user up by id.
func (m *MemoryStore) GetUserByID(_ context.Context, id string) (*core.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.users[id]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	return decodeDoc[core.User](raw)
}

func (m *MemoryStore) userByEmail(email string) (*core.User, error) {
	for _, raw := range m.users {
		u, err := decodeDoc[core.User](raw)
		if err != nil {
			return nil, err
		}
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

// InsertLoginAttempt appends a failed login record.
func (m *MemoryStore) InsertLoginAttempt(_ context.Context, a *core.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.Email = NormalizeEmail(a.Email)
	raw, err := encodeDoc(a)
	if err != nil {
		return err
	}
	m.attempts[a.ID] = raw
	return nil
}

// CountLoginAttempts counts failed logins for an (email, ip) pair.
func (m *MemoryStore) CountLoginAttempts(_ context.Context, email, ip string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = NormalizeEmail(email)
	var n int64
	for _, raw := range m.attempts {
		a, err := decodeDoc[core.LoginAttempt](raw)
		if err != nil {
			return 0, err
		}
		if a.Email == email && a.IPAddress == ip {
			n++
		}
	}
	return n, nil
}

// InsertLog appends an audit log entry.
func (m *MemoryStore) InsertLog(_ context.Context, e *core.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := encodeDoc(e)
	if err != nil {
		return err
	}
	m.logs[e.ID] = raw
	return nil
}

// ListLogs returns log entries newest first together with the total count.
func (m *MemoryStore) ListLogs(_ context.Context, skip, limit int) ([]*core.LogEntry, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]*core.LogEntry, 0, len(m.logs))
	for _, raw := range m.logs {
		e, err := decodeDoc[core.LogEntry](raw)
		if err != nil {
			return nil, 0, err
		}
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })

	total := int64(len(all))
	if skip > len(all) {
		skip = len(all)
	}
	all = all[skip:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

// InsertOTP stores a one-time passcode record.
func (m *MemoryStore) InsertOTP(_ context.Context, o *OTP) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.Email = NormalizeEmail(o.Email)
	raw, err := encodeDoc(o)
	if err != nil {
		return err
	}
	m.otps[o.ID] = raw
	return nil
}

func (m *MemoryStore) collection(name string) (map[string][]byte, error) {
	switch name {
	case CollectionUsers:
		return m.users, nil
	case CollectionTables:
		return m.tables, nil
	case CollectionRows:
		return m.rows, nil
	case CollectionLogs:
		return m.logs, nil
	case CollectionOTPs:
		return m.otps, nil
	case CollectionLoginAttempts:
		return m.attempts, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
}

// Count returns the number of documents in a collection.
func (m *MemoryStore) Count(_ context.Context, collection string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, err := m.collection(collection)
	if err != nil {
		return 0, err
	}
	return int64(len(coll)), nil
}

// Wipe clears every non-admin user and every table, row, log, otp and
// login attempt.
func (m *MemoryStore) Wipe(ctx context.Context) (*WipeReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report := newWipeReport()
	for _, name := range WipeOrder {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("failed to wipe %s: %w", name, err)
		}
		coll, err := m.collection(name)
		if err != nil {
			return report, err
		}
		var n int64
		for id, raw := range coll {
			if name == CollectionUsers {
				u, err := decodeDoc[core.User](raw)
				if err != nil {
					return report, fmt.Errorf("failed to wipe %s: %w", name, err)
				}
				if u.IsAdmin {
					continue
				}
			}
			delete(coll, id)
			n++
		}
		report.record(name, n)
	}
	return report, nil
}

// MemoryBackup is an in-process BackupStore.
type MemoryBackup struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte
}

// NewMemoryBackup creates an empty backup store.
func NewMemoryBackup() *MemoryBackup {
	return &MemoryBackup{docs: make(map[string]map[string][]byte)}
}

// Save upserts a copy of doc under (collection, id).
func (b *MemoryBackup) Save(_ context.Context, collection, id string, doc interface{}) error {
	raw, err := encodeDoc(doc)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.docs[collection] == nil {
		b.docs[collection] = make(map[string][]byte)
	}
	b.docs[collection][id] = raw
	return nil
}

// Load decodes the backup copy of (collection, id) into dst.
func (b *MemoryBackup) Load(_ context.Context, collection, id string, dst interface{}) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	raw, ok := b.docs[collection][id]
	if !ok {
		return ErrNotFound
	}
	return bson.Unmarshal(raw, dst)
}

// Count returns the number of backup copies in a collection.
func (b *MemoryBackup) Count(_ context.Context, collection string) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.docs[collection])), nil
}

// Close is a no-op.
func (b *MemoryBackup) Close(context.Context) error {
	return nil
}
