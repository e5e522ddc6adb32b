package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"tablevault/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRow(t *testing.T, s *MemoryStore, id, tableID string, created time.Time, index map[string]interface{}) {
	t.Helper()
	r := &core.Row{
		ID:        id,
		TableID:   tableID,
		CreatedBy: "owner",
		Values:    map[string]interface{}{"title": "enc-" + id, "notes": "enc-notes"},
		Index:     index,
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, s.InsertRow(context.Background(), r))
}

// TestMemoryStore_TableLifecycle tests table CRUD and listing
func TestMemoryStore_TableLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	older := &core.Table{ID: "t1", Name: "a", OwnerID: "u1", CreatedAt: time.Now().Add(-time.Hour)}
	newer := &core.Table{ID: "t2", Name: "b", OwnerID: "u1", GranteeIndex: []string{"g-bob"}, CreatedAt: time.Now()}
	other := &core.Table{ID: "t3", Name: "c", OwnerID: "u2", GranteeIndex: []string{"g-bob", "g-eve"}, CreatedAt: time.Now()}
	for _, tbl := range []*core.Table{older, newer, other} {
		require.NoError(t, s.CreateTable(ctx, tbl))
	}
	assert.ErrorIs(t, s.CreateTable(ctx, older), ErrDuplicateKey)

	owned, err := s.ListTablesByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, "t2", owned[0].ID, "newest first")

	shared, err := s.ListTablesByGrantee(ctx, "g-bob")
	require.NoError(t, err)
	assert.Len(t, shared, 2)

	got, err := s.GetTable(ctx, "t1")
	require.NoError(t, err)
	got.Name = "renamed"
	require.NoError(t, s.UpdateTable(ctx, got))

	again, err := s.GetTable(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", again.Name)

	require.NoError(t, s.DeleteTable(ctx, "t1"))
	_, err = s.GetTable(ctx, "t1")
	assert.ErrorIs(t, err, core.ErrTableNotFound)
	assert.ErrorIs(t, s.UpdateTable(ctx, older), core.ErrTableNotFound)
}

// TestMemoryStore_ReturnsCopies tests that callers never share state with the store
func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateTable(ctx, &core.Table{ID: "t1", Fields: []core.Field{{Name: "x"}}}))

	got, err := s.GetTable(ctx, "t1")
	require.NoError(t, err)
	got.Fields[0].Name = "mutated"

	again, err := s.GetTable(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "x", again.Fields[0].Name)
}

// TestMemoryStore_FindRows tests filtering, projection, ordering and pagination
func TestMemoryStore_FindRows(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now().Truncate(time.Millisecond)

	seedRow(t, s, "r1", "t1", base.Add(-3*time.Minute), map[string]interface{}{"status": "d-open"})
	seedRow(t, s, "r2", "t1", base.Add(-2*time.Minute), map[string]interface{}{"status": "d-closed"})
	seedRow(t, s, "r3", "t1", base.Add(-1*time.Minute), map[string]interface{}{"status": "d-open", "tags": []string{"d-a", "d-b"}})
	seedRow(t, s, "r4", "t2", base, map[string]interface{}{"status": "d-open"})

	all, err := s.FindRows(ctx, &core.RowQuery{TableID: "t1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"r3", "r2", "r1"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, "owner", all[0].CreatedBy)

	page, err := s.FindRows(ctx, &core.RowQuery{TableID: "t1", Limit: 2, Skip: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "r1", page[0].ID)

	filtered, err := s.FindRows(ctx, &core.RowQuery{
		TableID:    "t1",
		Limit:      10,
		Filter:     map[string][]string{"status": {"d-open"}},
		Projection: []string{"title"},
	})
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, map[string]interface{}{"title": "enc-r3"}, filtered[0].Values)
	assert.Empty(t, filtered[0].CreatedBy)
	assert.Nil(t, filtered[0].Index)

	multi, err := s.FindRows(ctx, &core.RowQuery{TableID: "t1", Limit: 10, Filter: map[string][]string{"tags": {"d-b"}}})
	require.NoError(t, err)
	require.Len(t, multi, 1)
	assert.Equal(t, "r3", multi[0].ID)

	n, err := s.CountRows(ctx, "t1", map[string][]string{"status": {"d-open"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func uniqueRow(id, tableID, code string) *core.Row {
	return &core.Row{
		ID:      id,
		TableID: tableID,
		Index:   map[string]interface{}{"code": code},
		Unique:  []string{core.UniqueKey("code", code)},
	}
}

// TestMemoryStore_UniqueKeys tests the per-table unique backstop
func TestMemoryStore_UniqueKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	seedRow(t, s, "r1", "t1", now, map[string]interface{}{"code": "d-1"})
	require.NoError(t, s.EnableUnique(ctx, "t1", "code"))

	r1, err := s.GetRow(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{core.UniqueKey("code", "d-1")}, r1.Unique, "existing rows are backfilled")

	assert.ErrorIs(t, s.InsertRow(ctx, uniqueRow("r2", "t1", "d-1")), ErrDuplicateKey)

	// Other tables and missing values are not constrained.
	require.NoError(t, s.InsertRow(ctx, uniqueRow("r3", "t2", "d-1")))
	seedRow(t, s, "r4", "t1", now, nil)
	seedRow(t, s, "r5", "t1", now, nil)

	// A row may keep its own value on update.
	require.NoError(t, s.UpdateRow(ctx, r1))

	exists, err := s.ValueExists(ctx, "t1", "code", "d-1", "r1")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = s.ValueExists(ctx, "t1", "code", "d-1", "")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.DisableUnique(ctx, "t1", "code"))
	r1, err = s.GetRow(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.Empty(t, r1.Unique)

	seedRow(t, s, "r6", "t1", now, map[string]interface{}{"code": "d-1"})
	assert.ErrorIs(t, s.EnableUnique(ctx, "t1", "code"), ErrDuplicateKey, "existing duplicates block the field")
	r1, err = s.GetRow(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.Empty(t, r1.Unique, "a failed enable leaves rows untouched")
}

// TestMemoryStore_EnableUniqueKeepsOtherKeys tests that enabling one field
// keeps the keys of the table's other unique fields
func TestMemoryStore_EnableUniqueKeepsOtherKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.InsertRow(ctx, &core.Row{
		ID:      "r1",
		TableID: "t1",
		Index:   map[string]interface{}{"code": "c", "ref": "x"},
		Unique:  []string{core.UniqueKey("ref", "x")},
	}))
	require.NoError(t, s.EnableUnique(ctx, "t1", "code"))
	require.NoError(t, s.EnableUnique(ctx, "t1", "code"), "enabling twice does not duplicate keys")

	r1, err := s.GetRow(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{core.UniqueKey("ref", "x"), core.UniqueKey("code", "c")}, r1.Unique)

	require.NoError(t, s.DisableUnique(ctx, "t1", "code"))
	r1, err = s.GetRow(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{core.UniqueKey("ref", "x")}, r1.Unique)
}

// TestMemoryStore_RowDeletes tests single and bulk row deletion
func TestMemoryStore_RowDeletes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedRow(t, s, "r1", "t1", time.Now(), nil)
	seedRow(t, s, "r2", "t1", time.Now(), nil)
	seedRow(t, s, "r3", "t2", time.Now(), nil)

	assert.ErrorIs(t, s.DeleteRow(ctx, "t2", "r1"), core.ErrRowNotFound, "row of another table")
	require.NoError(t, s.DeleteRow(ctx, "t1", "r1"))
	_, err := s.GetRow(ctx, "t1", "r1")
	assert.ErrorIs(t, err, core.ErrRowNotFound)

	n, err := s.DeleteRowsByTable(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	total, err := s.Count(ctx, CollectionRows)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

// TestMemoryStore_Users tests user lookups and email normalization
func TestMemoryStore_Users(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateUser(ctx, &core.User{ID: "u1", Email: " Admin@Example.com "}))
	assert.ErrorIs(t, s.CreateUser(ctx, &core.User{ID: "u2", Email: "admin@example.com"}), ErrDuplicateKey)

	u, err := s.GetUserByEmail(ctx, "ADMIN@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "admin@example.com", u.Email)

	_, err = s.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrUserNotFound)
}

// TestMemoryStore_LoginAttemptsAndLogs tests attempt counting and log paging
func TestMemoryStore_LoginAttemptsAndLogs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i, ip := range []string{"10.0.0.1", "10.0.0.1", "10.0.0.2"} {
		require.NoError(t, s.InsertLoginAttempt(ctx, &core.LoginAttempt{
			ID: string(rune('a' + i)), Email: "Admin@example.com", IPAddress: ip, Timestamp: time.Now(),
		}))
	}
	n, err := s.CountLoginAttempts(ctx, "admin@example.com", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	base := time.Now()
	for i := 0; i < 5; i++ {
		e := core.NewLogEntry(core.SeverityInfo, "row.insert", "row inserted")
		e.Timestamp = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.InsertLog(ctx, e))
	}
	entries, total, err := s.ListLogs(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Timestamp.After(entries[1].Timestamp))
}

// TestMemoryStore_Wipe tests that a wipe keeps admins and clears everything else
func TestMemoryStore_Wipe(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateUser(ctx, &core.User{ID: "admin", Email: "admin@example.com", IsAdmin: true}))
	require.NoError(t, s.CreateUser(ctx, &core.User{ID: "u1", Email: "alice@example.com"}))
	require.NoError(t, s.CreateTable(ctx, &core.Table{ID: "t1"}))
	seedRow(t, s, "r1", "t1", time.Now(), map[string]interface{}{"code": "d"})
	require.NoError(t, s.EnableUnique(ctx, "t1", "code"))
	require.NoError(t, s.InsertLog(ctx, core.NewLogEntry(core.SeverityInfo, "x", "y")))
	require.NoError(t, s.InsertOTP(ctx, &OTP{ID: "o1", Email: "alice@example.com"}))
	require.NoError(t, s.InsertLoginAttempt(ctx, &core.LoginAttempt{ID: "a1", Email: "admin@example.com"}))

	report, err := s.Wipe(ctx)
	require.NoError(t, err)
	assert.Equal(t, WipeOrder, report.Completed)
	assert.Equal(t, int64(1), report.Deleted[CollectionUsers])

	for _, coll := range WipeOrder {
		n, err := s.Count(ctx, coll)
		require.NoError(t, err)
		if coll == CollectionUsers {
			assert.Equal(t, int64(1), n, "admin survives")
			continue
		}
		assert.Zero(t, n, coll)
	}
	_, err = s.GetUserByID(ctx, "admin")
	assert.NoError(t, err)

	_, err = s.Count(ctx, "nope")
	assert.True(t, errors.Is(err, ErrUnknownCollection))
}

// TestMemoryBackup tests backup copies and their independence from the caller
func TestMemoryBackup(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackup()

	u := &core.User{ID: "u1", Email: "a@example.com", PasswordHash: "hash"}
	require.NoError(t, b.Save(ctx, CollectionUsers, u.ID, u))
	u.Email = "changed@example.com"
	require.NoError(t, b.Save(ctx, CollectionUsers, "u2", &core.User{ID: "u2"}))

	n, err := b.Count(ctx, CollectionUsers)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var got core.User
	require.NoError(t, b.Load(ctx, CollectionUsers, "u1", &got))
	assert.Equal(t, "a@example.com", got.Email)
	assert.Equal(t, "hash", got.PasswordHash)

	assert.ErrorIs(t, b.Load(ctx, CollectionUsers, "nope", &got), ErrNotFound)
	assert.NoError(t, b.Close(ctx))
}
