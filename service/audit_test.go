package service

import (
	"context"
	"errors"
	"testing"

	"tablevault/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// MockLogStore is a mock implementation of LogStore.
type MockLogStore struct {
	mock.Mock
}

func (m *MockLogStore) InsertLog(ctx context.Context, e *core.LogEntry) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockLogStore) ListLogs(ctx context.Context, skip, limit int) ([]*core.LogEntry, int64, error) {
	args := m.Called(ctx, skip, limit)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*core.LogEntry), args.Get(1).(int64), args.Error(2)
}

// MockBackupSink is a mock implementation of BackupSink.
type MockBackupSink struct {
	mock.Mock
}

func (m *MockBackupSink) Dispatch(collection, id string, doc interface{}) bool {
	args := m.Called(collection, id, doc)
	return args.Bool(0)
}

// TestAuditLog_Record tests that entries go to the primary and the backup
func TestAuditLog_Record(t *testing.T) {
	logs := new(MockLogStore)
	sink := new(MockBackupSink)
	audit := NewAuditLog(logs, sink, zap.NewNop().Sugar())

	logs.On("InsertLog", mock.Anything, mock.AnythingOfType("*core.LogEntry")).Return(nil)
	sink.On("Dispatch", "logs", mock.AnythingOfType("string"), mock.Anything).Return(true)

	audit.Info(context.Background(), ActionRowInsert, "row inserted", alice, noReq, "t1", map[string]string{"row_id": "r1"})

	logs.AssertExpectations(t)
	sink.AssertExpectations(t)
	entry := logs.Calls[0].Arguments.Get(1).(*core.LogEntry)
	assert.Equal(t, core.SeverityInfo, entry.Severity)
	assert.Equal(t, "alice", entry.ActorID)
	assert.Equal(t, "10.0.0.1", entry.IPAddress)
	assert.Equal(t, "t1", entry.TableID)
}

// TestAuditLog_RecordFailureIsLogged tests that a failed audit write never propagates
func TestAuditLog_RecordFailureIsLogged(t *testing.T) {
	obsCore, observed := observer.New(zap.WarnLevel)
	logs := new(MockLogStore)
	sink := new(MockBackupSink)
	audit := NewAuditLog(logs, sink, zap.New(obsCore).Sugar())

	logs.On("InsertLog", mock.Anything, mock.Anything).Return(errors.New("primary down"))

	audit.Info(context.Background(), ActionTableDelete, "table deleted", alice, noReq, "t1", nil)

	sink.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
	require.Equal(t, 1, observed.Len())
	assert.Equal(t, "Failed to write audit log entry", observed.All()[0].Message)
}

// TestAuditLog_List tests paging bounds
func TestAuditLog_List(t *testing.T) {
	logs := new(MockLogStore)
	audit := NewAuditLog(logs, nil, zap.NewNop().Sugar())

	entries := []*core.LogEntry{core.NewLogEntry(core.SeverityInfo, "a", "b")}
	logs.On("ListLogs", mock.Anything, 0, core.DefaultPageSize).Return(entries, int64(1), nil)
	logs.On("ListLogs", mock.Anything, 1000, maxPageSize).Return([]*core.LogEntry{}, int64(1), nil)

	page, err := audit.List(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, entries, page.Entries)

	page, err = audit.List(context.Background(), 3, 100000)
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, page.Limit)
	assert.Empty(t, page.Entries)
}
