package core

import (
	"time"

	"github.com/google/uuid"
)

// FieldType is the declared type of a table column.
type FieldType string

// Column types. The set is closed.
const (
	FieldTypeText        FieldType = "TEXT"
	FieldTypeNumber      FieldType = "NUMBER"
	FieldTypeDate        FieldType = "DATE"
	FieldTypeDateTime    FieldType = "DATE-TIME"
	FieldTypeBoolean     FieldType = "BOOLEAN"
	FieldTypeSelect      FieldType = "SELECT"
	FieldTypeMultiSelect FieldType = "MULTISELECT"
	FieldTypeAttachment  FieldType = "ATTACHMENT"
)

// IsValid reports whether t is one of the known column types.
func (t FieldType) IsValid() bool {
	switch t {
	case FieldTypeText, FieldTypeNumber, FieldTypeDate, FieldTypeDateTime,
		FieldTypeBoolean, FieldTypeSelect, FieldTypeMultiSelect, FieldTypeAttachment:
		return true
	}
	return false
}

// Indexable reports whether values of this type can back equality filters
// and unique constraints.
func (t FieldType) Indexable() bool {
	return t != FieldTypeAttachment
}

// Permission is a collaborator's access level on one field.
type Permission string

const (
	PermissionRead  Permission = "READ"
	PermissionWrite Permission = "WRITE"
	PermissionNone  Permission = "NONE"
)

// IsValid reports whether p is a known permission.
func (p Permission) IsValid() bool {
	return p == PermissionRead || p == PermissionWrite || p == PermissionNone
}

// CanRead reports whether the field is visible.
func (p Permission) CanRead() bool {
	return p == PermissionRead || p == PermissionWrite
}

// CanWrite reports whether the field accepts writes.
func (p Permission) CanWrite() bool {
	return p == PermissionWrite
}

// Field is a column definition. Name and Options are stored encrypted.
type Field struct {
	Name     string    `json:"name" bson:"name" validate:"required,max=200"`
	Type     FieldType `json:"type" bson:"type" validate:"required"`
	Required bool      `json:"required" bson:"required"`
	Unique   bool      `json:"unique" bson:"unique"`
	Hidden   bool      `json:"hidden" bson:"hidden"`
	Options  []string  `json:"options,omitempty" bson:"options,omitempty"`
}

// FieldPermission grants a permission on one field, optionally restricted
// to rows whose value is one of Filter.
type FieldPermission struct {
	FieldName  string     `json:"field_name" bson:"field_name" validate:"required"`
	Permission Permission `json:"permission" bson:"permission" validate:"required"`
	Filter     []string   `json:"filter,omitempty" bson:"filter,omitempty"`
}

// TimeRange is an inclusive HH:MM window.
type TimeRange struct {
	Start string `json:"start" bson:"start"`
	End   string `json:"end" bson:"end"`
}

// WorkingTimeAccess configures the allowed windows for one weekday.
// Day is the lower-case English weekday name ("monday").
type WorkingTimeAccess struct {
	Day     string      `json:"day" bson:"day"`
	Enabled bool        `json:"enabled" bson:"enabled"`
	Ranges  []TimeRange `json:"ranges,omitempty" bson:"ranges,omitempty"`
}

// NetworkAccess is one allow-listed origin address.
type NetworkAccess struct {
	IP      string `json:"ip" bson:"ip"`
	Enabled bool   `json:"enabled" bson:"enabled"`
	Family  string `json:"family,omitempty" bson:"family,omitempty"`
	Comment string `json:"comment,omitempty" bson:"comment,omitempty"`
}

// SharedGrant describes one collaborator's access to a table. Grants are
// keyed by grantee email within a table.
type SharedGrant struct {
	Email               string              `json:"email" bson:"email" validate:"required,email"`
	Permissions         []FieldPermission   `json:"permissions" bson:"permissions"`
	CanEdit             bool                `json:"can_edit" bson:"can_edit"`
	CanDelete           bool                `json:"can_delete" bson:"can_delete"`
	IsBlocked           bool                `json:"is_blocked" bson:"is_blocked"`
	RowsPerPageLimit    int                 `json:"rows_per_page_limit" bson:"rows_per_page_limit" validate:"gte=0"`
	WorkingTime         []WorkingTimeAccess `json:"working_time,omitempty" bson:"working_time,omitempty"`
	Network             []NetworkAccess     `json:"network,omitempty" bson:"network,omitempty"`
	RestrictNetwork     bool                `json:"restrict_network" bson:"restrict_network"`
	RestrictWorkingTime bool                `json:"restrict_working_time" bson:"restrict_working_time"`
}

// Table is a user-defined dataset. Shares are embedded and have no
// lifecycle of their own.
type Table struct {
	ID           string        `json:"id" bson:"_id"`
	Name         string        `json:"name" bson:"name"`
	OwnerID      string        `json:"owner_id" bson:"owner_id"`
	Fields       []Field       `json:"fields" bson:"fields"`
	Shares       []SharedGrant `json:"shares,omitempty" bson:"shares,omitempty"`
	GranteeIndex []string      `json:"-" bson:"grantee_index,omitempty"`
	CreatedBy    string        `json:"created_by" bson:"created_by"`
	UpdatedBy    string        `json:"updated_by" bson:"updated_by"`
	CreatedAt    time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" bson:"updated_at"`
}

// FieldByName returns the field with the given name.
func (t *Table) FieldByName(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Row is one record of a table. Values maps field name to the coerced value.
// Index holds the keyed digests of indexable values, used for equality
// filters while Values stay encrypted at rest. Unique lists one UniqueKey per
// unique field with a value; stores keep it unique within a table.
type Row struct {
	ID        string                 `json:"id" bson:"_id"`
	TableID   string                 `json:"table_id" bson:"table_id"`
	CreatedBy string                 `json:"created_by,omitempty" bson:"created_by,omitempty"`
	UpdatedBy string                 `json:"updated_by,omitempty" bson:"updated_by,omitempty"`
	Values    map[string]interface{} `json:"values" bson:"values"`
	Index     map[string]interface{} `json:"-" bson:"index,omitempty"`
	Unique    []string               `json:"-" bson:"uniq,omitempty"`
	CreatedAt time.Time              `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time              `json:"updated_at,omitempty" bson:"updated_at,omitempty"`
}

// UniqueKey is the Unique entry of a field digest. Field names never contain
// '.', so the prefix identifies the field.
func UniqueKey(field, digest string) string {
	return field + "." + digest
}

// NewRow creates a row with a generated id.
func NewRow(tableID, actorID string) *Row {
	now := time.Now().UTC()
	return &Row{
		ID:        uuid.New().String(),
		TableID:   tableID,
		CreatedBy: actorID,
		UpdatedBy: actorID,
		Values:    make(map[string]interface{}),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Attachment describes a stored file referenced by an ATTACHMENT field.
type Attachment struct {
	URL          string `json:"url" bson:"url"`
	ContentID    string `json:"content_id" bson:"content_id"`
	OriginalName string `json:"original_name" bson:"original_name"`
	StoragePath  string `json:"storage_path" bson:"storage_path"`
}

// AttachmentUpload is a file already stored by the upload handler.
type AttachmentUpload struct {
	FieldName string
	Attachment
}

// User is an account. Email is stored normalized so failed logins can be
// counted against it.
type User struct {
	ID           string    `json:"id" bson:"_id"`
	Email        string    `json:"email" bson:"email"`
	Name         string    `json:"name" bson:"name"`
	PasswordHash string    `json:"-" bson:"password_hash"`
	IsAdmin      bool      `json:"is_admin" bson:"is_admin"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}

// LoginAttempt records one failed login. Attempts are append-only.
type LoginAttempt struct {
	ID          string    `json:"id" bson:"_id"`
	Email       string    `json:"email" bson:"email"`
	IPAddress   string    `json:"ip_address" bson:"ip_address"`
	UserAgent   string    `json:"user_agent" bson:"user_agent"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
	AdminTarget bool      `json:"admin_target" bson:"admin_target"`
}

// Severity of an audit log entry.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// LogEntry is an audit log record.
type LogEntry struct {
	ID        string            `json:"id" bson:"_id"`
	Severity  Severity          `json:"severity" bson:"severity"`
	Action    string            `json:"action" bson:"action"`
	Message   string            `json:"message" bson:"message"`
	ActorID   string            `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
	TableID   string            `json:"table_id,omitempty" bson:"table_id,omitempty"`
	IPAddress string            `json:"ip_address,omitempty" bson:"ip_address,omitempty"`
	Details   map[string]string `json:"details,omitempty" bson:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp" bson:"timestamp"`
}

// NewLogEntry creates a log entry stamped with the current time.
func NewLogEntry(severity Severity, action, message string) *LogEntry {
	return &LogEntry{
		ID:        uuid.New().String(),
		Severity:  severity,
		Action:    action,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Identity is the authenticated caller.
type Identity struct {
	UserID  string
	Email   string
	IsAdmin bool
}

// RequestContext carries per-request facts used by access checks.
type RequestContext struct {
	IP string
}
