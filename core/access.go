package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// AccessState is the outcome of resolving a caller against a table.
type AccessState int

const (
	TableNotFound AccessState = iota
	Owner
	SharedAllowed
	SharedBlocked
	SharedNetworkDenied
	SharedTimeDenied
	NotShared
)

func (s AccessState) String() string {
	switch s {
	case TableNotFound:
		return "table_not_found"
	case Owner:
		return "owner"
	case SharedAllowed:
		return "shared_allowed"
	case SharedBlocked:
		return "shared_blocked"
	case SharedNetworkDenied:
		return "shared_network_denied"
	case SharedTimeDenied:
		return "shared_time_denied"
	case NotShared:
		return "not_shared"
	default:
		return "unknown"
	}
}

// Mask is the per-request view a shared collaborator gets of a table.
type Mask struct {
	Permissions      map[string]FieldPermission
	CanEdit          bool
	CanDelete        bool
	RowsPerPageLimit int
}

// Permission returns the caller's permission on a field. Fields without an
// entry are NONE.
func (m *Mask) Permission(field string) Permission {
	if m == nil {
		return PermissionNone
	}
	if p, ok := m.Permissions[field]; ok {
		return p.Permission
	}
	return PermissionNone
}

// Decision is the resolved access for one request. Table is decrypted.
type Decision struct {
	State AccessState
	Table *Table
	Grant *SharedGrant
	Mask  *Mask
}

// Allowed reports whether the caller may proceed.
func (d *Decision) Allowed() bool {
	return d.State == Owner || d.State == SharedAllowed
}

// IsOwner reports whether the caller owns the table.
func (d *Decision) IsOwner() bool {
	return d.State == Owner
}

// Err maps a denied decision to the error taxonomy. It returns nil when access
// is allowed.
func (d *Decision) Err() error {
	switch d.State {
	case Owner, SharedAllowed:
		return nil
	case TableNotFound:
		return ErrTableNotFound
	case SharedBlocked:
		return &PermissionError{Kind: PermissionBlocked}
	case SharedNetworkDenied:
		return &PermissionError{Kind: PermissionNetworkDenied}
	case SharedTimeDenied:
		return &PermissionError{Kind: PermissionTimeDenied}
	default:
		return &PermissionError{Kind: PermissionNotShared}
	}
}

// CanWriteField reports whether the caller may write the named field.
func (d *Decision) CanWriteField(name string) bool {
	if d.State == Owner {
		return true
	}
	return d.State == SharedAllowed && d.Mask.Permission(name).CanWrite()
}

// TableLoader loads a stored, still encrypted table document.
type TableLoader interface {
	GetTable(ctx context.Context, id string) (*Table, error)
}

// TableDecoder decrypts table documents and single values.
type TableDecoder interface {
	DecryptString(s string) string
	DecodeTable(t *Table) (*Table, error)
}

// AccessResolver classifies callers against tables. It holds no per-request
// state; every call loads and evaluates the table from scratch.
type AccessResolver struct {
	tables   TableLoader
	decoder  TableDecoder
	location *time.Location
	now      func() time.Time
}

// NewAccessResolver creates a resolver. Working-time windows are evaluated
// in loc (UTC when nil); now defaults to time.Now.
func NewAccessResolver(tables TableLoader, decoder TableDecoder, loc *time.Location, now func() time.Time) *AccessResolver {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &AccessResolver{tables: tables, decoder: decoder, location: loc, now: now}
}

// Resolve loads the table and classifies the caller.
func (r *AccessResolver) Resolve(ctx context.Context, tableID string, id Identity, req RequestContext) (*Decision, error) {
	stored, err := r.tables.GetTable(ctx, tableID)
	if errors.Is(err, ErrTableNotFound) {
		return &Decision{State: TableNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load table: %w", err)
	}
	return r.ResolveTable(stored, id, req)
}

// ResolveTable classifies the caller against an already loaded, encrypted table.
func (r *AccessResolver) ResolveTable(stored *Table, id Identity, req RequestContext) (*Decision, error) {
	if stored == nil {
		return &Decision{State: TableNotFound}, nil
	}

	if stored.OwnerID == id.UserID && id.UserID != "" {
		table, err := r.decoder.DecodeTable(stored)
		if err != nil {
			return nil, err
		}
		return &Decision{State: Owner, Table: table}, nil
	}

	// Ciphertext is randomized, so both sides are decrypted before comparing.
	requester := r.decoder.DecryptString(id.Email)
	match := -1
	for i, g := range stored.Shares {
		if sameEmail(r.decoder.DecryptString(g.Email), requester) {
			match = i
			break
		}
	}
	if match < 0 || requester == "" {
		return &Decision{State: NotShared}, nil
	}

	table, err := r.decoder.DecodeTable(stored)
	if err != nil {
		return nil, err
	}
	grant := &table.Shares[match]
	d := &Decision{Table: table, Grant: grant}

	switch {
	case grant.IsBlocked:
		d.State = SharedBlocked
	case grant.RestrictNetwork && !networkAllowed(grant.Network, req.IP):
		d.State = SharedNetworkDenied
	case grant.RestrictWorkingTime && !r.workingTimeAllowed(grant.WorkingTime):
		d.State = SharedTimeDenied
	default:
		d.State = SharedAllowed
		d.Mask = newMask(grant)
	}
	return d, nil
}

func newMask(g *SharedGrant) *Mask {
	m := &Mask{
		Permissions:      make(map[string]FieldPermission, len(g.Permissions)),
		CanEdit:          g.CanEdit,
		CanDelete:        g.CanDelete,
		RowsPerPageLimit: g.RowsPerPageLimit,
	}
	for _, p := range g.Permissions {
		m.Permissions[p.FieldName] = p
	}
	return m
}

func networkAllowed(entries []NetworkAccess, ip string) bool {
	want := normalizeIP(ip)
	if want == "" {
		return false
	}
	for _, n := range entries {
		if n.Enabled && normalizeIP(n.IP) == want {
			return true
		}
	}
	return false
}

// normalizeIP canonicalizes IP literals so "::ffff:1.2.3.4" and "1.2.3.4"
// compare equal. Unparseable input is compared verbatim.
func normalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if parsed := net.ParseIP(ip); parsed != nil {
		return parsed.String()
	}
	return ip
}

func (r *AccessResolver) workingTimeAllowed(days []WorkingTimeAccess) bool {
	local := r.now().In(r.location)
	day := strings.ToLower(local.Weekday().String())
	minute := local.Hour()*60 + local.Minute()

	for _, wt := range days {
		if strings.ToLower(wt.Day) != day {
			continue
		}
		if !wt.Enabled || len(wt.Ranges) == 0 {
			return false
		}
		for _, rg := range wt.Ranges {
			start, err := parseClock(rg.Start)
			if err != nil {
				continue
			}
			end, err := parseClock(rg.End)
			if err != nil {
				continue
			}
			if minute >= start && minute <= end {
				return true
			}
		}
		return false
	}
	return false
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
