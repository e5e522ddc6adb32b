package core

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Weekdays lists the accepted WorkingTimeAccess day names.
var Weekdays = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// NewTable creates a table owned by ownerID.
func NewTable(name, ownerID string, fields []Field) *Table {
	now := time.Now().UTC()
	return &Table{
		ID:        uuid.New().String(),
		Name:      name,
		OwnerID:   ownerID,
		Fields:    fields,
		CreatedBy: ownerID,
		UpdatedBy: ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ValidateDefinition checks the table name and field list.
func (t *Table) ValidateDefinition() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTable)
	}
	if len(t.Fields) == 0 {
		return fmt.Errorf("%w: at least one field is required", ErrInvalidTable)
	}

	seen := make(map[string]struct{}, len(t.Fields))
	for _, f := range t.Fields {
		if err := f.Validate(); err != nil {
			return err
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: duplicate field name %q", ErrInvalidTable, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// Validate checks a single field definition.
func (f Field) Validate() error {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return fmt.Errorf("%w: field name is required", ErrInvalidTable)
	}
	if name != f.Name || strings.Contains(name, ".") || strings.HasPrefix(name, "$") {
		return fmt.Errorf("%w: field name %q may not contain '.', start with '$' or carry surrounding spaces", ErrInvalidTable, f.Name)
	}
	if !f.Type.IsValid() {
		return fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidTable, f.Name, f.Type)
	}
	if f.Type == FieldTypeSelect && len(f.Options) == 0 {
		return fmt.Errorf("%w: SELECT field %q requires options", ErrInvalidTable, f.Name)
	}
	if f.Unique && (f.Type == FieldTypeAttachment || f.Type == FieldTypeMultiSelect) {
		return fmt.Errorf("%w: field %q of type %s cannot be unique", ErrInvalidTable, f.Name, f.Type)
	}
	opts := make(map[string]struct{}, len(f.Options))
	for _, o := range f.Options {
		if _, dup := opts[o]; dup {
			return fmt.Errorf("%w: field %q has duplicate option %q", ErrInvalidTable, f.Name, o)
		}
		opts[o] = struct{}{}
	}
	return nil
}

// FindGrant returns the index of the grant whose email matches, or -1.
// Emails must already be decrypted.
func (t *Table) FindGrant(email string) int {
	for i, g := range t.Shares {
		if sameEmail(g.Email, email) {
			return i
		}
	}
	return -1
}

// ValidateGrant checks a grant against the table's fields. Every permission
// must reference an existing field and every filter must coerce to the
// field's type.
func (t *Table) ValidateGrant(g *SharedGrant) error {
	if strings.TrimSpace(g.Email) == "" {
		return fmt.Errorf("%w: grant email is required", ErrInvalidTable)
	}
	if g.RowsPerPageLimit < 0 {
		return fmt.Errorf("%w: rows_per_page_limit must not be negative", ErrInvalidTable)
	}

	seen := make(map[string]struct{}, len(g.Permissions))
	for _, p := range g.Permissions {
		f, ok := t.FieldByName(p.FieldName)
		if !ok {
			return fmt.Errorf("%w: permission references unknown field %q", ErrInvalidTable, p.FieldName)
		}
		if _, dup := seen[p.FieldName]; dup {
			return fmt.Errorf("%w: duplicate permission for field %q", ErrInvalidTable, p.FieldName)
		}
		seen[p.FieldName] = struct{}{}
		if !p.Permission.IsValid() {
			return fmt.Errorf("%w: invalid permission %q for field %q", ErrInvalidTable, p.Permission, p.FieldName)
		}
		if len(p.Filter) > 0 {
			if !f.Type.Indexable() {
				return fmt.Errorf("%w: field %q cannot be filtered", ErrInvalidTable, p.FieldName)
			}
			for _, v := range p.Filter {
				if _, err := filterValue(f, v); err != nil {
					return fmt.Errorf("%w: %v", ErrInvalidTable, err)
				}
			}
		}
	}

	days := make(map[string]struct{}, len(g.WorkingTime))
	for _, wt := range g.WorkingTime {
		if !validWeekday(wt.Day) {
			return fmt.Errorf("%w: unknown weekday %q", ErrInvalidTable, wt.Day)
		}
		day := strings.ToLower(wt.Day)
		if _, dup := days[day]; dup {
			return fmt.Errorf("%w: weekday %q listed more than once", ErrInvalidTable, wt.Day)
		}
		days[day] = struct{}{}
		for _, r := range wt.Ranges {
			start, err := parseClock(r.Start)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidTable, err)
			}
			end, err := parseClock(r.End)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidTable, err)
			}
			if end < start {
				return fmt.Errorf("%w: time range %s-%s ends before it starts", ErrInvalidTable, r.Start, r.End)
			}
		}
	}

	for _, n := range g.Network {
		if strings.TrimSpace(n.IP) == "" {
			return fmt.Errorf("%w: network entry requires an ip", ErrInvalidTable)
		}
	}
	return nil
}

// PruneGrants drops permissions that reference fields no longer on the table.
func (t *Table) PruneGrants() {
	for i := range t.Shares {
		kept := t.Shares[i].Permissions[:0]
		for _, p := range t.Shares[i].Permissions {
			if _, ok := t.FieldByName(p.FieldName); ok {
				kept = append(kept, p)
			}
		}
		t.Shares[i].Permissions = kept
	}
}

// filterValue coerces a grant filter entry to the field's type so it compares
// equal to stored row values.
func filterValue(f Field, raw string) (interface{}, error) {
	check := f
	check.Required = false
	if f.Type == FieldTypeMultiSelect {
		check.Type = FieldTypeText
	}
	v, verr := CoerceValue(check, raw)
	if verr != nil {
		return nil, verr
	}
	return v, nil
}

func validWeekday(day string) bool {
	for _, d := range Weekdays {
		if d == strings.ToLower(day) {
			return true
		}
	}
	return false
}

func sameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// NetworkFamily returns "ipv4" or "ipv6" for an IP literal, or "" when the
// literal does not parse.
func NetworkFamily(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	switch {
	case parsed == nil:
		return ""
	case parsed.To4() != nil:
		return "ipv4"
	default:
		return "ipv6"
	}
}
