package core

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultPageSize is used when neither the caller nor the grant sets a limit.
const DefaultPageSize = 20

// RowQuery is a paginated, filtered, projected read of one table's rows.
// Filter maps a field name to the digests of its allowed values.
type RowQuery struct {
	TableID    string
	Projection []string
	Filter     map[string][]string
	Page       int
	Limit      int
	Skip       int
}

// BuildRowQuery derives the read query for a resolved decision. Owners get an
// unrestricted query. Shared callers get a projection of their readable,
// non-hidden fields and a filter for every permission carrying values; their
// limit defaults to, and is capped by, the grant's rows-per-page limit.
func BuildRowQuery(d *Decision, page, limit, defaultLimit int, digest func(string) string) (*RowQuery, error) {
	if err := d.Err(); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultPageSize
	}

	q := &RowQuery{TableID: d.Table.ID, Page: page}

	if d.State == SharedAllowed {
		grantLimit := d.Mask.RowsPerPageLimit
		switch {
		case grantLimit > 0 && (limit <= 0 || limit > grantLimit):
			limit = grantLimit
		case limit <= 0:
			limit = defaultLimit
		}

		q.Projection = []string{}
		for _, f := range d.Table.Fields {
			if !f.Hidden && d.Mask.Permission(f.Name).CanRead() {
				q.Projection = append(q.Projection, f.Name)
			}
		}

		filter, err := ScopeFilter(d, digest)
		if err != nil {
			return nil, err
		}
		q.Filter = filter
	} else if limit <= 0 {
		limit = defaultLimit
	}

	q.Limit = limit
	q.Skip = (page - 1) * limit
	return q, nil
}

// ScopeFilter returns the row filter implied by a shared caller's grant, or
// nil for owners.
func ScopeFilter(d *Decision, digest func(string) string) (map[string][]string, error) {
	if d.State != SharedAllowed || d.Mask == nil {
		return nil, nil
	}
	var filter map[string][]string
	for name, p := range d.Mask.Permissions {
		if len(p.Filter) == 0 {
			continue
		}
		f, ok := d.Table.FieldByName(name)
		if !ok {
			continue
		}
		digests := make([]string, 0, len(p.Filter))
		for _, raw := range p.Filter {
			v, err := filterValue(f, raw)
			if err != nil {
				return nil, fmt.Errorf("invalid filter on field %q: %w", name, err)
			}
			if s, ok := IndexValue(v, digest).(string); ok {
				digests = append(digests, s)
			}
		}
		if filter == nil {
			filter = make(map[string][]string)
		}
		filter[name] = digests
	}
	return filter, nil
}

// MatchesFilter reports whether a row's indexed values satisfy every filter
// entry. A multi-valued field matches when any of its values is allowed.
func MatchesFilter(row *Row, filter map[string][]string) bool {
	for field, allowed := range filter {
		set := make(map[string]struct{}, len(allowed))
		for _, a := range allowed {
			set[a] = struct{}{}
		}
		if !indexMatches(row.Index[field], set) {
			return false
		}
	}
	return true
}

func indexMatches(v interface{}, set map[string]struct{}) bool {
	switch t := v.(type) {
	case string:
		_, ok := set[t]
		return ok
	case []string:
		for _, s := range t {
			if _, ok := set[s]; ok {
				return true
			}
		}
	case []interface{}:
		for _, e := range t {
			if indexMatches(e, set) {
				return true
			}
		}
	case primitive.A:
		return indexMatches([]interface{}(t), set)
	}
	return false
}

// Project keeps only the projected values of a row. A nil projection keeps
// everything.
func Project(row *Row, projection []string) *Row {
	if projection == nil {
		return row
	}
	out := *row
	out.Values = make(map[string]interface{}, len(projection))
	out.Index = nil
	for _, name := range projection {
		if v, ok := row.Values[name]; ok {
			out.Values[name] = v
		}
	}
	return &out
}

// SharedView returns the table definition as a shared caller may see it:
// readable, non-hidden fields only and no grants.
func SharedView(d *Decision) *Table {
	if d.State == Owner {
		return d.Table
	}
	view := *d.Table
	view.Shares = nil
	view.GranteeIndex = nil
	view.Fields = nil
	for _, f := range d.Table.Fields {
		if !f.Hidden && d.Mask.Permission(f.Name).CanRead() {
			view.Fields = append(view.Fields, f)
		}
	}
	return &view
}
