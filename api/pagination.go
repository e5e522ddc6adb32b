package api

import (
	"net/http"
	"strconv"
)

// maxPage caps the page parameter.
const maxPage = 1000000

// PaginationParams holds pagination query parameters. Limit is 0 when the
// caller did not ask for one, leaving the choice to the service.
type PaginationParams struct {
	Page  int
	Limit int
}

// ParsePaginationParams extracts page and limit from the query. Malformed or
// non-positive values are ignored.
func ParsePaginationParams(r *http.Request) PaginationParams {
	p := PaginationParams{Page: 1}

	if v := r.URL.Query().Get("page"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			p.Page = parsed
			if p.Page > maxPage {
				p.Page = maxPage
			}
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			p.Limit = parsed
		}
	}
	return p
}
