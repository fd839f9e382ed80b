package query

import (
	"sort"
	"strings"

	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/function"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 500
)

// Order is a sort direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// PageRequest selects one page of a sorted listing. Pages are 1-based.
type PageRequest struct {
	Page     int
	PageSize int
	SortBy   string
	Order    Order
}

// Page is one page of results plus enough context to request the next.
type Page struct {
	Items      []function.Record `json:"items"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
	SortBy     string            `json:"sort_by"`
	Order      Order             `json:"order"`
}

// HasNext reports whether a later page exists.
func (p Page) HasNext() bool {
	return p.Page < p.TotalPages
}

type lessFunc func(a, b *function.Record) bool

var sortFields = map[string]lessFunc{
	"function_id":    func(a, b *function.Record) bool { return a.FunctionID < b.FunctionID },
	"name":           func(a, b *function.Record) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) },
	"function_type":  func(a, b *function.Record) bool { return a.FunctionType < b.FunctionType },
	"status":         func(a, b *function.Record) bool { return a.Status < b.Status },
	"security_level": func(a, b *function.Record) bool { return a.SecurityLevel.Rank() < b.SecurityLevel.Rank() },
	"created_at":     func(a, b *function.Record) bool { return a.CreatedAt.Before(b.CreatedAt) },
	"updated_at":     func(a, b *function.Record) bool { return a.UpdatedAt.Before(b.UpdatedAt) },
	"last_activity":  func(a, b *function.Record) bool { return a.LastActivity.Before(b.LastActivity) },
	"execution_count": func(a, b *function.Record) bool {
		return a.ExecutionCount < b.ExecutionCount
	},
	"error_count": func(a, b *function.Record) bool { return a.ErrorCount < b.ErrorCount },
}

// SortFields lists the accepted SortBy values.
func SortFields() []string {
	fields := make([]string, 0, len(sortFields))
	for name := range sortFields {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

// normalize fills defaults and validates the request.
func (req PageRequest) normalize() (PageRequest, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = DefaultPageSize
	}
	if req.SortBy == "" {
		req.SortBy = "function_id"
	}
	if req.Order == "" {
		req.Order = Asc
	}
	req.Order = Order(strings.ToLower(string(req.Order)))

	switch {
	case req.Page < 1:
		return req, errors.NewInvalidRequestError("page must be >= 1, got %d", req.Page)
	case req.PageSize < 1 || req.PageSize > MaxPageSize:
		return req, errors.NewInvalidRequestError("page_size must be between 1 and %d, got %d", MaxPageSize, req.PageSize)
	case req.Order != Asc && req.Order != Desc:
		return req, errors.NewInvalidRequestError("order must be asc or desc, got %q", req.Order)
	}
	if _, ok := sortFields[req.SortBy]; !ok {
		err := errors.NewInvalidRequestError("unknown sort field %q", req.SortBy)
		return req, errors.WithHintf(err, "valid fields: %s", strings.Join(SortFields(), ", "))
	}
	return req, nil
}

// Paginate sorts records in place and returns the requested page.
// Ties are broken by function_id so paging is stable across calls.
func Paginate(records []function.Record, req PageRequest) (Page, error) {
	req, err := req.normalize()
	if err != nil {
		return Page{}, err
	}

	less := sortFields[req.SortBy]
	sort.SliceStable(records, func(i, j int) bool {
		a, b := &records[i], &records[j]
		if req.Order == Desc {
			a, b = b, a
		}
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		return records[i].FunctionID < records[j].FunctionID
	})

	total := len(records)
	page := Page{
		Items:      []function.Record{},
		Total:      total,
		Page:       req.Page,
		PageSize:   req.PageSize,
		TotalPages: (total + req.PageSize - 1) / req.PageSize,
		SortBy:     req.SortBy,
		Order:      req.Order,
	}

	// Compare page numbers before multiplying; a huge page would overflow the offset.
	if req.Page > page.TotalPages {
		return page, nil
	}
	start := (req.Page - 1) * req.PageSize
	end := start + req.PageSize
	if end > total {
		end = total
	}
	page.Items = records[start:end]
	return page, nil
}
