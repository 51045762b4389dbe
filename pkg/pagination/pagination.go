package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is a 1-based page request.
type Params struct {
	Page  int
	Limit int
}

// New normalizes page and limit: page defaults to 1 and limit to
// DefaultLimit, and limit is capped at MaxLimit.
func New(page, limit int) Params {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Params{Page: page, Limit: limit}
}

// FromContext extracts ?page= and ?limit= from the echo context.
func FromContext(c echo.Context) Params {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	return New(page, limit)
}

// Skip is the number of rows before the requested page: (page-1)*limit.
func (p Params) Skip() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// Take is the number of rows in one page.
func (p Params) Take() int {
	return p.Limit
}

// TotalPages is ceil(total/limit), or 0 when limit is 0.
func (p Params) TotalPages(total int) int {
	if p.Limit <= 0 || total <= 0 {
		return 0
	}
	return (total + p.Limit - 1) / p.Limit
}

// Window slices an in-memory result set to the requested page.
func Window[T any](items []T, p Params) []T {
	start := p.Skip()
	if start >= len(items) {
		return []T{}
	}
	end := start + p.Take()
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// Response wraps a paginated API response.
type Response struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

func NewResponse(data interface{}, total int, p Params) *Response {
	return &Response{
		Data:       data,
		Total:      total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: p.TotalPages(total),
	}
}
