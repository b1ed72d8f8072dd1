// Package pagination decodes page/limit/sort/order/search requests and builds bounded,
// deterministic pages with link metadata.
package pagination

import (
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/org/envvault/internal/errs"
)

// Order is the sort direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// Config bounds what callers may request. MaxLimit is enforced regardless of the requested limit.
type Config struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{DefaultLimit: 20, MaxLimit: 100}
}

// SortSpec lists the sortable fields of one resource.
type SortSpec struct {
	Allowed      []string
	Default      string
	DefaultOrder Order
}

// Request is a decoded page request.
type Request struct {
	Page   int
	Limit  int
	Sort   string
	Order  Order
	Search string

	// Base is the path (plus any filter query) links are built against.
	Base string
}

// Offset is the number of rows skipped before this page.
func (r Request) Offset() int {
	return r.Page * r.Limit
}

// FromQuery decodes the wire parameters. Missing values take defaults; the limit is clamped.
func FromQuery(q url.Values, cfg Config) (Request, error) {
	req := Request{
		Sort:   strings.TrimSpace(q.Get("sort")),
		Order:  Order(strings.ToLower(strings.TrimSpace(q.Get("order")))),
		Search: strings.TrimSpace(q.Get("search")),
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Request{}, errs.Validation("page must be an integer, got %q", v)
		}
		req.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Request{}, errs.Validation("limit must be an integer, got %q", v)
		}
		if n <= 0 {
			return Request{}, errs.Validation("limit must be positive, got %d", n)
		}
		req.Limit = n
	}
	return req.Clamp(cfg)
}

// Clamp validates page and order and forces the limit into (0, MaxLimit].
func (r Request) Clamp(cfg Config) (Request, error) {
	if cfg.MaxLimit <= 0 {
		cfg = DefaultConfig()
	}
	if r.Page < 0 {
		return Request{}, errs.Validation("page must be >= 0, got %d", r.Page)
	}
	if r.Limit <= 0 {
		r.Limit = cfg.DefaultLimit
	}
	if r.Limit > cfg.MaxLimit {
		r.Limit = cfg.MaxLimit
	}
	if r.Page > math.MaxInt/r.Limit {
		return Request{}, errs.Validation("page %d is out of range for limit %d", r.Page, r.Limit)
	}
	switch r.Order {
	case "", Asc, Desc:
	default:
		return Request{}, errs.Validation("order must be %q or %q, got %q", Asc, Desc, r.Order)
	}
	return r, nil
}

// Resolve applies a resource's sort spec: empty sort/order take the defaults, unknown fields are rejected.
func (r Request) Resolve(spec SortSpec) (Request, error) {
	if r.Sort == "" {
		r.Sort = spec.Default
	} else if !slices.Contains(spec.Allowed, r.Sort) {
		return Request{}, errs.Validation("cannot sort by %q; allowed: %s", r.Sort, strings.Join(spec.Allowed, ", "))
	}
	if r.Order == "" {
		r.Order = spec.DefaultOrder
		if r.Order == "" {
			r.Order = Asc
		}
	}
	return r, nil
}

// Links point at neighbouring pages. Previous and Next are nil at the boundaries.
type Links struct {
	Self     string  `json:"self"`
	First    string  `json:"first"`
	Previous *string `json:"previous"`
	Next     *string `json:"next"`
	Last     string  `json:"last"`
}

// Metadata accompanies every page.
type Metadata struct {
	TotalCount int   `json:"totalCount"`
	Links      Links `json:"links"`
}

// Page is one bounded slice of a result set.
type Page[T any] struct {
	Items    []T      `json:"items"`
	Metadata Metadata `json:"metadata"`
}

// NewPage wraps items with metadata for req. A nil items slice is reported as empty.
func NewPage[T any](items []T, total int, req Request) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items: items,
		Metadata: Metadata{
			TotalCount: total,
			Links:      BuildLinks(req, total),
		},
	}
}

// LastPage returns the index of the last page for total rows (0 when empty).
func LastPage(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return (total - 1) / limit
}

// BuildLinks renders self/first/previous/next/last for req.
func BuildLinks(req Request, total int) Links {
	last := LastPage(total, req.Limit)
	links := Links{
		Self:  pageURL(req, req.Page),
		First: pageURL(req, 0),
		Last:  pageURL(req, last),
	}
	if req.Page > 0 {
		prev := pageURL(req, min(req.Page-1, last))
		links.Previous = &prev
	}
	if req.Offset() < total-req.Limit {
		next := pageURL(req, req.Page+1)
		links.Next = &next
	}
	return links
}

func pageURL(req Request, page int) string {
	path, rawQuery, _ := strings.Cut(req.Base, "?")
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		q = url.Values{}
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(req.Limit))
	if req.Sort != "" {
		q.Set("sort", req.Sort)
	}
	if req.Order != "" {
		q.Set("order", string(req.Order))
	}
	if req.Search != "" {
		q.Set("search", req.Search)
	}
	// Encode sorts keys, which keeps links stable across calls.
	return path + "?" + q.Encode()
}

// Window returns up to limit items starting at offset; a non-positive limit means no bound.
// Callers pass items already filtered and sorted.
func Window[T any](items []T, offset, limit int) []T {
	if offset < 0 || offset >= len(items) {
		return nil
	}
	if limit <= 0 || limit > len(items)-offset {
		return items[offset:]
	}
	return items[offset : offset+limit]
}

// MatchSearch is the case-insensitive substring test used by every search filter.
func MatchSearch(field, search string) bool {
	if search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(field), strings.ToLower(search))
}
