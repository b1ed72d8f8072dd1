package pagination

import (
	"math"
	"net/url"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/envvault/internal/errs"
)

func TestFromQueryDefaultsAndClamp(t *testing.T) {
	cfg := Config{DefaultLimit: 20, MaxLimit: 50}

	req, err := FromQuery(url.Values{}, cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, req.Page)
	assert.Equal(t, 20, req.Limit)

	req, err = FromQuery(url.Values{"page": {"3"}, "limit": {"1000"}, "order": {"DESC"}, "search": {" key "}}, cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, req.Page)
	assert.Equal(t, 50, req.Limit, "limit is clamped to the configured maximum")
	assert.Equal(t, Desc, req.Order)
	assert.Equal(t, "key", req.Search)
}

func TestFromQueryRejectsBadInput(t *testing.T) {
	cfg := DefaultConfig()
	for _, q := range []url.Values{
		{"page": {"x"}},
		{"page": {"-1"}},
		{"limit": {"0"}},
		{"limit": {"-5"}},
		{"limit": {"ten"}},
		{"order": {"sideways"}},
	} {
		_, err := FromQuery(q, cfg)
		require.Error(t, err, "query %v", q)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	}
}

func TestResolve(t *testing.T) {
	spec := SortSpec{Allowed: []string{"name", "createdAt"}, Default: "name", DefaultOrder: Asc}

	req, err := Request{Limit: 10}.Resolve(spec)
	require.NoError(t, err)
	assert.Equal(t, "name", req.Sort)
	assert.Equal(t, Asc, req.Order)

	_, err = Request{Limit: 10, Sort: "value"}.Resolve(spec)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestBuildLinksBoundaries(t *testing.T) {
	req := Request{Page: 0, Limit: 10, Sort: "name", Order: Asc, Base: "/v1/items"}
	links := BuildLinks(req, 25)

	assert.Equal(t, "/v1/items?limit=10&order=asc&page=0&sort=name", links.Self)
	assert.Equal(t, links.Self, links.First)
	assert.Nil(t, links.Previous)
	require.NotNil(t, links.Next)
	assert.Equal(t, "/v1/items?limit=10&order=asc&page=1&sort=name", *links.Next)
	assert.Equal(t, "/v1/items?limit=10&order=asc&page=2&sort=name", links.Last)

	req.Page = 2
	links = BuildLinks(req, 25)
	assert.Nil(t, links.Next)
	require.NotNil(t, links.Previous)
	assert.Equal(t, "/v1/items?limit=10&order=asc&page=1&sort=name", *links.Previous)
}

func TestBuildLinksKeepsFilters(t *testing.T) {
	req := Request{Limit: 5, Search: "db", Base: "/v1/audit?operation=rollback"}
	links := BuildLinks(req, 0)
	assert.Equal(t, "/v1/audit?limit=5&operation=rollback&page=0&search=db", links.Self)
	assert.Equal(t, links.Self, links.Last)
	assert.Nil(t, links.Next)
}

func TestWindow(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{1, 2}, Window(items, 0, 2))
	assert.Equal(t, []int{5}, Window(items, 4, 2))
	assert.Equal(t, []int{3, 4, 5}, Window(items, 2, 0))
	assert.Empty(t, Window(items, 6, 2))
	assert.Empty(t, Window(items, -16, 2))
	assert.Equal(t, []int{2, 3, 4, 5}, Window(items, 1, math.MaxInt))
}

func TestClampRejectsPagesPastTheOffsetRange(t *testing.T) {
	cfg := DefaultConfig()

	_, err := Request{Page: math.MaxInt64 / 50, Limit: 100}.Clamp(cfg)
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = FromQuery(url.Values{"page": {"9223372036854775807"}, "limit": {"2"}}, cfg)
	assert.ErrorIs(t, err, errs.ErrValidation)

	req, err := Request{Page: math.MaxInt / 100, Limit: 100}.Clamp(cfg)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, req.Offset(), 0)
	links := BuildLinks(req, 10)
	assert.Nil(t, links.Next)
	require.NotNil(t, links.Previous)
}

func TestNewPageNeverReturnsNilItems(t *testing.T) {
	page := NewPage[string](nil, 0, Request{Limit: 10})
	assert.NotNil(t, page.Items)
	assert.Equal(t, 0, page.Metadata.TotalCount)
}

func TestPropertyLinks(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("previous is nil exactly at page 0", prop.ForAll(
		func(page, limit, total int) bool {
			links := BuildLinks(Request{Page: page, Limit: limit}, total)
			return (links.Previous == nil) == (page == 0)
		},
		gen.IntRange(0, 50), gen.IntRange(1, 100), gen.IntRange(0, 5000),
	))

	properties.Property("next is nil exactly when (page+1)*limit >= total", prop.ForAll(
		func(page, limit, total int) bool {
			links := BuildLinks(Request{Page: page, Limit: limit}, total)
			return (links.Next == nil) == ((page+1)*limit >= total)
		},
		gen.IntRange(0, 50), gen.IntRange(1, 100), gen.IntRange(0, 5000),
	))

	properties.Property("identical requests produce identical pages", prop.ForAll(
		func(page, limit int, search string) bool {
			items := make([]int, 137)
			for i := range items {
				items[i] = i
			}
			req := Request{Page: page, Limit: limit, Sort: "id", Order: Desc, Search: search, Base: "/x"}
			a := NewPage(Window(items, req.Offset(), req.Limit), len(items), req)
			b := NewPage(Window(items, req.Offset(), req.Limit), len(items), req)
			return assert.ObjectsAreEqual(a, b)
		},
		gen.IntRange(0, 20), gen.IntRange(1, 40), gen.AlphaString(),
	))

	properties.TestingRun(t)
}
