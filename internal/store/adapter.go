package store

import (
	"context"
	"time"

	"github.com/nerrad567/crm-core/internal/auth"
)

// Mode names the backend serving a unit of work.
type Mode string

const (
	ModeDurable  Mode = "durable"
	ModeFallback Mode = "fallback"
)

// Adapter is the uniform persistence contract implemented by the durable
// SQL store and the in-memory fallback store.
type Adapter interface {
	Mode() Mode
	Identities() IdentityRepository
	Contacts() Repository[Contact]
	Companies() Repository[Company]
	Deals() Repository[Deal]
	Campaigns() Repository[Campaign]
	Tickets() Repository[Ticket]
}

// Repository is the CRUD contract for one entity kind.
//
// Create assigns an id when empty and sets both timestamps. Update keeps
// the stored creation time and sets UpdatedAt. Both write the final
// values back into the argument. Update never writes columns a kind
// reserves for narrower writes; their stored values are written back.
type Repository[T any] interface {
	FindByID(ctx context.Context, id string) (*T, error)
	Create(ctx context.Context, item *T) error
	Update(ctx context.Context, item *T) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, q ListQuery) (*ListResult[T], error)
}

// IdentityRepository adds identity specific lookups. It satisfies
// auth.IdentityStore and auth.SeedStore.
type IdentityRepository interface {
	Repository[auth.Identity]
	FindByEmail(ctx context.Context, email string) (*auth.Identity, error)
	Count(ctx context.Context) (int, error)

	RecordLogin(ctx context.Context, id, passwordHash string, at time.Time, ref string) error
	SwapRefreshRef(ctx context.Context, id, expected, next string) error
	ClearRefreshRef(ctx context.Context, id string) error
}

// Page size bounds for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ListQuery selects a page of records.
//
// Search is a case-insensitive substring match against the kind's search
// fields; Filters are exact matches keyed by JSON field name.
type ListQuery struct {
	Search  string
	Filters map[string]string
	Skip    int
	Limit   int
}

// ListResult is one page of records ordered by creation time, then id.
type ListResult[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
}

// normalize clamps paging values.
func (q ListQuery) normalize() ListQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Skip < 0 {
		q.Skip = 0
	}
	return q
}

// stampLayout is the fixed-width UTC layout timestamps are stored in.
// Lexical order equals chronological order.
const stampLayout = "2006-01-02T15:04:05.000000Z"

// Stamp returns t in UTC truncated to microseconds, the precision both
// backends keep.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func formatStamp(t time.Time) string {
	return Stamp(t).Format(stampLayout)
}

func parseStamp(s string) (time.Time, error) {
	return time.Parse(stampLayout, s)
}

type adapterKey struct{}

// WithAdapter fixes the adapter for the unit of work carried by ctx.
func WithAdapter(ctx context.Context, a Adapter) context.Context {
	return context.WithValue(ctx, adapterKey{}, a)
}

// FromContext returns the adapter chosen for this unit of work.
func FromContext(ctx context.Context) (Adapter, bool) {
	a, ok := ctx.Value(adapterKey{}).(Adapter)
	return a, ok && a != nil
}
