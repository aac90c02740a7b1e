package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/crm-core/internal/auth"
)

// Memory is the in-process fallback adapter.
//
// Each collection has its own RWMutex: reads share it, writes hold it
// exclusively. Records are copied on the way in and out so callers never
// alias stored values. Every method checks ctx before taking a lock.
type Memory struct {
	now func() time.Time

	identities *memIdentities
	contacts   *memRepo[Contact]
	companies  *memRepo[Company]
	deals      *memRepo[Deal]
	campaigns  *memRepo[Campaign]
	tickets    *memRepo[Ticket]
}

// MemoryOption configures a Memory adapter.
type MemoryOption func(*Memory)

// WithMemoryClock sets the clock used for record timestamps.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty fallback adapter.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	clock := func() time.Time { return Stamp(m.now()) }

	m.identities = &memIdentities{memRepo: newMemRepo(identitySchema, clock)}
	m.contacts = newMemRepo(contactSchema, clock)
	m.companies = newMemRepo(companySchema, clock)
	m.deals = newMemRepo(dealSchema, clock)
	m.campaigns = newMemRepo(campaignSchema, clock)
	m.tickets = newMemRepo(ticketSchema, clock)
	return m
}

// Mode implements Adapter.
func (m *Memory) Mode() Mode { return ModeFallback }

// Identities implements Adapter.
func (m *Memory) Identities() IdentityRepository { return m.identities }

// Contacts implements Adapter.
func (m *Memory) Contacts() Repository[Contact] { return m.contacts }

// Companies implements Adapter.
func (m *Memory) Companies() Repository[Company] { return m.companies }

// Deals implements Adapter.
func (m *Memory) Deals() Repository[Deal] { return m.deals }

// Campaigns implements Adapter.
func (m *Memory) Campaigns() Repository[Campaign] { return m.campaigns }

// Tickets implements Adapter.
func (m *Memory) Tickets() Repository[Ticket] { return m.tickets }

// Seed loads fixture records with their fixed ids and timestamps.
// Records whose id is already present are replaced.
func (m *Memory) Seed(fx *Fixtures) error {
	for i := range fx.Identities {
		if err := m.identities.put(&fx.Identities[i]); err != nil {
			return fmt.Errorf("seeding identity %s: %w", fx.Identities[i].ID, err)
		}
	}
	if err := seedAll(m.contacts, fx.Contacts); err != nil {
		return err
	}
	if err := seedAll(m.companies, fx.Companies); err != nil {
		return err
	}
	if err := seedAll(m.deals, fx.Deals); err != nil {
		return err
	}
	if err := seedAll(m.campaigns, fx.Campaigns); err != nil {
		return err
	}
	return seedAll(m.tickets, fx.Tickets)
}

func seedAll[T any](r *memRepo[T], items []T) error {
	for i := range items {
		if err := r.put(&items[i]); err != nil {
			return fmt.Errorf("seeding %s: %w", r.sc.kind, err)
		}
	}
	return nil
}

// memRepo is a map-backed Repository for one kind.
type memRepo[T any] struct {
	sc  *schema[T]
	now func() time.Time

	mu    sync.RWMutex
	items map[string]*T
	byKey map[string]string // unique key -> id
}

func newMemRepo[T any](sc *schema[T], now func() time.Time) *memRepo[T] {
	return &memRepo[T]{
		sc:    sc,
		now:   now,
		items: make(map[string]*T),
		byKey: make(map[string]string),
	}
}

func (r *memRepo[T]) FindByID(ctx context.Context, id string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		return nil, r.sc.notFound
	}
	return r.sc.clone(item), nil
}

func (r *memRepo[T]) Create(ctx context.Context, item *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.sc.check(item); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.sc.newID(item)
	if _, exists := r.items[id]; exists {
		return fmt.Errorf("%s %s: %w", r.sc.kind, id, ErrConflict)
	}
	if err := r.claimKey(item, id); err != nil {
		return err
	}

	now := r.now()
	_, created, updated := r.sc.meta(item)
	*created, *updated = now, now
	r.items[id] = r.sc.clone(item)
	return nil
}

func (r *memRepo[T]) Update(ctx context.Context, item *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.sc.check(item); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, created, updated := r.sc.meta(item)
	stored, ok := r.items[*id]
	if !ok {
		return r.sc.notFound
	}
	if err := r.claimKey(item, *id); err != nil {
		return err
	}
	r.releaseKey(stored, item)
	if r.sc.carry != nil {
		r.sc.carry(item, stored)
	}

	_, storedCreated, _ := r.sc.meta(stored)
	*created = *storedCreated
	*updated = r.now()
	r.items[*id] = r.sc.clone(item)
	return nil
}

func (r *memRepo[T]) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.items[id]
	if !ok {
		return r.sc.notFound
	}
	r.releaseKey(stored, nil)
	delete(r.items, id)
	return nil
}

func (r *memRepo[T]) List(ctx context.Context, q ListQuery) (*ListResult[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cq, err := r.sc.compile(q)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	matched := make([]*T, 0, len(r.items))
	for _, item := range r.items {
		if cq.matches(item) {
			matched = append(matched, item)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(a, b int) bool {
		idA, createdA, _ := r.sc.meta(matched[a])
		idB, createdB, _ := r.sc.meta(matched[b])
		if !createdA.Equal(*createdB) {
			return createdA.Before(*createdB)
		}
		return *idA < *idB
	})

	result := &ListResult[T]{
		Items: []T{},
		Total: len(matched),
		Skip:  cq.skip,
		Limit: cq.limit,
	}
	for i := cq.skip; i < len(matched) && len(result.Items) < cq.limit; i++ {
		result.Items = append(result.Items, *r.sc.clone(matched[i]))
	}
	return result, nil
}

// put stores item as given, keeping its id and timestamps.
func (r *memRepo[T]) put(item *T) error {
	c := r.sc.clone(item)
	if err := r.sc.check(c); err != nil {
		return err
	}
	id, created, updated := r.sc.meta(c)
	if *id == "" {
		return fmt.Errorf("%w: fixture %s has no id", ErrValidation, r.sc.kind)
	}
	*created, *updated = Stamp(*created), Stamp(*updated)

	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.items[*id]; ok {
		r.releaseKey(stored, nil)
	}
	if err := r.claimKey(c, *id); err != nil {
		return err
	}
	r.items[*id] = c
	return nil
}

// claimKey records item's unique key for id. Caller holds mu.
func (r *memRepo[T]) claimKey(item *T, id string) error {
	if r.sc.uniqueKey == nil {
		return nil
	}
	key := r.sc.uniqueKey(item)
	if owner, taken := r.byKey[key]; taken && owner != id {
		return fmt.Errorf("%s %q: %w", r.sc.kind, key, ErrConflict)
	}
	r.byKey[key] = id
	return nil
}

// releaseKey drops stored's unique key unless next still uses it.
// Caller holds mu.
func (r *memRepo[T]) releaseKey(stored, next *T) {
	if r.sc.uniqueKey == nil {
		return
	}
	key := r.sc.uniqueKey(stored)
	if next != nil && r.sc.uniqueKey(next) == key {
		return
	}
	delete(r.byKey, key)
}

// memIdentities adds the identity lookups.
type memIdentities struct {
	*memRepo[auth.Identity]
}

func (r *memIdentities) FindByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[auth.NormalizeEmail(email)]
	if !ok {
		return nil, r.sc.notFound
	}
	return r.items[id].Clone(), nil
}

func (r *memIdentities) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}

// sessionWrite applies fn to the stored identity under the write lock.
func (r *memIdentities) sessionWrite(ctx context.Context, id string, fn func(stored *auth.Identity) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.items[id]
	if !ok {
		return r.sc.notFound
	}
	return fn(stored)
}

func (r *memIdentities) RecordLogin(ctx context.Context, id, passwordHash string, at time.Time, ref string) error {
	err := r.sessionWrite(ctx, id, func(stored *auth.Identity) error {
		if !stored.IsActive || stored.PasswordHash != passwordHash {
			return auth.ErrStaleIdentity
		}
		t := Stamp(at)
		stored.LastLoginAt = &t
		stored.RefreshTokenRef = ref
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return auth.ErrStaleIdentity
	}
	return err
}

func (r *memIdentities) SwapRefreshRef(ctx context.Context, id, expected, next string) error {
	err := r.sessionWrite(ctx, id, func(stored *auth.Identity) error {
		if !stored.IsActive || stored.RefreshTokenRef != expected {
			return auth.ErrStaleIdentity
		}
		stored.RefreshTokenRef = next
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return auth.ErrStaleIdentity
	}
	return err
}

func (r *memIdentities) ClearRefreshRef(ctx context.Context, id string) error {
	return r.sessionWrite(ctx, id, func(stored *auth.Identity) error {
		stored.RefreshTokenRef = ""
		return nil
	})
}
