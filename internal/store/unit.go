package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/crm-core/internal/auth"
)

// Unit wraps the adapter chosen for one unit of work and records whether
// any call attempted a write and the first outage seen.
//
// A unit that saw an outage before attempting any write changed nothing
// in the durable store and can be run again against the fallback.
type Unit struct {
	Adapter

	mu     sync.Mutex
	wrote  bool
	outage error

	identities *unitIdentities
}

// NewUnit wraps a for one unit of work.
func NewUnit(a Adapter) *Unit {
	u := &Unit{Adapter: a}
	u.identities = &unitIdentities{
		unitRepo: unitRepo[auth.Identity]{Repository: a.Identities(), u: u},
		inner:    a.Identities(),
	}
	return u
}

// Replayable reports whether the unit hit an outage without attempting a
// write.
func (u *Unit) Replayable() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.outage != nil && !u.wrote
}

// Outage returns the first ErrUnavailable seen, or nil.
func (u *Unit) Outage() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.outage
}

func (u *Unit) writing() {
	u.mu.Lock()
	u.wrote = true
	u.mu.Unlock()
}

func (u *Unit) observe(err error) {
	if err == nil || !errors.Is(err, ErrUnavailable) {
		return
	}
	u.mu.Lock()
	if u.outage == nil {
		u.outage = err
	}
	u.mu.Unlock()
}

// Identities implements Adapter.
func (u *Unit) Identities() IdentityRepository { return u.identities }

// Contacts implements Adapter.
func (u *Unit) Contacts() Repository[Contact] { return track(u, u.Adapter.Contacts()) }

// Companies implements Adapter.
func (u *Unit) Companies() Repository[Company] { return track(u, u.Adapter.Companies()) }

// Deals implements Adapter.
func (u *Unit) Deals() Repository[Deal] { return track(u, u.Adapter.Deals()) }

// Campaigns implements Adapter.
func (u *Unit) Campaigns() Repository[Campaign] { return track(u, u.Adapter.Campaigns()) }

// Tickets implements Adapter.
func (u *Unit) Tickets() Repository[Ticket] { return track(u, u.Adapter.Tickets()) }

func track[T any](u *Unit, r Repository[T]) Repository[T] {
	return &unitRepo[T]{Repository: r, u: u}
}

type unitRepo[T any] struct {
	Repository[T]
	u *Unit
}

func (r *unitRepo[T]) FindByID(ctx context.Context, id string) (*T, error) {
	item, err := r.Repository.FindByID(ctx, id)
	r.u.observe(err)
	return item, err
}

func (r *unitRepo[T]) Create(ctx context.Context, item *T) error {
	r.u.writing()
	err := r.Repository.Create(ctx, item)
	r.u.observe(err)
	return err
}

func (r *unitRepo[T]) Update(ctx context.Context, item *T) error {
	r.u.writing()
	err := r.Repository.Update(ctx, item)
	r.u.observe(err)
	return err
}

func (r *unitRepo[T]) Delete(ctx context.Context, id string) error {
	r.u.writing()
	err := r.Repository.Delete(ctx, id)
	r.u.observe(err)
	return err
}

func (r *unitRepo[T]) List(ctx context.Context, q ListQuery) (*ListResult[T], error) {
	result, err := r.Repository.List(ctx, q)
	r.u.observe(err)
	return result, err
}

type unitIdentities struct {
	unitRepo[auth.Identity]
	inner IdentityRepository
}

func (r *unitIdentities) FindByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	ident, err := r.inner.FindByEmail(ctx, email)
	r.u.observe(err)
	return ident, err
}

func (r *unitIdentities) Count(ctx context.Context) (int, error) {
	n, err := r.inner.Count(ctx)
	r.u.observe(err)
	return n, err
}

func (r *unitIdentities) RecordLogin(ctx context.Context, id, passwordHash string, at time.Time, ref string) error {
	r.u.writing()
	err := r.inner.RecordLogin(ctx, id, passwordHash, at, ref)
	r.u.observe(err)
	return err
}

func (r *unitIdentities) SwapRefreshRef(ctx context.Context, id, expected, next string) error {
	r.u.writing()
	err := r.inner.SwapRefreshRef(ctx, id, expected, next)
	r.u.observe(err)
	return err
}

func (r *unitIdentities) ClearRefreshRef(ctx context.Context, id string) error {
	r.u.writing()
	err := r.inner.ClearRefreshRef(ctx, id)
	r.u.observe(err)
	return err
}
