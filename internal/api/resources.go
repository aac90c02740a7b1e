package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/crm-core/internal/audit"
	"github.com/nerrad567/crm-core/internal/auth"
	"github.com/nerrad567/crm-core/internal/store"
)

// Reserved list query parameters; every other parameter is a filter.
const (
	paramSearch = "q"
	paramSkip   = "skip"
	paramLimit  = "limit"
)

// parseListQuery reads q, skip, limit and per-field filters. Unknown
// filter names are rejected by the adapter with store.ErrInvalidQuery.
func parseListQuery(r *http.Request) (store.ListQuery, error) {
	values := r.URL.Query()
	q := store.ListQuery{Search: values.Get(paramSearch)}

	for name, dst := range map[string]*int{paramSkip: &q.Skip, paramLimit: &q.Limit} {
		if v := values.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return store.ListQuery{}, fmt.Errorf("%s must be an integer", name)
			}
			*dst = n
		}
	}

	for name, vals := range values {
		if name == paramSearch || name == paramSkip || name == paramLimit || len(vals) == 0 {
			continue
		}
		if q.Filters == nil {
			q.Filters = make(map[string]string)
		}
		q.Filters[name] = vals[0]
	}
	return q, nil
}

// resource describes one record kind served under /<kind>.
type resource[T any] struct {
	kind string
	repo func(store.Adapter) store.Repository[T]
	id   func(*T) *string
}

// resourceRoutes mounts list, get, create, update and delete for res.
// Each route carries its own permission declaration from the matrix.
func resourceRoutes[T any](s *Server, res resource[T]) func(chi.Router) {
	perm := func(action string) func(http.Handler) http.Handler {
		return s.requirePermission(auth.RouteID(res.kind, action))
	}
	return func(r chi.Router) {
		r.With(perm(auth.ActionList)).Get("/", listRecords(s, res))
		r.With(perm(auth.ActionCreate)).Post("/", createRecord(s, res))
		r.With(perm(auth.ActionGet)).Get("/{id}", getRecord(s, res))
		r.With(perm(auth.ActionUpdate)).Patch("/{id}", updateRecord(s, res))
		r.With(perm(auth.ActionDelete)).Delete("/{id}", deleteRecord(s, res))
	}
}

func listRecords[T any](s *Server, res resource[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseListQuery(r)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		a, ok := s.adapterFrom(w, r)
		if !ok {
			return
		}
		result, err := res.repo(a).List(r.Context(), q)
		if err != nil {
			s.writeStoreError(w, r, "list "+res.kind, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func getRecord[T any](s *Server, res resource[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := s.adapterFrom(w, r)
		if !ok {
			return
		}
		rec, err := res.repo(a).FindByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			s.writeStoreError(w, r, "get "+res.kind, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func createRecord[T any](s *Server, res resource[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := new(T)
		if err := json.NewDecoder(r.Body).Decode(rec); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
		*res.id(rec) = "" // ids are always assigned by the store

		a, ok := s.adapterFrom(w, r)
		if !ok {
			return
		}
		if err := res.repo(a).Create(r.Context(), rec); err != nil {
			s.writeStoreError(w, r, "create "+res.kind, err)
			return
		}

		s.record(r, audit.ActionCreate, res.kind, *res.id(rec), "", nil)
		writeJSON(w, http.StatusCreated, rec)
	}
}

// updateRecord applies a partial update: fields absent from the body keep
// their stored values.
func updateRecord[T any](s *Server, res resource[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := s.adapterFrom(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")
		repo := res.repo(a)

		rec, err := repo.FindByID(r.Context(), id)
		if err != nil {
			s.writeStoreError(w, r, "get "+res.kind, err)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(rec); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
		*res.id(rec) = id

		if err := repo.Update(r.Context(), rec); err != nil {
			s.writeStoreError(w, r, "update "+res.kind, err)
			return
		}

		s.record(r, audit.ActionUpdate, res.kind, id, "", nil)
		writeJSON(w, http.StatusOK, rec)
	}
}

func deleteRecord[T any](s *Server, res resource[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := s.adapterFrom(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")
		if err := res.repo(a).Delete(r.Context(), id); err != nil {
			s.writeStoreError(w, r, "delete "+res.kind, err)
			return
		}

		s.record(r, audit.ActionDelete, res.kind, id, "", nil)
		w.WriteHeader(http.StatusNoContent)
	}
}

var (
	contactsResource = resource[store.Contact]{
		kind: "contacts",
		repo: func(a store.Adapter) store.Repository[store.Contact] { return a.Contacts() },
		id:   func(c *store.Contact) *string { return &c.ID },
	}
	companiesResource = resource[store.Company]{
		kind: "companies",
		repo: func(a store.Adapter) store.Repository[store.Company] { return a.Companies() },
		id:   func(c *store.Company) *string { return &c.ID },
	}
	dealsResource = resource[store.Deal]{
		kind: "deals",
		repo: func(a store.Adapter) store.Repository[store.Deal] { return a.Deals() },
		id:   func(d *store.Deal) *string { return &d.ID },
	}
	campaignsResource = resource[store.Campaign]{
		kind: "campaigns",
		repo: func(a store.Adapter) store.Repository[store.Campaign] { return a.Campaigns() },
		id:   func(c *store.Campaign) *string { return &c.ID },
	}
	ticketsResource = resource[store.Ticket]{
		kind: "tickets",
		repo: func(a store.Adapter) store.Repository[store.Ticket] { return a.Tickets() },
		id:   func(t *store.Ticket) *string { return &t.ID },
	}
)
