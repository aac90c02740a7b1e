package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/crm-core/internal/auth"
	"github.com/nerrad567/crm-core/internal/ids"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// field is a queryable attribute of a record kind, addressed by its JSON
// name in list queries.
type field[T any] struct {
	name   string
	column string
	get    func(*T) string

	// canon maps a filter value to the form get returns and to the SQL
	// argument bound for it. Nil means the value is used as given.
	canon func(string) (string, any, error)
}

func (f field[T]) canonical(v string) (string, any, error) {
	if f.canon == nil {
		return v, v, nil
	}
	return f.canon(v)
}

// schema describes one record kind to both adapters.
type schema[T any] struct {
	kind   string
	table  string
	prefix string

	// columns lists the data columns in the order values returns them.
	// id, created_at and updated_at are handled separately.
	columns []string
	values  func(*T) ([]any, error)

	// reserved columns are written by Create and by dedicated writes but
	// skipped by Update. carry copies their values from the stored record.
	reserved []string
	carry    func(dst, stored *T)

	// scan reads id, the data columns, created_at and updated_at.
	scan func(scanner) (*T, error)

	meta     func(*T) (id *string, created, updated *time.Time)
	prepare  func(*T)
	validate func(*T) error
	clone    func(*T) *T

	// uniqueKey returns the value that must be unique across the kind.
	// Nil when the kind has no uniqueness rule besides its id.
	uniqueKey func(*T) string

	search  []field[T]
	filters map[string]field[T]

	notFound error
}

func (sc *schema[T]) selectColumns() string {
	cols := make([]string, 0, len(sc.columns)+3)
	cols = append(cols, "id")
	cols = append(cols, sc.columns...)
	cols = append(cols, "created_at", "updated_at")
	return strings.Join(cols, ", ")
}

// updatable reports whether Update writes col.
func (sc *schema[T]) updatable(col string) bool {
	return !slices.Contains(sc.reserved, col)
}

// check normalises the record and runs validation.
func (sc *schema[T]) check(item *T) error {
	if sc.prepare != nil {
		sc.prepare(item)
	}
	if err := sc.validate(item); err != nil {
		return err
	}
	return nil
}

// newID returns the id to store a new record under.
func (sc *schema[T]) newID(item *T) string {
	id, _, _ := sc.meta(item)
	if *id == "" {
		*id = ids.New(sc.prefix)
	}
	return *id
}

// boundFilter is a filter resolved against a field.
type boundFilter[T any] struct {
	field field[T]
	value string
	arg   any
}

// compiledQuery is a ListQuery validated against a schema.
type compiledQuery[T any] struct {
	term    string
	search  []field[T]
	filters []boundFilter[T]
	skip    int
	limit   int
}

// compile validates q against the kind. Unknown filter fields are an
// ErrInvalidQuery.
func (sc *schema[T]) compile(q ListQuery) (*compiledQuery[T], error) {
	q = q.normalize()
	cq := &compiledQuery[T]{
		term:   asciiLower(strings.TrimSpace(q.Search)),
		search: sc.search,
		skip:   q.Skip,
		limit:  q.Limit,
	}

	names := make([]string, 0, len(q.Filters))
	for name := range q.Filters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f, ok := sc.filters[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s cannot be filtered by %q", ErrInvalidQuery, sc.kind, name)
		}
		value, arg, err := f.canonical(q.Filters[name])
		if err != nil {
			return nil, fmt.Errorf("%w: filter %q: %v", ErrInvalidQuery, name, err)
		}
		cq.filters = append(cq.filters, boundFilter[T]{field: f, value: value, arg: arg})
	}
	return cq, nil
}

// matches reports whether item satisfies the search term and every filter.
func (cq *compiledQuery[T]) matches(item *T) bool {
	for _, f := range cq.filters {
		if f.field.get(item) != f.value {
			return false
		}
	}
	if cq.term == "" {
		return true
	}
	for _, f := range cq.search {
		if strings.Contains(asciiLower(f.get(item)), cq.term) {
			return true
		}
	}
	return false
}

// where renders the query as a SQL WHERE clause with ? placeholders.
// lower wraps a column in the dialect's ASCII-only case fold.
func (cq *compiledQuery[T]) where(lower func(column string) string) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	for _, f := range cq.filters {
		clauses = append(clauses, f.field.column+" = ?")
		args = append(args, f.arg)
	}
	if cq.term != "" && len(cq.search) > 0 {
		pattern := "%" + escapeLike(cq.term) + "%"
		ors := make([]string, 0, len(cq.search))
		for _, f := range cq.search {
			ors = append(ors, lower(f.column)+` LIKE ? ESCAPE '\'`)
			args = append(args, pattern)
		}
		clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// asciiLower folds only ASCII letters, matching SQLite's LOWER() and
// Postgres LOWER() under the "C" collation.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// rowStamps receives the stored timestamp columns.
type rowStamps struct {
	created string
	updated string
}

func (r *rowStamps) dest() []any {
	return []any{&r.created, &r.updated}
}

func (r *rowStamps) apply(created, updated *time.Time) error {
	c, err := parseStamp(r.created)
	if err != nil {
		return fmt.Errorf("parsing created_at: %w", err)
	}
	u, err := parseStamp(r.updated)
	if err != nil {
		return fmt.Errorf("parsing updated_at: %w", err)
	}
	*created, *updated = c, u
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func boolField[T any](name, column string, get func(*T) bool) field[T] {
	return field[T]{
		name:   name,
		column: column,
		get:    func(item *T) string { return strconv.FormatBool(get(item)) },
		canon: func(v string) (string, any, error) {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return "", nil, fmt.Errorf("%q is not a boolean", v)
			}
			return strconv.FormatBool(b), boolInt(b), nil
		},
	}
}

func textField[T any](name, column string, get func(*T) string) field[T] {
	return field[T]{name: name, column: column, get: get}
}

func fieldMap[T any](fields ...field[T]) map[string]field[T] {
	m := make(map[string]field[T], len(fields))
	for _, f := range fields {
		m[f.name] = f
	}
	return m
}

func copyOf[T any](item *T) *T {
	c := *item
	return &c
}

var identitySchema = &schema[auth.Identity]{
	kind:   "identity",
	table:  "users",
	prefix: "usr",
	columns: []string{
		"first_name", "last_name", "email", "password_hash", "role",
		"permissions", "custom_permissions", "is_active", "last_login_at",
		"refresh_token_ref",
	},
	values: func(i *auth.Identity) ([]any, error) {
		perms, err := json.Marshal(i.Permissions)
		if err != nil {
			return nil, fmt.Errorf("encoding permissions: %w", err)
		}
		var lastLogin sql.NullString
		if i.LastLoginAt != nil {
			lastLogin = sql.NullString{String: formatStamp(*i.LastLoginAt), Valid: true}
		}
		return []any{
			i.FirstName, i.LastName, i.Email, i.PasswordHash, string(i.Role),
			string(perms), boolInt(i.CustomPermissions), boolInt(i.IsActive), lastLogin,
			i.RefreshTokenRef,
		}, nil
	},
	scan: func(row scanner) (*auth.Identity, error) {
		var (
			i         auth.Identity
			role      string
			perms     string
			custom    int
			active    int
			lastLogin sql.NullString
			ts        rowStamps
		)
		dest := []any{
			&i.ID, &i.FirstName, &i.LastName, &i.Email, &i.PasswordHash, &role,
			&perms, &custom, &active, &lastLogin, &i.RefreshTokenRef,
		}
		if err := row.Scan(append(dest, ts.dest()...)...); err != nil {
			return nil, err
		}
		i.Role = auth.Role(role)
		i.CustomPermissions = custom != 0
		i.IsActive = active != 0
		i.Permissions = []auth.Permission{}
		if perms != "" {
			if err := json.Unmarshal([]byte(perms), &i.Permissions); err != nil {
				return nil, fmt.Errorf("decoding permissions: %w", err)
			}
		}
		if lastLogin.Valid {
			t, err := parseStamp(lastLogin.String)
			if err != nil {
				return nil, fmt.Errorf("parsing last_login_at: %w", err)
			}
			i.LastLoginAt = &t
		}
		return &i, ts.apply(&i.CreatedAt, &i.UpdatedAt)
	},
	meta: func(i *auth.Identity) (*string, *time.Time, *time.Time) {
		return &i.ID, &i.CreatedAt, &i.UpdatedAt
	},
	reserved: []string{"last_login_at", "refresh_token_ref"},
	carry: func(dst, stored *auth.Identity) {
		dst.LastLoginAt = nil
		if stored.LastLoginAt != nil {
			t := *stored.LastLoginAt
			dst.LastLoginAt = &t
		}
		dst.RefreshTokenRef = stored.RefreshTokenRef
	},
	prepare: func(i *auth.Identity) {
		i.Email = auth.NormalizeEmail(i.Email)
		if i.Permissions == nil {
			i.Permissions = []auth.Permission{}
		}
		if i.LastLoginAt != nil {
			t := Stamp(*i.LastLoginAt)
			i.LastLoginAt = &t
		}
	},
	validate: func(i *auth.Identity) error {
		if err := i.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return nil
	},
	clone:     (*auth.Identity).Clone,
	uniqueKey: func(i *auth.Identity) string { return i.Email },
	search: []field[auth.Identity]{
		textField("firstName", "first_name", func(i *auth.Identity) string { return i.FirstName }),
		textField("lastName", "last_name", func(i *auth.Identity) string { return i.LastName }),
		textField("email", "email", func(i *auth.Identity) string { return i.Email }),
	},
	filters: fieldMap(
		textField("role", "role", func(i *auth.Identity) string { return string(i.Role) }),
		boolField("isActive", "is_active", func(i *auth.Identity) bool { return i.IsActive }),
	),
	notFound: errIdentityNotFound,
}

var contactSchema = &schema[Contact]{
	kind:    "contact",
	table:   "contacts",
	prefix:  "con",
	columns: []string{"first_name", "last_name", "email", "phone", "company_id", "status", "owner_id"},
	values: func(c *Contact) ([]any, error) {
		return []any{c.FirstName, c.LastName, c.Email, c.Phone, c.CompanyID, c.Status, c.OwnerID}, nil
	},
	scan: func(row scanner) (*Contact, error) {
		var (
			c  Contact
			ts rowStamps
		)
		dest := []any{&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.CompanyID, &c.Status, &c.OwnerID}
		if err := row.Scan(append(dest, ts.dest()...)...); err != nil {
			return nil, err
		}
		return &c, ts.apply(&c.CreatedAt, &c.UpdatedAt)
	},
	meta: func(c *Contact) (*string, *time.Time, *time.Time) {
		return &c.ID, &c.CreatedAt, &c.UpdatedAt
	},
	validate: (*Contact).Validate,
	clone:    copyOf[Contact],
	search: []field[Contact]{
		textField("firstName", "first_name", func(c *Contact) string { return c.FirstName }),
		textField("lastName", "last_name", func(c *Contact) string { return c.LastName }),
		textField("email", "email", func(c *Contact) string { return c.Email }),
		textField("phone", "phone", func(c *Contact) string { return c.Phone }),
	},
	filters: fieldMap(
		textField("status", "status", func(c *Contact) string { return c.Status }),
		textField("companyId", "company_id", func(c *Contact) string { return c.CompanyID }),
		textField("ownerId", "owner_id", func(c *Contact) string { return c.OwnerID }),
	),
	notFound: fmt.Errorf("contact: %w", ErrNotFound),
}

var companySchema = &schema[Company]{
	kind:    "company",
	table:   "companies",
	prefix:  "cmp",
	columns: []string{"name", "domain", "industry", "size", "owner_id"},
	values: func(c *Company) ([]any, error) {
		return []any{c.Name, c.Domain, c.Industry, c.Size, c.OwnerID}, nil
	},
	scan: func(row scanner) (*Company, error) {
		var (
			c  Company
			ts rowStamps
		)
		dest := []any{&c.ID, &c.Name, &c.Domain, &c.Industry, &c.Size, &c.OwnerID}
		if err := row.Scan(append(dest, ts.dest()...)...); err != nil {
			return nil, err
		}
		return &c, ts.apply(&c.CreatedAt, &c.UpdatedAt)
	},
	meta: func(c *Company) (*string, *time.Time, *time.Time) {
		return &c.ID, &c.CreatedAt, &c.UpdatedAt
	},
	validate: (*Company).Validate,
	clone:    copyOf[Company],
	search: []field[Company]{
		textField("name", "name", func(c *Company) string { return c.Name }),
		textField("domain", "domain", func(c *Company) string { return c.Domain }),
		textField("industry", "industry", func(c *Company) string { return c.Industry }),
	},
	filters: fieldMap(
		textField("industry", "industry", func(c *Company) string { return c.Industry }),
		textField("size", "size", func(c *Company) string { return c.Size }),
		textField("ownerId", "owner_id", func(c *Company) string { return c.OwnerID }),
	),
	notFound: fmt.Errorf("company: %w", ErrNotFound),
}

var dealSchema = &schema[Deal]{
	kind:    "deal",
	table:   "deals",
	prefix:  "deal",
	columns: []string{"title", "company_id", "contact_id", "stage", "amount", "owner_id"},
	values: func(d *Deal) ([]any, error) {
		return []any{d.Title, d.CompanyID, d.ContactID, d.Stage, d.Amount, d.OwnerID}, nil
	},
	scan: func(row scanner) (*Deal, error) {
		var (
			d  Deal
			ts rowStamps
		)
		dest := []any{&d.ID, &d.Title, &d.CompanyID, &d.ContactID, &d.Stage, &d.Amount, &d.OwnerID}
		if err := row.Scan(append(dest, ts.dest()...)...); err != nil {
			return nil, err
		}
		return &d, ts.apply(&d.CreatedAt, &d.UpdatedAt)
	},
	meta: func(d *Deal) (*string, *time.Time, *time.Time) {
		return &d.ID, &d.CreatedAt, &d.UpdatedAt
	},
	validate: (*Deal).Validate,
	clone:    copyOf[Deal],
	search: []field[Deal]{
		textField("title", "title", func(d *Deal) string { return d.Title }),
	},
	filters: fieldMap(
		textField("stage", "stage", func(d *Deal) string { return d.Stage }),
		textField("companyId", "company_id", func(d *Deal) string { return d.CompanyID }),
		textField("contactId", "contact_id", func(d *Deal) string { return d.ContactID }),
		textField("ownerId", "owner_id", func(d *Deal) string { return d.OwnerID }),
	),
	notFound: fmt.Errorf("deal: %w", ErrNotFound),
}

var campaignSchema = &schema[Campaign]{
	kind:    "campaign",
	table:   "campaigns",
	prefix:  "cpg",
	columns: []string{"name", "channel", "status", "budget"},
	values: func(c *Campaign) ([]any, error) {
		return []any{c.Name, c.Channel, c.Status, c.Budget}, nil
	},
	scan: func(row scanner) (*Campaign, error) {
		var (
			c  Campaign
			ts rowStamps
		)
		dest := []any{&c.ID, &c.Name, &c.Channel, &c.Status, &c.Budget}
		if err := row.Scan(append(dest, ts.dest()...)...); err != nil {
			return nil, err
		}
		return &c, ts.apply(&c.CreatedAt, &c.UpdatedAt)
	},
	meta: func(c *Campaign) (*string, *time.Time, *time.Time) {
		return &c.ID, &c.CreatedAt, &c.UpdatedAt
	},
	validate: (*Campaign).Validate,
	clone:    copyOf[Campaign],
	search: []field[Campaign]{
		textField("name", "name", func(c *Campaign) string { return c.Name }),
	},
	filters: fieldMap(
		textField("channel", "channel", func(c *Campaign) string { return c.Channel }),
		textField("status", "status", func(c *Campaign) string { return c.Status }),
	),
	notFound: fmt.Errorf("campaign: %w", ErrNotFound),
}

var ticketSchema = &schema[Ticket]{
	kind:    "ticket",
	table:   "tickets",
	prefix:  "tkt",
	columns: []string{"subject", "description", "priority", "status", "contact_id", "assignee_id"},
	values: func(t *Ticket) ([]any, error) {
		return []any{t.Subject, t.Description, t.Priority, t.Status, t.ContactID, t.AssigneeID}, nil
	},
	scan: func(row scanner) (*Ticket, error) {
		var (
			t  Ticket
			ts rowStamps
		)
		dest := []any{&t.ID, &t.Subject, &t.Description, &t.Priority, &t.Status, &t.ContactID, &t.AssigneeID}
		if err := row.Scan(append(dest, ts.dest()...)...); err != nil {
			return nil, err
		}
		return &t, ts.apply(&t.CreatedAt, &t.UpdatedAt)
	},
	meta: func(t *Ticket) (*string, *time.Time, *time.Time) {
		return &t.ID, &t.CreatedAt, &t.UpdatedAt
	},
	validate: (*Ticket).Validate,
	clone:    copyOf[Ticket],
	search: []field[Ticket]{
		textField("subject", "subject", func(t *Ticket) string { return t.Subject }),
		textField("description", "description", func(t *Ticket) string { return t.Description }),
	},
	filters: fieldMap(
		textField("priority", "priority", func(t *Ticket) string { return t.Priority }),
		textField("status", "status", func(t *Ticket) string { return t.Status }),
		textField("contactId", "contact_id", func(t *Ticket) string { return t.ContactID }),
		textField("assigneeId", "assignee_id", func(t *Ticket) string { return t.AssigneeID }),
	),
	notFound: fmt.Errorf("ticket: %w", ErrNotFound),
}
