package store

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nerrad567/crm-core/internal/auth"
)

//go:embed fixtures.toml
var embeddedFixtures string

// Fixtures is the deterministic data set the fallback store is seeded with.
// Treat it as read-only: Memory.Seed copies every record.
type Fixtures struct {
	Identities []auth.Identity
	Contacts   []Contact
	Companies  []Company
	Deals      []Deal
	Campaigns  []Campaign
	Tickets    []Ticket
}

type fixtureFile struct {
	Identities []struct {
		ID        string    `toml:"id"`
		FirstName string    `toml:"first_name"`
		LastName  string    `toml:"last_name"`
		Email     string    `toml:"email"`
		Password  string    `toml:"password"`
		Role      string    `toml:"role"`
		Inactive  bool      `toml:"inactive"`
		CreatedAt time.Time `toml:"created_at"`
	} `toml:"identities"`
	Contacts []struct {
		ID        string    `toml:"id"`
		FirstName string    `toml:"first_name"`
		LastName  string    `toml:"last_name"`
		Email     string    `toml:"email"`
		Phone     string    `toml:"phone"`
		CompanyID string    `toml:"company_id"`
		Status    string    `toml:"status"`
		OwnerID   string    `toml:"owner_id"`
		CreatedAt time.Time `toml:"created_at"`
	} `toml:"contacts"`
	Companies []struct {
		ID        string    `toml:"id"`
		Name      string    `toml:"name"`
		Domain    string    `toml:"domain"`
		Industry  string    `toml:"industry"`
		Size      string    `toml:"size"`
		OwnerID   string    `toml:"owner_id"`
		CreatedAt time.Time `toml:"created_at"`
	} `toml:"companies"`
	Deals []struct {
		ID        string    `toml:"id"`
		Title     string    `toml:"title"`
		CompanyID string    `toml:"company_id"`
		ContactID string    `toml:"contact_id"`
		Stage     string    `toml:"stage"`
		Amount    float64   `toml:"amount"`
		OwnerID   string    `toml:"owner_id"`
		CreatedAt time.Time `toml:"created_at"`
	} `toml:"deals"`
	Campaigns []struct {
		ID        string    `toml:"id"`
		Name      string    `toml:"name"`
		Channel   string    `toml:"channel"`
		Status    string    `toml:"status"`
		Budget    float64   `toml:"budget"`
		CreatedAt time.Time `toml:"created_at"`
	} `toml:"campaigns"`
	Tickets []struct {
		ID          string    `toml:"id"`
		Subject     string    `toml:"subject"`
		Description string    `toml:"description"`
		Priority    string    `toml:"priority"`
		Status      string    `toml:"status"`
		ContactID   string    `toml:"contact_id"`
		AssigneeID  string    `toml:"assignee_id"`
		CreatedAt   time.Time `toml:"created_at"`
	} `toml:"tickets"`
}

// defaultFixtures parses and hashes the embedded set once per process.
var defaultFixtures = sync.OnceValues(func() (*Fixtures, error) {
	return ParseFixtures(embeddedFixtures)
})

// LoadFixtures returns the fixture set at path, or the embedded set when
// path is empty.
func LoadFixtures(path string) (*Fixtures, error) {
	if path == "" {
		return defaultFixtures()
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("reading fixtures file: %w", err)
	}
	return ParseFixtures(string(data))
}

// ParseFixtures decodes a TOML fixture document. Unknown keys are an error
// so typos do not silently drop data. Passwords are hashed with Argon2id.
func ParseFixtures(doc string) (*Fixtures, error) {
	var raw fixtureFile
	md, err := toml.Decode(doc, &raw)
	if err != nil {
		return nil, fmt.Errorf("decoding fixtures: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("decoding fixtures: unknown keys %s", strings.Join(keys, ", "))
	}

	fx := &Fixtures{}
	for _, r := range raw.Identities {
		hash, err := auth.HashPassword(r.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing fixture password for %s: %w", r.Email, err)
		}
		ident := auth.Identity{
			ID:           r.ID,
			FirstName:    r.FirstName,
			LastName:     r.LastName,
			Email:        auth.NormalizeEmail(r.Email),
			PasswordHash: hash,
			IsActive:     !r.Inactive,
			CreatedAt:    Stamp(r.CreatedAt),
			UpdatedAt:    Stamp(r.CreatedAt),
		}
		ident.SetRole(auth.Role(r.Role))
		fx.Identities = append(fx.Identities, ident)
	}
	for _, r := range raw.Contacts {
		fx.Contacts = append(fx.Contacts, Contact{
			ID: r.ID, FirstName: r.FirstName, LastName: r.LastName, Email: r.Email,
			Phone: r.Phone, CompanyID: r.CompanyID, Status: r.Status, OwnerID: r.OwnerID,
			CreatedAt: Stamp(r.CreatedAt), UpdatedAt: Stamp(r.CreatedAt),
		})
	}
	for _, r := range raw.Companies {
		fx.Companies = append(fx.Companies, Company{
			ID: r.ID, Name: r.Name, Domain: r.Domain, Industry: r.Industry,
			Size: r.Size, OwnerID: r.OwnerID,
			CreatedAt: Stamp(r.CreatedAt), UpdatedAt: Stamp(r.CreatedAt),
		})
	}
	for _, r := range raw.Deals {
		fx.Deals = append(fx.Deals, Deal{
			ID: r.ID, Title: r.Title, CompanyID: r.CompanyID, ContactID: r.ContactID,
			Stage: r.Stage, Amount: r.Amount, OwnerID: r.OwnerID,
			CreatedAt: Stamp(r.CreatedAt), UpdatedAt: Stamp(r.CreatedAt),
		})
	}
	for _, r := range raw.Campaigns {
		fx.Campaigns = append(fx.Campaigns, Campaign{
			ID: r.ID, Name: r.Name, Channel: r.Channel, Status: r.Status, Budget: r.Budget,
			CreatedAt: Stamp(r.CreatedAt), UpdatedAt: Stamp(r.CreatedAt),
		})
	}
	for _, r := range raw.Tickets {
		fx.Tickets = append(fx.Tickets, Ticket{
			ID: r.ID, Subject: r.Subject, Description: r.Description, Priority: r.Priority,
			Status: r.Status, ContactID: r.ContactID, AssigneeID: r.AssigneeID,
			CreatedAt: Stamp(r.CreatedAt), UpdatedAt: Stamp(r.CreatedAt),
		})
	}
	return fx, nil
}
