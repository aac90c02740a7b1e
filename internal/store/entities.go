package store

import (
	"strings"
	"time"
)

// Contact is a person the business talks to.
type Contact struct {
	ID        string    `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CompanyID string    `json:"companyId"`
	Status    string    `json:"status"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks required fields.
func (c *Contact) Validate() error {
	if strings.TrimSpace(c.FirstName+c.LastName) == "" {
		return invalid("contact needs a first or last name")
	}
	if c.Email != "" && !strings.Contains(c.Email, "@") {
		return invalid("contact email %q is not an address", c.Email)
	}
	return nil
}

// Company is an account the business sells to.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	Industry  string    `json:"industry"`
	Size      string    `json:"size"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks required fields.
func (c *Company) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return invalid("company name is required")
	}
	return nil
}

// Deal stages.
var dealStages = []string{"lead", "qualified", "proposal", "negotiation", "won", "lost"}

// Deal is a sales opportunity.
type Deal struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CompanyID string    `json:"companyId"`
	ContactID string    `json:"contactId"`
	Stage     string    `json:"stage"`
	Amount    float64   `json:"amount"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks required fields.
func (d *Deal) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return invalid("deal title is required")
	}
	if d.Amount < 0 {
		return invalid("deal amount must not be negative")
	}
	if d.Stage != "" && !oneOf(d.Stage, dealStages) {
		return invalid("deal stage %q is not one of %v", d.Stage, dealStages)
	}
	return nil
}

// Campaign is a marketing campaign.
type Campaign struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Channel   string    `json:"channel"`
	Status    string    `json:"status"`
	Budget    float64   `json:"budget"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks required fields.
func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return invalid("campaign name is required")
	}
	if c.Budget < 0 {
		return invalid("campaign budget must not be negative")
	}
	return nil
}

// Ticket priorities.
var ticketPriorities = []string{"low", "medium", "high", "urgent"}

// Ticket is a support request.
type Ticket struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	ContactID   string    `json:"contactId"`
	AssigneeID  string    `json:"assigneeId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks required fields.
func (t *Ticket) Validate() error {
	if strings.TrimSpace(t.Subject) == "" {
		return invalid("ticket subject is required")
	}
	if t.Priority != "" && !oneOf(t.Priority, ticketPriorities) {
		return invalid("ticket priority %q is not one of %v", t.Priority, ticketPriorities)
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
