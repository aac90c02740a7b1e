package audit

import (
	"strings"
	"time"
)

// Actions recorded by the HTTP layer.
const (
	ActionLogin         = "login"
	ActionLoginFailed   = "login_failed"
	ActionRefresh       = "refresh"
	ActionRefreshFailed = "refresh_failed"
	ActionLogout        = "logout"
	ActionCreate        = "create"
	ActionUpdate        = "update"
	ActionDelete        = "delete"
)

// failedSuffix marks actions that describe a rejected attempt.
const failedSuffix = "_failed"

// SourceAPI is the source of every entry written by the HTTP layer.
const SourceAPI = "api"

// Entry is a single audit trail record.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId,omitempty"`
	UserID     string         `json:"userId,omitempty"`
	Source     string         `json:"source"`
	Mode       string         `json:"mode,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Outcome reports "failure" for rejected attempts and "success" otherwise.
func (e *Entry) Outcome() string {
	if strings.HasSuffix(e.Action, failedSuffix) {
		return "failure"
	}
	return "success"
}

// Role returns the "role" detail, or "" when absent.
func (e *Entry) Role() string {
	role, _ := e.Details["role"].(string) //nolint:errcheck // type assertion, absent is fine
	return role
}

// Filter controls which entries List returns.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	UserID     string
	Limit      int // default 50, max 200
	Offset     int
}

// Page size bounds for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

func (f *Filter) normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}
