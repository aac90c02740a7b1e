package ids

import (
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewRequestID_Monotonic(t *testing.T) {
	prev := NewRequestID()
	for range 100 {
		next := NewRequestID()
		if _, err := ulid.ParseStrict(next); err != nil {
			t.Fatalf("ParseStrict(%q) error = %v", next, err)
		}
		if next <= prev {
			t.Fatalf("request ids not increasing: %q then %q", prev, next)
		}
		prev = next
	}
}

func TestNew_Prefix(t *testing.T) {
	id := New("con")
	if !strings.HasPrefix(id, "con-") {
		t.Errorf("New(con) = %q, want con- prefix", id)
	}
	if len(id) != len("con-")+8 {
		t.Errorf("New(con) = %q, want 8 char suffix", id)
	}
	if New("con") == id {
		t.Error("New returned the same id twice")
	}
}
