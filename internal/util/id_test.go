package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("req")
	if !strings.HasPrefix(id, "req_") {
		t.Fatalf("NewID() = %q, want req_ prefix", id)
	}
	if len(id) != len("req_")+32 {
		t.Fatalf("NewID() length = %d", len(id))
	}
	if NewID("") == NewID("") {
		t.Fatal("expected distinct ids")
	}
	if strings.Contains(NewID(""), "_") {
		t.Fatal("unprefixed id must not contain a separator")
	}
}
