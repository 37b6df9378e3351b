package store

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/sidegrid/sidegrid/internal/fault"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSaveGetRoundtrip(t *testing.T) {
	s := newTestStore(t)

	payload := []byte(`{"id": "x", "tests": []}`)
	if err := s.Save("login", payload); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ok, err := s.Exists("login")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true", ok, err)
	}

	got, err := s.Get("login")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Get = %q, want %q", got, payload)
	}
}

func TestSaveIsLastWriterWins(t *testing.T) {
	s := newTestStore(t)

	if err := s.Save("login", []byte("first")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save("login", []byte("second")); err != nil {
		t.Fatalf("Save again: %v", err)
	}
	got, err := s.Get("login")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("Get = %q, want %q", got, "second")
	}
}

func TestListOrdered(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := s.Save(id, []byte(id)); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	ids, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if want := []string{"alpha", "mid", "zeta"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("List = %v, want %v", ids, want)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Save("gone", []byte("x")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("gone"); !fault.Is(err, fault.NotFound) {
		t.Fatalf("Get after delete = %v, want NotFound", err)
	}
	if err := s.Delete("gone"); !fault.Is(err, fault.NotFound) {
		t.Fatalf("Delete again = %v, want NotFound", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("never-saved"); !fault.Is(err, fault.NotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestValidateID(t *testing.T) {
	bad := []string{
		"",
		"..",
		"a/b",
		`a\b`,
		"../../etc/passwd",
		".hidden",
		"nested/../trick",
	}
	for _, id := range bad {
		if err := ValidateID(id); !fault.Is(err, fault.InvalidID) {
			t.Errorf("ValidateID(%q) = %v, want InvalidID", id, err)
		}
	}

	good := []string{"login", "smoke-2024", "checkout_v2", "a.side", "UPPER"}
	for _, id := range good {
		if err := ValidateID(id); err != nil {
			t.Errorf("ValidateID(%q) = %v, want nil", id, err)
		}
	}
}

func TestOperationsRejectBadIDs(t *testing.T) {
	s := newTestStore(t)

	if err := s.Save("../escape", []byte("x")); !fault.Is(err, fault.InvalidID) {
		t.Fatalf("Save = %v, want InvalidID", err)
	}
	if _, err := s.Get("../escape"); !fault.Is(err, fault.InvalidID) {
		t.Fatalf("Get = %v, want InvalidID", err)
	}
	if _, err := s.Exists(".trick"); !fault.Is(err, fault.InvalidID) {
		t.Fatalf("Exists = %v, want InvalidID", err)
	}
	if err := s.Delete(`a\b`); !fault.Is(err, fault.InvalidID) {
		t.Fatalf("Delete = %v, want InvalidID", err)
	}
}
