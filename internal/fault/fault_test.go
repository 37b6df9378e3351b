package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(AlreadyHeld, "lock busy")
	if got := KindOf(err); got != AlreadyHeld {
		t.Fatalf("KindOf = %v, want AlreadyHeld", got)
	}
	if got := KindOf(errors.New("plain")); got != Unknown {
		t.Fatalf("KindOf(plain) = %v, want Unknown", got)
	}
	if got := KindOf(nil); got != Unknown {
		t.Fatalf("KindOf(nil) = %v, want Unknown", got)
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := Errorf(NotOwner, "token %q does not match", "abc")
	outer := fmt.Errorf("release session lock: %w", inner)
	if !Is(outer, NotOwner) {
		t.Fatalf("kind lost through fmt.Errorf wrapping: %v", outer)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := Wrap(MalformedScript, "parse side document", cause)
	if !Is(err, MalformedScript) {
		t.Fatalf("Is(MalformedScript) = false")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("wrapped cause not found in chain")
	}
	if want := "parse side document: unexpected end of JSON input"; err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if Wrap(MalformedScript, "x", nil) != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
}

func TestKindStrings(t *testing.T) {
	cases := map[Kind]string{
		Unknown:         "unknown",
		InvalidID:       "invalid_id",
		NotFound:        "not_found",
		MalformedScript: "malformed_script",
		AlreadyHeld:     "already_held",
		NoCapacity:      "no_capacity",
		GridUnreachable: "grid_unreachable",
		Kind(999):       "unknown",
	}
	for k, want := range cases {
		if k.String() != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), k.String(), want)
		}
	}
}
