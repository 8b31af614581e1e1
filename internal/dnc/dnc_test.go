package dnc

import (
	"context"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"+14155550100", "+14155550100"},
		{"+1 (415) 555-0100", "+14155550100"},
		{"  415-555-0100 ", "4155550100"},
		{"415.555.0100", "4155550100"},
		{"+44 20 7946 0958", "+442079460958"},
		{"", ""},
		{"no digits", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMemoryStore_AddAndContains(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	listed, err := s.Contains(ctx, "+14155550100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if listed {
		t.Fatal("empty store should not contain number")
	}

	if err := s.Add(ctx, "+1 (415) 555-0100", "opt_out_detected"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Lookup with a differently formatted but equivalent number.
	listed, err = s.Contains(ctx, "+14155550100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !listed {
		t.Fatal("expected normalized number to be listed")
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestMemoryStore_AddIdempotent(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Add(ctx, "+14155550100", "opt_out_detected"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after repeated adds", s.Len())
	}
}

func TestMemoryStore_EmptyNumberIgnored(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Add(ctx, "   ", "manual"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after adding empty number", s.Len())
	}
}
