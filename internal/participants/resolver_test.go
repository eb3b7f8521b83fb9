package participants

import (
	"testing"

	"github.com/KafClaw/groupforge/internal/task"
)

func TestResolveNormalization(t *testing.T) {
	r := NewResolver("", "")

	cases := []struct {
		raw  string
		want task.Address
		ok   bool
	}{
		{"9876543210", "919876543210@s.whatsapp.net", true},
		{"919876543210", "919876543210@s.whatsapp.net", true},
		{"+91 98765-43210", "919876543210@s.whatsapp.net", true},
		{"(415) 555-0100", "914155550100@s.whatsapp.net", true},
		{"14155550100", "14155550100@s.whatsapp.net", true},
		{"123", "", false},
		{"", "", false},
		{"abc", "", false},
	}
	for _, tc := range cases {
		got, ok := r.Resolve(tc.raw)
		if ok != tc.ok {
			t.Errorf("Resolve(%q) ok = %v, want %v", tc.raw, ok, tc.ok)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("Resolve(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestResolveConfigurableCountryCode(t *testing.T) {
	r := NewResolver("+1", "@s.whatsapp.net")
	got, ok := r.Resolve("4155550100")
	if !ok {
		t.Fatal("expected 10-digit number to resolve")
	}
	if got != "14155550100@s.whatsapp.net" {
		t.Errorf("got %q", got)
	}
	if got.User() != "14155550100" {
		t.Errorf("User() = %q", got.User())
	}
}

func TestResolveAllDeduplicates(t *testing.T) {
	r := NewResolver("91", "s.whatsapp.net")
	got := r.ResolveAll([]string{"9876543210", "919876543210", "12", "919999999999"})
	if len(got) != 2 {
		t.Fatalf("expected 2 addresses, got %d: %v", len(got), got)
	}
	if got[0] != "919876543210@s.whatsapp.net" || got[1] != "919999999999@s.whatsapp.net" {
		t.Errorf("unexpected order: %v", got)
	}
}

func TestSplitNumbers(t *testing.T) {
	got := SplitNumbers("9876543210, 919999999999\n 918888888888;;")
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d: %v", len(got), got)
	}
	if got[1] != "919999999999" {
		t.Errorf("got[1] = %q", got[1])
	}
}
