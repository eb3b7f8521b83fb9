// Package participants normalizes raw phone numbers into addresses and
// classifies submitted rows into direct-add and invite-only sets.
package participants

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/KafClaw/groupforge/internal/task"
)

const (
	DefaultCountryCode = "91"
	DefaultServer      = "s.whatsapp.net"
)

// Resolver turns raw phone strings into canonical addresses.
type Resolver struct {
	// CountryCode is prepended to 10-digit numbers. It is a locale heuristic,
	// not validation.
	CountryCode string
	// Server is the messaging network domain suffix.
	Server string
}

// NewResolver returns a Resolver, filling empty settings with defaults.
func NewResolver(countryCode, server string) *Resolver {
	countryCode = digitsOnly(countryCode)
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	server = strings.TrimPrefix(strings.TrimSpace(server), "@")
	if server == "" {
		server = DefaultServer
	}
	return &Resolver{CountryCode: countryCode, Server: server}
}

// Resolve normalizes raw into an Address. It returns false for numbers that
// are too short; it never fails otherwise.
func (r *Resolver) Resolve(raw string) (task.Address, bool) {
	cleaned := digitsOnly(raw)
	switch {
	case len(cleaned) >= 11:
		return r.address(cleaned), true
	case len(cleaned) == 10:
		slog.Warn("Assuming default country code for 10-digit number", "country_code", r.CountryCode, "number", cleaned)
		return r.address(r.CountryCode + cleaned), true
	}
	if strings.TrimSpace(raw) != "" {
		slog.Warn("Skipping invalid or incomplete phone number", "raw", raw)
	}
	return "", false
}

// ResolveAll resolves every raw number, dropping invalid ones and duplicates
// while keeping first-seen order.
func (r *Resolver) ResolveAll(raws []string) []task.Address {
	seen := make(map[task.Address]bool, len(raws))
	out := make([]task.Address, 0, len(raws))
	for _, raw := range raws {
		addr, ok := r.Resolve(raw)
		if !ok || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

func (r *Resolver) address(digits string) task.Address {
	return task.Address(digits + "@" + r.Server)
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		if c <= unicode.MaxASCII && unicode.IsDigit(c) {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// SplitNumbers splits a free-form cell into raw number strings. Commas,
// semicolons and newlines separate entries.
func SplitNumbers(cell string) []string {
	fields := strings.FieldsFunc(cell, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
