// collector/models/event_test.go
package models

import (
	"errors"
	"testing"
	"time"

	"github.com/sitepulse/collector/apperrors"
)

func TestNewEnvelopeRequiredFields(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	valid := TrackRequest{
		Kind:         "pageview",
		SiteID:       "ex.com",
		SourceURL:    "/home",
		SessionToken: "s1",
	}

	tests := []struct {
		name     string
		mutate   func(*TrackRequest)
		addr     string
		wantErr  bool
		wantName string
	}{
		{name: "valid", mutate: func(r *TrackRequest) {}, addr: "1.2.3.4"},
		{name: "missing kind", mutate: func(r *TrackRequest) { r.Kind = "" }, addr: "1.2.3.4", wantErr: true},
		{name: "unknown kind", mutate: func(r *TrackRequest) { r.Kind = "scroll" }, addr: "1.2.3.4", wantErr: true},
		{name: "missing siteId", mutate: func(r *TrackRequest) { r.SiteID = "" }, addr: "1.2.3.4", wantErr: true},
		{name: "whitespace siteId", mutate: func(r *TrackRequest) { r.SiteID = "   " }, addr: "1.2.3.4", wantErr: true},
		{name: "missing sourceUrl", mutate: func(r *TrackRequest) { r.SourceURL = "" }, addr: "1.2.3.4", wantErr: true},
		{name: "missing client address", mutate: func(r *TrackRequest) {}, addr: "", wantErr: true},
		{name: "missing sessionToken", mutate: func(r *TrackRequest) { r.SessionToken = "" }, addr: "1.2.3.4", wantErr: true},
		{
			name: "session_end without token is allowed",
			mutate: func(r *TrackRequest) {
				r.Kind = "session_end"
				r.SessionToken = ""
			},
			addr: "1.2.3.4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := NewEnvelope(req, tt.addr, now)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error, got nil")
				}
				if !errors.Is(err, apperrors.ErrValidation) {
					t.Fatalf("expected error wrapping ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewEnvelopeTakesFirstForwardedAddress(t *testing.T) {
	req := TrackRequest{Kind: "pageview", SiteID: "ex.com", SourceURL: "/home", SessionToken: "s1"}
	ev, err := NewEnvelope(req, "203.0.113.9, 10.0.0.1, 172.16.0.1", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.ClientAddress != "203.0.113.9" {
		t.Errorf("ClientAddress = %q, want %q", ev.ClientAddress, "203.0.113.9")
	}
}

func TestNewEnvelopeOccurredAt(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	explicit := now.Add(-30 * time.Second)

	req := TrackRequest{Kind: "pageview", SiteID: "ex.com", SourceURL: "/home", SessionToken: "s1"}
	ev, err := NewEnvelope(req, "1.2.3.4", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ev.OccurredAt.Equal(now) {
		t.Errorf("OccurredAt = %v, want server time %v", ev.OccurredAt, now)
	}

	req.OccurredAt = &explicit
	ev, err = NewEnvelope(req, "1.2.3.4", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ev.OccurredAt.Equal(explicit) {
		t.Errorf("OccurredAt = %v, want client time %v", ev.OccurredAt, explicit)
	}
}

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a.b$c", "a_b_c"},
		{"Buy Now", "Buy Now"},
		{"$$..", "____"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeLabel(tt.in); got != tt.want {
			t.Errorf("SanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLabelFallsBackToUnnamed(t *testing.T) {
	tests := []struct {
		kind EventKind
		want string
	}{
		{KindButtonClick, "Unnamed Button"},
		{KindLinkClick, "Unnamed Link"},
		{KindMenuClick, "Unnamed Menu"},
		{KindElementClick, "Unnamed Element"},
	}
	for _, tt := range tests {
		ev := Envelope{Kind: tt.kind}
		if got := ev.Label(); got != tt.want {
			t.Errorf("Label() for %s = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestFirstForwardedAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.2.3.4", "1.2.3.4"},
		{"1.2.3.4, 5.6.7.8", "1.2.3.4"},
		{"  1.2.3.4 ,5.6.7.8", "1.2.3.4"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FirstForwardedAddress(tt.in); got != tt.want {
			t.Errorf("FirstForwardedAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
