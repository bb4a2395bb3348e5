// collector/models/event.go
package models

import (
	"strings"
	"time"

	"github.com/sitepulse/collector/apperrors"
)

// EventKind identifies what the tracker observed in the browser.
type EventKind string

const (
	KindPageView        EventKind = "pageview"
	KindButtonClick     EventKind = "button_click"
	KindLinkClick       EventKind = "link_click"
	KindMenuClick       EventKind = "menu_click"
	KindElementClick    EventKind = "element_click"
	KindSessionEnd      EventKind = "session_end"
	KindAdBlockerStatus EventKind = "ad_blocker_status"
)

// IsClick reports whether the kind carries a subject label to count.
func (k EventKind) IsClick() bool {
	switch k {
	case KindButtonClick, KindLinkClick, KindMenuClick, KindElementClick:
		return true
	}
	return false
}

// IsValid reports whether the kind is one the collector accepts.
func (k EventKind) IsValid() bool {
	switch k {
	case KindPageView, KindButtonClick, KindLinkClick, KindMenuClick,
		KindElementClick, KindSessionEnd, KindAdBlockerStatus:
		return true
	}
	return false
}

// TrackRequest is the JSON body the tracker script POSTs to /events.
// The client address is never taken from the body; the handler derives it
// from the transport layer so it cannot be spoofed.
type TrackRequest struct {
	Kind         string     `json:"kind"`
	SiteID       string     `json:"siteId"`
	SourceURL    string     `json:"sourceUrl"`
	SubjectLabel string     `json:"subjectLabel,omitempty"`
	SessionToken string     `json:"sessionToken,omitempty"`
	OccurredAt   *time.Time `json:"occurredAt,omitempty"`
	AdBlocker    *bool      `json:"adBlockerActive,omitempty"`
}

// Envelope is the validated, normalized form of a single tracker event.
type Envelope struct {
	EventID       string
	Kind          EventKind
	SiteID        string
	SourceURL     string
	SubjectLabel  string
	ClientAddress string
	SessionToken  string
	OccurredAt    time.Time
	AdBlocker     *bool
}

// NewEnvelope builds an Envelope from a bound request body plus the
// server-derived client address, applying the validation rules before the
// event reaches aggregation. clientAddress may be a comma-separated
// forwarded chain; the first hop wins.
func NewEnvelope(req TrackRequest, clientAddress string, now time.Time) (Envelope, error) {
	ev := Envelope{
		Kind:          EventKind(req.Kind),
		SiteID:        strings.TrimSpace(req.SiteID),
		SourceURL:     strings.TrimSpace(req.SourceURL),
		SubjectLabel:  strings.TrimSpace(req.SubjectLabel),
		ClientAddress: FirstForwardedAddress(clientAddress),
		SessionToken:  strings.TrimSpace(req.SessionToken),
		OccurredAt:    now,
		AdBlocker:     req.AdBlocker,
	}
	if req.OccurredAt != nil && !req.OccurredAt.IsZero() {
		ev.OccurredAt = *req.OccurredAt
	}

	if !ev.Kind.IsValid() {
		return Envelope{}, apperrors.FieldError{Field: "kind"}
	}
	if ev.SiteID == "" {
		return Envelope{}, apperrors.FieldError{Field: "siteId"}
	}
	if ev.SourceURL == "" {
		return Envelope{}, apperrors.FieldError{Field: "sourceUrl"}
	}
	if ev.ClientAddress == "" {
		return Envelope{}, apperrors.FieldError{Field: "clientAddress"}
	}
	// session_end may arrive after the client wiped its storage, so the
	// token is only required for kinds that mutate counters or URLs.
	if ev.SessionToken == "" && ev.Kind != KindSessionEnd {
		return Envelope{}, apperrors.FieldError{Field: "sessionToken"}
	}
	return ev, nil
}

// Label returns the sanitized subject label to count under, falling back to
// an "Unnamed <Kind>" placeholder when the tracker sent none.
func (e Envelope) Label() string {
	if e.SubjectLabel == "" {
		return unnamedLabel(e.Kind)
	}
	return SanitizeLabel(e.SubjectLabel)
}

// labelSanitizer strips characters that are unsafe as aggregate-map keys.
var labelSanitizer = strings.NewReplacer(".", "_", "$", "_")

func SanitizeLabel(label string) string {
	return labelSanitizer.Replace(label)
}

func unnamedLabel(kind EventKind) string {
	switch kind {
	case KindButtonClick:
		return "Unnamed Button"
	case KindLinkClick:
		return "Unnamed Link"
	case KindMenuClick:
		return "Unnamed Menu"
	case KindElementClick:
		return "Unnamed Element"
	}
	return "Unnamed"
}

// FirstForwardedAddress extracts the caller address from a possibly
// comma-separated X-Forwarded-For style value.
func FirstForwardedAddress(addr string) string {
	if i := strings.IndexByte(addr, ','); i >= 0 {
		addr = addr[:i]
	}
	return strings.TrimSpace(addr)
}
