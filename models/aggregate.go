// collector/models/aggregate.go
package models

import "time"

// SessionAggregate is the persisted per-session rollup of URLs and click
// counters. At most one live aggregate exists per
// (siteId, clientAddress, sessionToken) identity.
type SessionAggregate struct {
	ID            int64  `json:"id"`
	SiteID        string `json:"siteId"`
	ClientAddress string `json:"clientAddress"`
	SessionToken  string `json:"sessionToken"`

	VisitedURLs   []string       `json:"visitedUrls"`
	ButtonCounts  map[string]int `json:"buttonCounts"`
	LinkCounts    map[string]int `json:"linkCounts"`
	MenuCounts    map[string]int `json:"menuCounts"`
	ElementCounts map[string]int `json:"elementCounts"`

	SessionStartedAt time.Time  `json:"sessionStartedAt"`
	SessionEndedAt   *time.Time `json:"sessionEndedAt,omitempty"`
	Ended            bool       `json:"ended"`

	Country   string `json:"country"`
	City      string `json:"city"`
	AdBlocker bool   `json:"adBlockerActive"`
}

// NewSessionAggregate seeds a fresh aggregate from the first event of a
// session. The end watermark stays unset until a second event or an explicit
// session_end arrives; geo fields start at Unknown and are filled by a
// best-effort side lookup after the write.
func NewSessionAggregate(ev Envelope, now time.Time) *SessionAggregate {
	a := &SessionAggregate{
		SiteID:           ev.SiteID,
		ClientAddress:    ev.ClientAddress,
		SessionToken:     ev.SessionToken,
		VisitedURLs:      []string{},
		ButtonCounts:     map[string]int{},
		LinkCounts:       map[string]int{},
		MenuCounts:       map[string]int{},
		ElementCounts:    map[string]int{},
		SessionStartedAt: now,
		Country:          "Unknown",
		City:             "Unknown",
	}
	switch {
	case ev.Kind == KindPageView:
		a.VisitedURLs = append(a.VisitedURLs, ev.SourceURL)
	case ev.Kind == KindButtonClick:
		a.ButtonCounts[ev.Label()] = 1
	case ev.Kind == KindLinkClick:
		a.LinkCounts[ev.Label()] = 1
	case ev.Kind == KindMenuClick:
		a.MenuCounts[ev.Label()] = 1
	case ev.Kind == KindElementClick:
		a.ElementCounts[ev.Label()] = 1
	}
	if ev.AdBlocker != nil {
		a.AdBlocker = *ev.AdBlocker
	}
	return a
}

// Merge folds one event into the aggregate. Pageviews keep set semantics,
// click counters only ever increase, and every kind except session_end bumps
// the last-seen watermark so a duration can be computed even when the client
// never fires an explicit end.
func (a *SessionAggregate) Merge(ev Envelope, now time.Time) {
	if ev.Kind == KindSessionEnd {
		ended := ev.OccurredAt
		if ended.Before(a.SessionStartedAt) {
			ended = a.SessionStartedAt
		}
		a.SessionEndedAt = &ended
		a.Ended = true
		return
	}

	switch ev.Kind {
	case KindPageView:
		a.appendURL(ev.SourceURL)
	case KindButtonClick:
		a.ButtonCounts[ev.Label()]++
	case KindLinkClick:
		a.LinkCounts[ev.Label()]++
	case KindMenuClick:
		a.MenuCounts[ev.Label()]++
	case KindElementClick:
		a.ElementCounts[ev.Label()]++
	}

	if ev.AdBlocker != nil {
		a.AdBlocker = *ev.AdBlocker
	}

	// Liveness heartbeat: last activity wins, a later event reopens an
	// aggregate the store chose to resume.
	seen := now
	if seen.Before(a.SessionStartedAt) {
		seen = a.SessionStartedAt
	}
	a.SessionEndedAt = &seen
	a.Ended = false
}

func (a *SessionAggregate) appendURL(url string) {
	for _, u := range a.VisitedURLs {
		if u == url {
			return
		}
	}
	a.VisitedURLs = append(a.VisitedURLs, url)
}

// Duration returns the session length, clamping the open end to now for
// aggregates that never saw an explicit or derived close.
func (a *SessionAggregate) Duration(now time.Time) time.Duration {
	end := now
	if a.SessionEndedAt != nil {
		end = *a.SessionEndedAt
	}
	if end.Before(a.SessionStartedAt) {
		return 0
	}
	return end.Sub(a.SessionStartedAt)
}

// TotalClicks sums one category's counter map.
func TotalClicks(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
