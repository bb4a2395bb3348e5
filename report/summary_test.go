// collector/report/summary_test.go
package report

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/sitepulse/collector/models"
)

func agg(addr, token string, start time.Time) *models.SessionAggregate {
	return &models.SessionAggregate{
		SiteID:           "ex.com",
		ClientAddress:    addr,
		SessionToken:     token,
		VisitedURLs:      []string{},
		ButtonCounts:     map[string]int{},
		LinkCounts:       map[string]int{},
		MenuCounts:       map[string]int{},
		ElementCounts:    map[string]int{},
		SessionStartedAt: start,
		Country:          "Unknown",
		City:             "Unknown",
	}
}

func TestSummarizeUniqueVisitors(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	a := agg("1.2.3.4", "s1", now.Add(-time.Hour))
	a.VisitedURLs = []string{"/home", "/pricing"}
	b := agg("5.6.7.8", "s2", now.Add(-time.Hour))
	b.VisitedURLs = []string{"/home"}
	// Second session from the same visitor address.
	c := agg("1.2.3.4", "s3", now.Add(-30*time.Minute))

	sum := Summarize("ex.com", []*models.SessionAggregate{a, b, c}, now)
	if sum.UniqueVisitors != 2 {
		t.Errorf("UniqueVisitors = %d, want 2", sum.UniqueVisitors)
	}
	if sum.Sessions != 3 {
		t.Errorf("Sessions = %d, want 3", sum.Sessions)
	}
	if sum.TotalPageViews != 3 {
		t.Errorf("TotalPageViews = %d, want 3", sum.TotalPageViews)
	}
}

func TestSummarizeClicksAndAdBlockers(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	a := agg("1.2.3.4", "s1", now.Add(-time.Hour))
	a.ButtonCounts = map[string]int{"Buy": 2, "Cancel": 1}
	a.LinkCounts = map[string]int{"Docs": 4}
	a.MenuCounts = map[string]int{"File": 1}
	a.ElementCounts = map[string]int{"hero": 3}
	a.AdBlocker = true
	b := agg("5.6.7.8", "s2", now.Add(-time.Hour))
	b.ButtonCounts = map[string]int{"Buy": 1}

	sum := Summarize("ex.com", []*models.SessionAggregate{a, b}, now)
	if sum.ButtonClicks != 4 {
		t.Errorf("ButtonClicks = %d, want 4", sum.ButtonClicks)
	}
	if sum.LinkClicks != 4 || sum.MenuClicks != 1 || sum.ElementClicks != 3 {
		t.Errorf("links/menus/elements = %d/%d/%d, want 4/1/3",
			sum.LinkClicks, sum.MenuClicks, sum.ElementClicks)
	}
	if sum.AdBlockerUsers != 1 {
		t.Errorf("AdBlockerUsers = %d, want 1", sum.AdBlockerUsers)
	}
}

func TestSummarizeDurationClampsOpenSessions(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	closed := agg("1.2.3.4", "s1", now.Add(-10*time.Minute))
	endAt := now.Add(-5 * time.Minute)
	closed.SessionEndedAt = &endAt
	closed.Ended = true

	open := agg("5.6.7.8", "s2", now.Add(-3*time.Minute))

	sum := Summarize("ex.com", []*models.SessionAggregate{closed, open}, now)
	want := 5*time.Minute + 3*time.Minute
	if sum.TotalDuration != want {
		t.Errorf("TotalDuration = %v, want %v", sum.TotalDuration, want)
	}
}

func TestRenderBodyContainsTotals(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := agg("1.2.3.4", "s1", now.Add(-time.Hour))
	a.VisitedURLs = []string{"/home"}
	a.ButtonCounts = map[string]int{"Buy": 1}

	sum := Summarize("ex.com", []*models.SessionAggregate{a}, now)
	body := RenderBody(sum, []*models.SessionAggregate{a}, now)

	for _, want := range []string{
		"Tracking data for ex.com",
		"Total Unique Visitors: 1",
		"Total Pageviews: 1",
		"Total Button Clicks: 1",
		"No link clicks",
		"/home",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestRenderCSVShape(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := agg("1.2.3.4", "s1", now.Add(-90*time.Second))
	a.VisitedURLs = []string{"/home", "/pricing"}
	a.Country = "India"
	a.City = "Pune"

	sum := Summarize("ex.com", []*models.SessionAggregate{a}, now)
	data, err := RenderCSV(sum, []*models.SessionAggregate{a}, now)
	if err != nil {
		t.Fatalf("RenderCSV error: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("generated CSV does not parse: %v", err)
	}
	// Header, one session row, totals row.
	if len(records) != 3 {
		t.Fatalf("CSV has %d records, want 3", len(records))
	}
	if len(records[0]) != len(csvHeader) {
		t.Errorf("header has %d columns, want %d", len(records[0]), len(csvHeader))
	}
	row := records[1]
	if row[1] != "/home, /pricing" {
		t.Errorf("pageviews column = %q", row[1])
	}
	if row[6] != "90" {
		t.Errorf("duration seconds column = %q, want 90", row[6])
	}
	if row[8] != "India" || row[9] != "Pune" {
		t.Errorf("geo columns = %q/%q", row[8], row[9])
	}
	if records[2][0] != "Total Duration for All Visitors" {
		t.Errorf("totals row label = %q", records[2][0])
	}
}

func TestFormatHMS(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0h 0m 0s"},
		{90 * time.Second, "0h 1m 30s"},
		{3*time.Hour + 25*time.Minute + 45*time.Second, "3h 25m 45s"},
	}
	for _, tt := range tests {
		if got := FormatHMS(tt.d); got != tt.want {
			t.Errorf("FormatHMS(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
