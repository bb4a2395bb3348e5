// collector/report/summary.go
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sitepulse/collector/models"
)

// SiteSummary holds the per-site rollup the daily email is built from.
type SiteSummary struct {
	SiteID         string
	Sessions       int
	UniqueVisitors int
	TotalPageViews int
	ButtonClicks   int
	LinkClicks     int
	MenuClicks     int
	ElementClicks  int
	AdBlockerUsers int
	TotalDuration  time.Duration
}

// Summarize computes the summary statistics over one site's aggregates.
// Open-ended sessions are clamped to now for the duration sum.
func Summarize(siteID string, aggs []*models.SessionAggregate, now time.Time) SiteSummary {
	sum := SiteSummary{SiteID: siteID, Sessions: len(aggs)}
	visitors := make(map[string]struct{})

	for _, a := range aggs {
		visitors[a.ClientAddress] = struct{}{}
		sum.TotalPageViews += len(a.VisitedURLs)
		sum.ButtonClicks += models.TotalClicks(a.ButtonCounts)
		sum.LinkClicks += models.TotalClicks(a.LinkCounts)
		sum.MenuClicks += models.TotalClicks(a.MenuCounts)
		sum.ElementClicks += models.TotalClicks(a.ElementCounts)
		if a.AdBlocker {
			sum.AdBlockerUsers++
		}
		sum.TotalDuration += a.Duration(now)
	}

	sum.UniqueVisitors = len(visitors)
	return sum
}

// RenderBody produces the plain-text email body: totals first, then one
// block per session.
func RenderBody(sum SiteSummary, aggs []*models.SessionAggregate, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tracking data for %s (last reporting window):\n\n", sum.SiteID)
	fmt.Fprintf(&b, "Total Unique Visitors: %d\n", sum.UniqueVisitors)
	fmt.Fprintf(&b, "Total Ad Blocker Users: %d\n", sum.AdBlockerUsers)
	fmt.Fprintf(&b, "Total Pageviews: %d\n", sum.TotalPageViews)
	fmt.Fprintf(&b, "Total Button Clicks: %d\n", sum.ButtonClicks)
	fmt.Fprintf(&b, "Total Link Clicks: %d\n", sum.LinkClicks)
	fmt.Fprintf(&b, "Total Menu Clicks: %d\n", sum.MenuClicks)
	fmt.Fprintf(&b, "Total Element Clicks: %d\n", sum.ElementClicks)
	fmt.Fprintf(&b, "Overall Duration for All Visitors: %s\n\n", FormatHMS(sum.TotalDuration))

	for _, a := range aggs {
		fmt.Fprintf(&b, "Session started: %s\n", a.SessionStartedAt.Format(time.RFC1123))
		fmt.Fprintf(&b, "Pageviews: %s\n", joinOr(a.VisitedURLs, "No pageviews"))
		fmt.Fprintf(&b, "Buttons Clicked: %s\n", countsOr(a.ButtonCounts, "No button clicks"))
		fmt.Fprintf(&b, "Links Clicked: %s\n", countsOr(a.LinkCounts, "No link clicks"))
		fmt.Fprintf(&b, "Menus Clicked: %s\n", countsOr(a.MenuCounts, "No menu clicks"))
		fmt.Fprintf(&b, "Elements Clicked: %s\n", countsOr(a.ElementCounts, "No element clicks"))
		fmt.Fprintf(&b, "Session Duration: %s\n\n", FormatHMS(a.Duration(now)))
	}

	return b.String()
}

var csvHeader = []string{
	"Session Started", "Pageviews",
	"Buttons Clicked", "Links Clicked", "Menus Clicked", "Elements Clicked",
	"Session Duration (seconds)", "Session Duration (H:M:S)",
	"Country", "City", "Ad Blocker",
}

// RenderCSV produces the per-session CSV attachment, ending with a totals row.
func RenderCSV(sum SiteSummary, aggs []*models.SessionAggregate, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, a := range aggs {
		d := a.Duration(now)
		record := []string{
			a.SessionStartedAt.Format(time.RFC3339),
			joinOr(a.VisitedURLs, "No pageviews"),
			countsOr(a.ButtonCounts, "No button clicks"),
			countsOr(a.LinkCounts, "No link clicks"),
			countsOr(a.MenuCounts, "No menu clicks"),
			countsOr(a.ElementCounts, "No element clicks"),
			strconv.Itoa(int(d / time.Second)),
			FormatHMS(d),
			a.Country,
			a.City,
			strconv.FormatBool(a.AdBlocker),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	totals := []string{
		"Total Duration for All Visitors", "", "", "", "", "",
		strconv.Itoa(int(sum.TotalDuration / time.Second)),
		FormatHMS(sum.TotalDuration),
		"", "", "",
	}
	if err := w.Write(totals); err != nil {
		return nil, fmt.Errorf("failed to write CSV totals: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatHMS renders a duration as "1h 2m 3s".
func FormatHMS(d time.Duration) string {
	total := int(d / time.Second)
	return fmt.Sprintf("%dh %dm %ds", total/3600, (total%3600)/60, total%60)
}

func joinOr(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, ", ")
}

func countsOr(counts map[string]int, empty string) string {
	if len(counts) == 0 {
		return empty
	}
	// Maps marshal with sorted keys, keeping rows stable.
	data, err := json.Marshal(counts)
	if err != nil {
		return empty
	}
	return string(data)
}
