// collector/store/journal_store.go
package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sitepulse/collector/database"
	"github.com/sitepulse/collector/models"
)

// JournalStore keeps the append-only raw event journal in ClickHouse. The
// journal is not part of reconciliation; it backs the administrative stats
// queries and survives as an audit trail of what the trackers actually sent.
type JournalStore struct {
	DB *database.ClickHouseClient
}

type EventCountByTime struct {
	Time  time.Time `json:"time"`
	Kind  *string   `json:"kind,omitempty"`
	Count uint64    `json:"count"`
}

type TopPathResult struct {
	SourceURL string `json:"sourceUrl"`
	Count     uint64 `json:"count"`
}

func NewJournalStore(chClient *database.ClickHouseClient) *JournalStore {
	return &JournalStore{DB: chClient}
}

// InsertEvents appends a batch of envelopes to the journal.
func (s *JournalStore) InsertEvents(ctx context.Context, events []models.Envelope) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO tracker_events (
			event_id, kind, site_id, source_url, subject_label,
			client_address, session_token, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, ev := range events {
		err := batch.Append(
			ev.EventID,
			string(ev.Kind),
			ev.SiteID,
			ev.SourceURL,
			ev.SubjectLabel,
			ev.ClientAddress,
			ev.SessionToken,
			ev.OccurredAt,
		)
		if err != nil {
			log.Printf("Error appending event to batch (EventID: %s): %v", ev.EventID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	return nil
}

// IsValidInterval whitelists the ClickHouse toStartOf* bucket names accepted
// by the stats queries.
func IsValidInterval(interval string) bool {
	switch interval {
	case "Minute", "Hour", "Day", "Week", "Month", "Quarter", "Year":
		return true
	default:
		return false
	}
}

// GetEventCountsOverTime buckets journal rows for one site by the given
// interval, optionally filtered to a single event kind.
func (s *JournalStore) GetEventCountsOverTime(ctx context.Context, siteID, interval string, start, end time.Time, kindFilter string) ([]EventCountByTime, error) {
	if !IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	selectCols := fmt.Sprintf("toStartOf%s(occurred_at) as time_bucket, count() as total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE site_id = ? AND occurred_at >= ? AND occurred_at <= ?"
	orderByCols := "time_bucket ASC"
	args := []interface{}{siteID, start, end}
	isFilteringByKind := kindFilter != ""

	if isFilteringByKind {
		selectCols += ", kind"
		groupByCols += ", kind"
		whereClause += " AND kind = ?"
		args = append(args, kindFilter)
		orderByCols += ", kind ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM tracker_events
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []EventCountByTime
	for rows.Next() {
		var (
			timeBucket time.Time
			count      uint64
			kindDB     string
			current    EventCountByTime
		)
		if isFilteringByKind {
			if err := rows.Scan(&timeBucket, &count, &kindDB); err != nil {
				log.Printf("Error scanning row for event counts (with kind filter): %v", err)
				continue
			}
			current.Kind = &kindDB
		} else {
			if err := rows.Scan(&timeBucket, &count); err != nil {
				log.Printf("Error scanning row for event counts: %v", err)
				continue
			}
		}
		current.Time = timeBucket
		current.Count = count
		results = append(results, current)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts query: %w", err)
	}

	return results, nil
}

// GetTopNPaths returns the most-viewed source URLs for a site in a window.
func (s *JournalStore) GetTopNPaths(ctx context.Context, siteID string, start, end time.Time, limit uint64) ([]TopPathResult, error) {
	query := `
		SELECT source_url, count() as views
		FROM tracker_events
		WHERE site_id = ? AND kind = 'pageview' AND occurred_at >= ? AND occurred_at <= ?
		GROUP BY source_url
		ORDER BY views DESC
		LIMIT ?
	`
	rows, err := s.DB.Conn.Query(ctx, query, siteID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top paths: %w", err)
	}
	defer rows.Close()

	var results []TopPathResult
	for rows.Next() {
		var r TopPathResult
		if err := rows.Scan(&r.SourceURL, &r.Count); err != nil {
			log.Printf("Error scanning top path row: %v", err)
			continue
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during top paths query: %w", err)
	}
	return results, nil
}
