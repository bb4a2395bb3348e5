// collector/store/aggregate_store.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sitepulse/collector/apperrors"
	"github.com/sitepulse/collector/models"
)

// AggregateStore is the reconciliation engine: it finds or creates the
// aggregate for an event's (siteId, clientAddress, sessionToken) identity and
// folds the event in. Concurrent Apply calls for the same identity are
// serialized through a per-key lock registry so read-modify-write never loses
// an update; different identities proceed in parallel.
type AggregateStore struct {
	db          *sql.DB
	reopenEnded bool

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// NewAggregateStore creates the store. reopenEnded controls what happens when
// an event arrives for an aggregate that already saw session_end: resume it,
// or start a fresh aggregate under the same identity.
func NewAggregateStore(db *sql.DB, reopenEnded bool) *AggregateStore {
	return &AggregateStore{
		db:          db,
		reopenEnded: reopenEnded,
		keyLocks:    make(map[string]*sync.Mutex),
	}
}

func (s *AggregateStore) lockKey(siteID, addr, token string) func() {
	key := siteID + "\x00" + addr + "\x00" + token
	s.mu.Lock()
	l, ok := s.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[key] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Apply merges one event into its session aggregate and persists the result.
// The returned bool reports whether a new aggregate was created, which is the
// caller's cue to kick off the one-time geo enrichment.
func (s *AggregateStore) Apply(ctx context.Context, ev models.Envelope, now time.Time) (*models.SessionAggregate, bool, error) {
	unlock := s.lockKey(ev.SiteID, ev.ClientAddress, ev.SessionToken)
	defer unlock()

	agg, err := s.findLatest(ctx, ev.SiteID, ev.ClientAddress, ev.SessionToken)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("%w: lookup aggregate: %v", apperrors.ErrPersistence, err)
	}

	switch {
	case agg == nil:
		// session_end for a session this collector never saw: nothing to
		// close, and creating an empty aggregate would poison the stats.
		if ev.Kind == models.KindSessionEnd {
			return nil, false, apperrors.ErrSessionNotFound
		}
		agg = models.NewSessionAggregate(ev, now)
		if err := s.insert(ctx, agg); err != nil {
			return nil, false, err
		}
		return agg, true, nil

	case agg.Ended && !s.reopenEnded:
		if ev.Kind == models.KindSessionEnd {
			// Already closed; re-closing is a no-op.
			return agg, false, nil
		}
		fresh := models.NewSessionAggregate(ev, now)
		if err := s.insert(ctx, fresh); err != nil {
			return nil, false, err
		}
		return fresh, true, nil

	default:
		agg.Merge(ev, now)
		if err := s.update(ctx, agg); err != nil {
			return nil, false, err
		}
		return agg, false, nil
	}
}

// SetGeo records the one-time geolocation enrichment for an aggregate.
func (s *AggregateStore) SetGeo(ctx context.Context, id int64, country, city string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE session_aggregates
		SET country = $1, city = $2
		WHERE id = $3
	`, country, city, id)
	if err != nil {
		return fmt.Errorf("%w: set geo for aggregate %d: %v", apperrors.ErrPersistence, id, err)
	}
	return nil
}

// CloseInactiveSessions marks aggregates whose last activity is older than
// the threshold as ended, carrying the last-seen watermark forward as the
// definitive end time. Returns how many sessions were closed.
func (s *AggregateStore) CloseInactiveSessions(ctx context.Context, threshold time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-threshold)
	res, err := s.db.ExecContext(ctx, `
		UPDATE session_aggregates
		SET ended = TRUE,
		    session_ended_at = COALESCE(session_ended_at, session_started_at),
		    updated_at = now()
		WHERE NOT ended
		  AND COALESCE(session_ended_at, session_started_at) < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: close inactive sessions: %v", apperrors.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: close inactive sessions: %v", apperrors.ErrPersistence, err)
	}
	if n > 0 {
		log.Printf("Closed %d inactive session(s) older than %v.", n, threshold)
	}
	return n, nil
}

// ScanSince returns every aggregate for a site touched on or after the given
// instant. The reporting job uses this as its read-only window scan.
func (s *AggregateStore) ScanSince(ctx context.Context, siteID string, since time.Time) ([]*models.SessionAggregate, error) {
	rows, err := s.db.QueryContext(ctx, selectAggregate+`
		WHERE site_id = $1 AND updated_at >= $2
		ORDER BY session_started_at ASC
	`, siteID, since)
	if err != nil {
		return nil, fmt.Errorf("%w: scan aggregates for site %s: %v", apperrors.ErrPersistence, siteID, err)
	}
	defer rows.Close()
	return collectAggregates(rows, siteID)
}

// ListBySite returns every aggregate for a site, newest first. Serves the
// administrative inspection endpoint.
func (s *AggregateStore) ListBySite(ctx context.Context, siteID string) ([]*models.SessionAggregate, error) {
	rows, err := s.db.QueryContext(ctx, selectAggregate+`
		WHERE site_id = $1
		ORDER BY session_started_at DESC
	`, siteID)
	if err != nil {
		return nil, fmt.Errorf("%w: list aggregates for site %s: %v", apperrors.ErrPersistence, siteID, err)
	}
	defer rows.Close()
	return collectAggregates(rows, siteID)
}

const selectAggregate = `
	SELECT id, site_id, client_address, session_token,
	       visited_urls, button_counts, link_counts, menu_counts, element_counts,
	       session_started_at, session_ended_at, ended,
	       country, city, ad_blocker_active
	FROM session_aggregates
`

func (s *AggregateStore) findLatest(ctx context.Context, siteID, addr, token string) (*models.SessionAggregate, error) {
	row := s.db.QueryRowContext(ctx, selectAggregate+`
		WHERE site_id = $1 AND client_address = $2 AND session_token = $3
		ORDER BY id DESC
		LIMIT 1
	`, siteID, addr, token)
	agg, err := scanAggregate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return agg, nil
}

func (s *AggregateStore) insert(ctx context.Context, a *models.SessionAggregate) error {
	urls, btns, links, menus, elems, err := marshalMaps(a)
	if err != nil {
		return fmt.Errorf("%w: encode aggregate: %v", apperrors.ErrPersistence, err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO session_aggregates (
			site_id, client_address, session_token,
			visited_urls, button_counts, link_counts, menu_counts, element_counts,
			session_started_at, session_ended_at, ended,
			country, city, ad_blocker_active, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())
		RETURNING id
	`,
		a.SiteID, a.ClientAddress, a.SessionToken,
		urls, btns, links, menus, elems,
		a.SessionStartedAt, a.SessionEndedAt, a.Ended,
		a.Country, a.City, a.AdBlocker,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("%w: insert aggregate: %v", apperrors.ErrPersistence, err)
	}
	return nil
}

func (s *AggregateStore) update(ctx context.Context, a *models.SessionAggregate) error {
	urls, btns, links, menus, elems, err := marshalMaps(a)
	if err != nil {
		return fmt.Errorf("%w: encode aggregate: %v", apperrors.ErrPersistence, err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE session_aggregates
		SET visited_urls = $1, button_counts = $2, link_counts = $3,
		    menu_counts = $4, element_counts = $5,
		    session_ended_at = $6, ended = $7, ad_blocker_active = $8,
		    updated_at = now()
		WHERE id = $9
	`, urls, btns, links, menus, elems,
		a.SessionEndedAt, a.Ended, a.AdBlocker, a.ID)
	if err != nil {
		return fmt.Errorf("%w: update aggregate %d: %v", apperrors.ErrPersistence, a.ID, err)
	}
	return nil
}

func marshalMaps(a *models.SessionAggregate) (urls, btns, links, menus, elems []byte, err error) {
	if urls, err = json.Marshal(a.VisitedURLs); err != nil {
		return
	}
	if btns, err = json.Marshal(a.ButtonCounts); err != nil {
		return
	}
	if links, err = json.Marshal(a.LinkCounts); err != nil {
		return
	}
	if menus, err = json.Marshal(a.MenuCounts); err != nil {
		return
	}
	elems, err = json.Marshal(a.ElementCounts)
	return
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAggregate(row rowScanner) (*models.SessionAggregate, error) {
	var (
		a       models.SessionAggregate
		urls    []byte
		btns    []byte
		links   []byte
		menus   []byte
		elems   []byte
		endedAt sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.SiteID, &a.ClientAddress, &a.SessionToken,
		&urls, &btns, &links, &menus, &elems,
		&a.SessionStartedAt, &endedAt, &a.Ended,
		&a.Country, &a.City, &a.AdBlocker,
	)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		a.SessionEndedAt = &t
	}
	if err := json.Unmarshal(urls, &a.VisitedURLs); err != nil {
		return nil, fmt.Errorf("decode visited_urls for aggregate %d: %w", a.ID, err)
	}
	if err := json.Unmarshal(btns, &a.ButtonCounts); err != nil {
		return nil, fmt.Errorf("decode button_counts for aggregate %d: %w", a.ID, err)
	}
	if err := json.Unmarshal(links, &a.LinkCounts); err != nil {
		return nil, fmt.Errorf("decode link_counts for aggregate %d: %w", a.ID, err)
	}
	if err := json.Unmarshal(menus, &a.MenuCounts); err != nil {
		return nil, fmt.Errorf("decode menu_counts for aggregate %d: %w", a.ID, err)
	}
	if err := json.Unmarshal(elems, &a.ElementCounts); err != nil {
		return nil, fmt.Errorf("decode element_counts for aggregate %d: %w", a.ID, err)
	}
	return &a, nil
}

func collectAggregates(rows *sql.Rows, siteID string) ([]*models.SessionAggregate, error) {
	var out []*models.SessionAggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			log.Printf("Error scanning aggregate row for site %s: %v", siteID, err)
			continue
		}
		out = append(out, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: row error scanning aggregates for site %s: %v", apperrors.ErrPersistence, siteID, err)
	}
	return out, nil
}
