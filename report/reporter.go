// collector/report/reporter.go
package report

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sitepulse/collector/apperrors"
	"github.com/sitepulse/collector/models"
	"github.com/sitepulse/collector/notify"
)

// RegistrationLister yields the sites to report on.
type RegistrationLister interface {
	List(ctx context.Context) ([]models.Registration, error)
}

// AggregateScanner is the read-only slice of the aggregate store the
// reporting job uses, plus the close-out write it owns.
type AggregateScanner interface {
	ScanSince(ctx context.Context, siteID string, since time.Time) ([]*models.SessionAggregate, error)
	CloseInactiveSessions(ctx context.Context, threshold time.Duration, now time.Time) (int64, error)
}

// Reporter runs the periodic per-site summaries. A failure for one site is
// logged and the batch moves on to the next.
type Reporter struct {
	registrations RegistrationLister
	aggregates    AggregateScanner
	notifier      notify.Notifier

	lookback          time.Duration
	inactivityTimeout time.Duration
}

func NewReporter(regs RegistrationLister, aggs AggregateScanner, notifier notify.Notifier, lookback, inactivityTimeout time.Duration) *Reporter {
	return &Reporter{
		registrations:     regs,
		aggregates:        aggs,
		notifier:          notifier,
		lookback:          lookback,
		inactivityTimeout: inactivityTimeout,
	}
}

// RunOnce executes a single reporting pass: close out idle sessions, then
// summarize and notify every registered site.
func (r *Reporter) RunOnce(ctx context.Context, now time.Time) error {
	if _, err := r.aggregates.CloseInactiveSessions(ctx, r.inactivityTimeout, now); err != nil {
		// Close-out failing only delays the ACTIVE->ENDED transition; the
		// scan below still works off last-seen watermarks.
		log.Printf("Error closing inactive sessions: %v", err)
	}

	regs, err := r.registrations.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list registrations for reporting: %w", err)
	}

	since := now.Add(-r.lookback)
	for _, reg := range regs {
		if err := r.reportSite(ctx, reg, since, now); err != nil {
			log.Printf("Skipping site after report failure: %v",
				apperrors.NotificationError{SiteID: reg.SiteID, Err: err})
		}
	}
	return nil
}

func (r *Reporter) reportSite(ctx context.Context, reg models.Registration, since, now time.Time) error {
	aggs, err := r.aggregates.ScanSince(ctx, reg.SiteID, since)
	if err != nil {
		return err
	}
	if len(aggs) == 0 {
		log.Printf("No tracking data available for %s.", reg.SiteID)
		return nil
	}

	sum := Summarize(reg.SiteID, aggs, now)
	body := RenderBody(sum, aggs, now)
	csvData, err := RenderCSV(sum, aggs, now)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Daily Tracking Data for %s", reg.SiteID)
	attachment := notify.Attachment{
		Filename: fmt.Sprintf("daily_tracking_%s.csv", reg.SiteID),
		Data:     csvData,
	}
	if err := r.notifier.Notify(reg.NotifyAddress, subject, body, []notify.Attachment{attachment}); err != nil {
		return err
	}

	log.Printf("Report for %s delivered to %s (%d session(s), %d unique visitor(s)).",
		reg.SiteID, reg.NotifyAddress, sum.Sessions, sum.UniqueVisitors)
	return nil
}

// Schedule starts the cron-driven reporting loop and returns the scheduler
// so the caller can stop it on shutdown.
func (r *Reporter) Schedule(spec, timezone string) (*cron.Cron, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid report timezone %q: %w", timezone, err)
	}

	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc(spec, func() {
		log.Println("Sending daily tracking data...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := r.RunOnce(ctx, time.Now()); err != nil {
			log.Printf("Reporting pass failed: %v", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid report schedule %q: %w", spec, err)
	}

	c.Start()
	log.Printf("Reporting job scheduled: %q in %s.", spec, loc)
	return c, nil
}
