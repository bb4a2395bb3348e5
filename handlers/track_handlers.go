// collector/handlers/track_handlers.go
package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sitepulse/collector/apperrors"
	"github.com/sitepulse/collector/geoip"
	"github.com/sitepulse/collector/models"
	"github.com/sitepulse/collector/store"
)

// AggregateApplier is what the ingestion endpoint needs from the aggregate
// store.
type AggregateApplier interface {
	Apply(ctx context.Context, ev models.Envelope, now time.Time) (*models.SessionAggregate, bool, error)
	SetGeo(ctx context.Context, id int64, country, city string) error
	ListBySite(ctx context.Context, siteID string) ([]*models.SessionAggregate, error)
}

// GeoLookup resolves a client address to a location, falling back internally.
type GeoLookup interface {
	Lookup(ctx context.Context, addr string) geoip.Location
}

// JournalSink accepts envelopes for the raw event journal without blocking.
type JournalSink interface {
	Enqueue(ev models.Envelope)
}

// JournalStats is the admin-facing query slice of the journal.
type JournalStats interface {
	GetEventCountsOverTime(ctx context.Context, siteID, interval string, start, end time.Time, kindFilter string) ([]store.EventCountByTime, error)
	GetTopNPaths(ctx context.Context, siteID string, start, end time.Time, limit uint64) ([]store.TopPathResult, error)
}

type TrackHandlers struct {
	Aggregates AggregateApplier
	Geo        GeoLookup
	Journal    JournalSink
	Stats      JournalStats
}

func NewTrackHandlers(aggregates AggregateApplier, geo GeoLookup, journal JournalSink, stats JournalStats) *TrackHandlers {
	return &TrackHandlers{
		Aggregates: aggregates,
		Geo:        geo,
		Journal:    journal,
		Stats:      stats,
	}
}

// TrackEvent ingests one tracker event: validate, apply to the session
// aggregate, journal, and kick off geo enrichment for brand-new sessions.
func (h *TrackHandlers) TrackEvent(c *gin.Context) {
	var req models.TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("Error binding incoming tracking JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ev, err := models.NewEnvelope(req, c.ClientIP(), time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev.EventID = uuid.New().String()

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	agg, created, err := h.Aggregates.Apply(ctx, ev, ev.OccurredAt)
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found for session_end"})
			return
		}
		log.Printf("Error applying event %s: %v", ev.EventID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record tracking event"})
		return
	}

	if h.Journal != nil {
		h.Journal.Enqueue(ev)
	}
	if created && h.Geo != nil {
		go h.enrichGeo(agg.ID, ev.ClientAddress)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// enrichGeo runs off the request path; any failure leaves the Unknown
// defaults in place.
func (h *TrackHandlers) enrichGeo(aggregateID int64, addr string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	loc := h.Geo.Lookup(ctx, addr)
	if loc == geoip.Unknown {
		return
	}
	if err := h.Aggregates.SetGeo(ctx, aggregateID, loc.Country, loc.City); err != nil {
		log.Printf("Error storing geolocation for aggregate %d: %v", aggregateID, err)
	}
}

// GetAggregates returns the raw aggregates for one site (admin inspection).
func (h *TrackHandlers) GetAggregates(c *gin.Context) {
	siteID := c.Query("siteId")
	if siteID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "siteId query parameter is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	aggs, err := h.Aggregates.ListBySite(ctx, siteID)
	if err != nil {
		log.Printf("Error listing aggregates for site %s: %v", siteID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve aggregates"})
		return
	}
	if aggs == nil {
		aggs = []*models.SessionAggregate{}
	}

	c.JSON(http.StatusOK, aggs)
}

// GetEventCounts buckets journal events for one site over time.
func (h *TrackHandlers) GetEventCounts(c *gin.Context) {
	siteID := c.Query("siteId")
	if siteID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "siteId query parameter is required"})
		return
	}
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}

	start, end, ok := parseWindow(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetEventCountsOverTime(ctx, siteID, interval, start, end, c.Query("kind"))
	if err != nil {
		log.Printf("Error getting event counts for site %s: %v", siteID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

// GetTopPaths returns the most-viewed URLs for one site.
func (h *TrackHandlers) GetTopPaths(c *gin.Context) {
	siteID := c.Query("siteId")
	if siteID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "siteId query parameter is required"})
		return
	}

	start, end, ok := parseWindow(c)
	if !ok {
		return
	}

	var limit uint64 = 10
	if limitParam := c.Query("limit"); limitParam != "" {
		parsedLimit, err := strconv.ParseUint(limitParam, 10, 64)
		if err != nil || parsedLimit == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		limit = parsedLimit
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetTopNPaths(ctx, siteID, start, end, limit)
	if err != nil {
		log.Printf("Error getting top paths for site %s: %v", siteID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top path statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

// parseWindow reads optional RFC3339 start/end query parameters, defaulting
// to the last 7 days. On a parse failure it writes the 400 itself and
// returns ok=false.
func parseWindow(c *gin.Context) (start, end time.Time, ok bool) {
	var err error

	start = time.Now().UTC().Add(-7 * 24 * time.Hour)
	if startParam := c.Query("start"); startParam != "" {
		start, err = time.Parse(time.RFC3339, startParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
	}

	end = time.Now().UTC()
	if endParam := c.Query("end"); endParam != "" {
		end, err = time.Parse(time.RFC3339, endParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
	}

	return start, end, true
}
