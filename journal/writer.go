// collector/journal/writer.go
package journal

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sitepulse/collector/models"
)

// Inserter is the slice of JournalStore the writer needs.
type Inserter interface {
	InsertEvents(ctx context.Context, events []models.Envelope) error
}

// Writer drains envelopes from a buffered channel into journal batches so
// the ingestion path never waits on ClickHouse. Journal writes are
// best-effort: a full buffer drops the event with a log line rather than
// stalling the request.
type Writer struct {
	events     chan models.Envelope
	inserter   Inserter
	batchSize  int
	flushEvery time.Duration
	wg         sync.WaitGroup
}

func NewWriter(inserter Inserter, bufferSize, batchSize int, flushEvery time.Duration) *Writer {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Writer{
		events:     make(chan models.Envelope, bufferSize),
		inserter:   inserter,
		batchSize:  batchSize,
		flushEvery: flushEvery,
	}
}

// Start launches the worker goroutines.
func (w *Writer) Start(workerCount int) {
	if workerCount < 1 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		w.wg.Add(1)
		go w.run()
	}
	log.Printf("Journal writer started with %d worker(s), buffer %d.", workerCount, cap(w.events))
}

// Enqueue hands an envelope to the journal without blocking the caller.
func (w *Writer) Enqueue(ev models.Envelope) {
	select {
	case w.events <- ev:
	default:
		log.Printf("Journal buffer full, dropping event %s (%s).", ev.EventID, ev.Kind)
	}
}

// Stop flushes outstanding batches and waits for the workers to finish.
func (w *Writer) Stop() {
	close(w.events)
	w.wg.Wait()
	log.Println("Journal writer stopped.")
}

func (w *Writer) run() {
	defer w.wg.Done()

	batch := make([]models.Envelope, 0, w.batchSize)
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := w.inserter.InsertEvents(ctx, batch); err != nil {
			log.Printf("Error writing %d event(s) to the journal: %v", len(batch), err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-w.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
