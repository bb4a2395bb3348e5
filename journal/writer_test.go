// collector/journal/writer_test.go
package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sitepulse/collector/models"
)

type fakeInserter struct {
	mu      sync.Mutex
	batches [][]models.Envelope
	failFor int
}

func (f *fakeInserter) InsertEvents(ctx context.Context, events []models.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor > 0 {
		f.failFor--
		return errors.New("clickhouse unavailable")
	}
	batch := make([]models.Envelope, len(events))
	copy(batch, events)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeInserter) snapshot() [][]models.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]models.Envelope, len(f.batches))
	copy(out, f.batches)
	return out
}

func waitForBatches(t *testing.T, ins *fakeInserter, want int) [][]models.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if got := ins.snapshot(); len(got) >= want {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d batch(es), have %d", want, len(ins.snapshot()))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func ev(id string) models.Envelope {
	return models.Envelope{EventID: id, Kind: models.KindPageView, SiteID: "ex.com"}
}

func TestWriterFlushesFullBatch(t *testing.T) {
	ins := &fakeInserter{}
	w := NewWriter(ins, 16, 2, time.Minute)
	w.Start(1)
	defer w.Stop()

	w.Enqueue(ev("a"))
	w.Enqueue(ev("b"))

	batches := waitForBatches(t, ins, 1)
	if len(batches[0]) != 2 {
		t.Errorf("batch size = %d, want 2", len(batches[0]))
	}
}

func TestWriterStopFlushesRemainder(t *testing.T) {
	ins := &fakeInserter{}
	w := NewWriter(ins, 16, 100, time.Minute)
	w.Start(1)

	w.Enqueue(ev("a"))
	w.Enqueue(ev("b"))
	w.Enqueue(ev("c"))
	w.Stop()

	batches := ins.snapshot()
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("batches = %v, want one partial batch of 3 on shutdown", batches)
	}
}

func TestWriterTickerFlushesPartialBatch(t *testing.T) {
	ins := &fakeInserter{}
	w := NewWriter(ins, 16, 100, 20*time.Millisecond)
	w.Start(1)
	defer w.Stop()

	w.Enqueue(ev("a"))

	batches := waitForBatches(t, ins, 1)
	if len(batches[0]) != 1 || batches[0][0].EventID != "a" {
		t.Errorf("batch = %v, want the single buffered event", batches[0])
	}
}

func TestWriterSurvivesInsertFailure(t *testing.T) {
	ins := &fakeInserter{failFor: 1}
	w := NewWriter(ins, 16, 1, time.Minute)
	w.Start(1)

	w.Enqueue(ev("lost"))
	w.Enqueue(ev("kept"))
	w.Stop()

	batches := ins.snapshot()
	if len(batches) == 0 {
		t.Fatal("worker stopped after a failed insert")
	}
	last := batches[len(batches)-1]
	if last[len(last)-1].EventID != "kept" {
		t.Errorf("later events did not reach the journal: %v", batches)
	}
}

func TestEnqueueDropsWhenBufferFull(t *testing.T) {
	w := NewWriter(&fakeInserter{}, 1, 10, time.Minute)

	// No workers running, so the buffer cannot drain.
	w.Enqueue(ev("a"))
	w.Enqueue(ev("b"))

	if got := len(w.events); got != 1 {
		t.Errorf("buffered events = %d, want the overflow dropped", got)
	}
}
