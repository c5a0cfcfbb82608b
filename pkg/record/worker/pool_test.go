package worker_test

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/objstreamhq/objstream/pkg/genai"
	"github.com/objstreamhq/objstream/pkg/record"
	"github.com/objstreamhq/objstream/pkg/record/worker"
)

// memoryStore collects records in memory, optionally blocking Put until
// released so tests can fill the queue deterministically.
type memoryStore struct {
	mu      sync.Mutex
	records []*record.Record
	gate    chan struct{}
}

func (m *memoryStore) Put(_ context.Context, rec *record.Record) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryStore) Get(context.Context, string) (*record.Record, error) {
	return nil, record.ErrNotFound{}
}

func (m *memoryStore) List(context.Context, int) ([]*record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*record.Record(nil), m.records...), nil
}

func (m *memoryStore) Close() error { return nil }

func newRecord(model string) *record.Record {
	return record.FromResult("openai", model, "", &genai.FinalResult{
		Object:       map[string]any{"ok": true},
		FinishReason: genai.FinishReasonStop,
	})
}

var _ = Describe("Pool", func() {
	It("requires a store", func() {
		_, err := worker.NewPool(&worker.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("persists enqueued records before Close returns", func() {
		store := &memoryStore{}
		pool, err := worker.NewPool(&worker.Config{Store: store})
		Expect(err).NotTo(HaveOccurred())

		for range 10 {
			Expect(pool.Enqueue(worker.Job{Record: newRecord("gpt-4.1")})).To(BeTrue())
		}
		pool.Close()

		recs, _ := store.List(context.Background(), 0)
		Expect(recs).To(HaveLen(10))
	})

	It("drops jobs instead of blocking when the queue is full", func() {
		store := &memoryStore{gate: make(chan struct{})}
		pool, err := worker.NewPool(&worker.Config{
			Store:      store,
			NumWorkers: 1,
			QueueSize:  1,
		})
		Expect(err).NotTo(HaveOccurred())

		// First job parks in the worker on the gate; second fills the queue.
		// Eventually both slots are occupied and Enqueue must refuse.
		dropped := false
		for range 16 {
			if !pool.Enqueue(worker.Job{Record: newRecord("gpt-4.1")}) {
				dropped = true
				break
			}
		}
		Expect(dropped).To(BeTrue())

		close(store.gate)
		pool.Close()
	})

	It("drops jobs enqueued after Close without panicking", func() {
		store := &memoryStore{}
		pool, err := worker.NewPool(&worker.Config{Store: store})
		Expect(err).NotTo(HaveOccurred())

		pool.Close()

		Expect(func() {
			Expect(pool.Enqueue(worker.Job{Record: newRecord("gpt-4.1")})).To(BeFalse())
		}).NotTo(Panic())

		recs, _ := store.List(context.Background(), 0)
		Expect(recs).To(BeEmpty())
	})

	It("tolerates a double Close", func() {
		store := &memoryStore{}
		pool, err := worker.NewPool(&worker.Config{Store: store})
		Expect(err).NotTo(HaveOccurred())

		Expect(func() {
			pool.Close()
			pool.Close()
		}).NotTo(Panic())
	})
})
