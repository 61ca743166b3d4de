package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/pressarchive/internal/logging"
)

// Memory is an in-process Queue: an unbounded FIFO and a worker pool per lane.
// Enqueue never blocks, so a stage may hand work to the next stage from inside
// a worker even when that worker's own lane is backed up. Jobs still pending
// at shutdown are dropped; the pipeline's startup recovery re-enqueues them
// from persisted status.
type Memory struct {
	lanes   map[Lane]*fifo
	workers map[Lane]int
	logger  logging.Logger
}

// fifo is a job list plus a wake-up signal. wake holds at most one token;
// a worker that takes a job while more are pending passes the token on.
type fifo struct {
	mu   sync.Mutex
	jobs []Job
	wake chan struct{}
}

func (f *fifo) push(j Job) {
	f.mu.Lock()
	f.jobs = append(f.jobs, j)
	f.mu.Unlock()
	f.signal()
}

func (f *fifo) pop() (Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		return Job{}, false
	}
	j := f.jobs[0]
	f.jobs[0] = Job{}
	f.jobs = f.jobs[1:]
	if len(f.jobs) > 0 {
		f.signal()
	}
	return j, true
}

func (f *fifo) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func (f *fifo) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// NewMemory builds the queue. capacity preallocates each lane's list; lanes
// grow past it instead of blocking producers.
func NewMemory(workers map[Lane]int, capacity int, l logging.Logger) *Memory {
	m := &Memory{
		lanes:   make(map[Lane]*fifo, len(Lanes)),
		workers: make(map[Lane]int, len(Lanes)),
		logger:  l.With("module", "queue", "kind", "memory"),
	}
	for _, lane := range Lanes {
		n := workers[lane]
		if n <= 0 {
			n = 1
		}
		m.workers[lane] = n
		m.lanes[lane] = &fifo{
			jobs: make([]Job, 0, max(capacity, 0)),
			wake: make(chan struct{}, 1),
		}
	}
	return m
}

func (m *Memory) Enqueue(ctx context.Context, job Job) error {
	f, ok := m.lanes[job.Stage.Lane()]
	if !ok || !job.Stage.Valid() {
		return fmt.Errorf("unknown stage %q", job.Stage)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.push(job)
	return nil
}

// Pending reports how many jobs wait in lane.
func (m *Memory) Pending(lane Lane) int {
	f, ok := m.lanes[lane]
	if !ok {
		return 0
	}
	return f.size()
}

// Run blocks until ctx is done and every in-flight job has returned. Jobs are
// handed a context that is not cancelled by shutdown.
func (m *Memory) Run(ctx context.Context, h Handler) error {
	var wg sync.WaitGroup
	jobCtx := context.WithoutCancel(ctx)

	for _, lane := range Lanes {
		f := m.lanes[lane]
		for range m.workers[lane] {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					if ctx.Err() != nil {
						return
					}
					if job, ok := f.pop(); ok {
						h(jobCtx, job)
						continue
					}
					select {
					case <-ctx.Done():
						return
					case <-f.wake:
					}
				}
			}()
		}
		m.logger.Info(ctx, "lane started", "lane", lane, "workers", m.workers[lane])
	}

	wg.Wait()
	m.logger.Info(ctx, "queue stopped")
	return nil
}
