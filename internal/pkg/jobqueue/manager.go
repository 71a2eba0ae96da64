package jobqueue

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/MartinGrube/SoloStore/app/models"
	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
)

// HandlerFunc executes one claimed job. Returning nil (or a state-conflict
// error) marks the job succeeded; terminal errors dead-letter it; anything
// else is retried with backoff. Handlers must stay idempotent: a reclaimed
// lease means the previous holder may still be executing.
type HandlerFunc func(ctx context.Context, job *ClaimedJob) error

// ClaimedJob is the handler view of a claimed job row.
type ClaimedJob = models.Job

// SweepFunc is one scheduled maintenance pass (commission maturation, license
// pruning, event replay, webhook due-scan, attempt expiry).
type SweepFunc func(ctx context.Context) error

type sweep struct {
	name     string
	interval time.Duration
	fn       SweepFunc
}

// Manager polls the ledger with a fixed pool of workers and runs the
// registered sweeps on their own tickers. Multiple manager processes may run
// concurrently; correctness comes from per-row claim atomicity, not from any
// coordination between managers.
type Manager struct {
	ledger   *Ledger
	workers  int
	poll     time.Duration
	handlers map[string]HandlerFunc
	sweeps   []sweep

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewManager(ledger *Ledger, workers int) *Manager {
	if workers <= 0 {
		workers = 3
	}
	return &Manager{
		ledger:   ledger,
		workers:  workers,
		poll:     time.Second,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a job type to its executor. Registration happens before
// Start; there is no locking on the handler map.
func (m *Manager) Register(jobType string, fn HandlerFunc) {
	m.handlers[jobType] = fn
}

// RegisterSweep schedules a periodic maintenance pass.
func (m *Manager) RegisterSweep(name string, interval time.Duration, fn SweepFunc) {
	m.sweeps = append(m.sweeps, sweep{name: name, interval: interval, fn: fn})
}

// Start starts the worker pool and sweep tickers.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.stopCh = make(chan struct{})
	m.running = true
	log.Infof("[JobQueue] Starting %d workers, %d sweeps", m.workers, len(m.sweeps))

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}

	for _, s := range m.sweeps {
		m.wg.Add(1)
		go m.sweeper(s)
	}
}

// Stop signals all workers and sweepers and waits for them to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue] Stopping workers...")
	close(m.stopCh)
	m.running = false
	m.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) worker(id int) {
	defer m.wg.Done()

	workerID := workerIdentity(id)
	log.Infof("[JobQueue] Worker %s started", workerID)

	ctx := context.Background()

	for {
		select {
		case <-m.stopCh:
			log.Infof("[JobQueue] Worker %s stopping", workerID)
			return
		default:
			jobs, err := m.ledger.Claim(ctx, workerID, 1)
			if err != nil {
				log.Errorf("[JobQueue] Worker %s: claim error: %v", workerID, err)
				time.Sleep(m.poll)
				continue
			}
			if len(jobs) == 0 {
				time.Sleep(m.poll)
				continue
			}

			for i := range jobs {
				m.execute(ctx, &jobs[i])
			}
		}
	}
}

func (m *Manager) execute(ctx context.Context, job *ClaimedJob) {
	log.Infof("[JobQueue] Worker %s processing job %d (type: %s)", job.LockedBy, job.ID, job.Type)

	handler, ok := m.handlers[job.Type]

	var execErr error
	if !ok {
		execErr = apperr.Terminal(fmt.Sprintf("no handler registered for job type %q", job.Type), nil)
	} else {
		execErr = handler(ctx, job)
	}

	if err := m.ledger.Complete(ctx, job.ID, execErr); err != nil {
		log.Errorf("[JobQueue] Failed to complete job %d: %v", job.ID, err)
	}
}

func (m *Manager) sweeper(s sweep) {
	defer m.wg.Done()
	log.Infof("[JobQueue] Sweep %q running (interval=%s)", s.name, s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			log.Infof("[JobQueue] Sweep %q stopping", s.name)
			return
		case <-ticker.C:
			if err := s.fn(context.Background()); err != nil {
				log.Errorf("[JobQueue] Sweep %q error: %v", s.name, err)
			}
		}
	}
}

func workerIdentity(id int) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s/%d/%d", host, os.Getpid(), id)
}
