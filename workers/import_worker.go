package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/camden-git/rsvpbackend/importer"
)

// ErrQueueFull is returned when no more import jobs can be queued.
var ErrQueueFull = errors.New("import queue is full")

// ErrStopped is returned when jobs are queued after Stop.
var ErrStopped = errors.New("import processor is stopped")

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Runner applies one guest list.
type Runner interface {
	Import(ctx context.Context, src io.Reader) (*importer.Report, error)
}

type ImportJob struct {
	ID   string
	Name string
	Data []byte
	key  string
}

// JobState is the externally visible state of an import job.
type JobState struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Status     JobStatus        `json:"status"`
	Report     *importer.Report `json:"report,omitempty"`
	Error      string           `json:"error,omitempty"`
	QueuedAt   time.Time        `json:"queued_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

type ImportProcessor struct {
	JobQueue chan ImportJob
	Wg       sync.WaitGroup
	StopChan chan struct{}
	// Pending maps the content hash of queued or running uploads to their job id, so
	// the same file uploaded twice is imported once.
	Pending map[string]string
	Mutex   sync.Mutex

	runner   Runner
	jobs     map[string]*JobState
	notify   func(JobState)
	log      zerolog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewImportProcessor starts numWorkers workers. notify, when non-nil, is called on
// every status change. It must not block or call back into the processor.
func NewImportProcessor(runner Runner, queueSize, numWorkers int, log zerolog.Logger, notify func(JobState)) *ImportProcessor {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	proc := &ImportProcessor{
		JobQueue: make(chan ImportJob, queueSize),
		StopChan: make(chan struct{}),
		Pending:  make(map[string]string),
		runner:   runner,
		jobs:     make(map[string]*JobState),
		notify:   notify,
		log:      log.With().Str("component", "import_worker").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
	proc.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go proc.worker(i)
	}
	proc.log.Info().Int("workers", numWorkers).Int("queue_size", queueSize).Msg("started import workers")
	return proc
}

func (ip *ImportProcessor) worker(id int) {
	defer ip.Wg.Done()
	for {
		select {
		case job, ok := <-ip.JobQueue:
			if !ok {
				return
			}
			ip.process(id, job)
		case <-ip.StopChan:
			ip.log.Debug().Int("worker", id).Msg("import worker stopping")
			return
		}
	}
}

func (ip *ImportProcessor) process(workerID int, job ImportJob) {
	ip.update(job.ID, func(s *JobState) { s.Status = JobRunning })
	ip.log.Info().Int("worker", workerID).Str("job_id", job.ID).Str("name", job.Name).Msg("import started")

	report, err := ip.runner.Import(ip.ctx, bytes.NewReader(job.Data))

	ip.Mutex.Lock()
	delete(ip.Pending, job.key)
	ip.Mutex.Unlock()

	ip.update(job.ID, func(s *JobState) {
		now := time.Now().UTC()
		s.FinishedAt = &now
		s.Report = report
		if err != nil {
			s.Status = JobFailed
			s.Error = err.Error()
			return
		}
		s.Status = JobCompleted
	})
	if err != nil {
		ip.log.Error().Err(err).Str("job_id", job.ID).Msg("import failed")
		return
	}
	ip.log.Info().Str("job_id", job.ID).Int("errors", len(report.Errors)).Msg("import finished")
}

func (ip *ImportProcessor) update(id string, fn func(*JobState)) {
	ip.Mutex.Lock()
	state, ok := ip.jobs[id]
	if !ok {
		ip.Mutex.Unlock()
		return
	}
	fn(state)
	snapshot := *state
	ip.Mutex.Unlock()

	if ip.notify != nil {
		ip.notify(snapshot)
	}
}

// QueueJob queues data for import. Uploading content identical to a job that is
// still queued or running returns that job instead of a new one.
func (ip *ImportProcessor) QueueJob(name string, data []byte) (JobState, error) {
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])

	ip.Mutex.Lock()
	select {
	case <-ip.StopChan:
		ip.Mutex.Unlock()
		return JobState{}, ErrStopped
	default:
	}
	if existingID, ok := ip.Pending[key]; ok {
		state := *ip.jobs[existingID]
		ip.Mutex.Unlock()
		return state, nil
	}
	job := ImportJob{ID: uuid.NewString(), Name: name, Data: data, key: key}
	state := &JobState{ID: job.ID, Name: name, Status: JobQueued, QueuedAt: time.Now().UTC()}

	// The send never blocks, so it stays under the lock that Stop takes to close StopChan.
	select {
	case ip.JobQueue <- job:
	default:
		ip.Mutex.Unlock()
		ip.log.Warn().Str("name", name).Msg("import job queue full")
		return JobState{}, ErrQueueFull
	}
	ip.Pending[key] = job.ID
	ip.jobs[job.ID] = state
	snapshot := *state
	// Published before a worker can report the job running.
	if ip.notify != nil {
		ip.notify(snapshot)
	}
	ip.Mutex.Unlock()

	ip.log.Info().Str("job_id", job.ID).Str("name", name).Msg("queued import")
	return snapshot, nil
}

// Job returns the state of a job.
func (ip *ImportProcessor) Job(id string) (JobState, bool) {
	ip.Mutex.Lock()
	defer ip.Mutex.Unlock()
	state, ok := ip.jobs[id]
	if !ok {
		return JobState{}, false
	}
	return *state, true
}

// Stop cancels running imports and waits for the workers to exit.
func (ip *ImportProcessor) Stop() {
	ip.stopOnce.Do(func() {
		ip.log.Info().Msg("stopping import workers")
		ip.cancel()
		ip.Mutex.Lock()
		close(ip.StopChan)
		ip.Mutex.Unlock()
		ip.Wg.Wait()
	})
}
