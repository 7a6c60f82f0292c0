package workers

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/camden-git/rsvpbackend/importer"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	err     error
}

func (f *fakeRunner) Import(ctx context.Context, src io.Reader) (*importer.Report, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	data, _ := io.ReadAll(src)
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &importer.Report{Rows: len(data)}, nil
}

func waitStatus(t *testing.T, ip *ImportProcessor, id string, want JobStatus) JobState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		state, ok := ip.Job(id)
		if ok && state.Status == want {
			return state
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s status=%s want %s", id, state.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestImportProcessorRunsJobs(t *testing.T) {
	runner := &fakeRunner{}
	var mu sync.Mutex
	var seen []JobStatus
	ip := NewImportProcessor(runner, 4, 1, zerolog.Nop(), func(s JobState) {
		mu.Lock()
		seen = append(seen, s.Status)
		mu.Unlock()
	})
	defer ip.Stop()

	state, err := ip.QueueJob("guests.csv", []byte("abc"))
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	done := waitStatus(t, ip, state.ID, JobCompleted)
	if done.Report == nil || done.Report.Rows != 3 || done.FinishedAt == nil {
		t.Fatalf("state=%+v", done)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || seen[len(seen)-1] != JobCompleted {
		t.Fatalf("notifications=%v", seen)
	}
}

func TestImportProcessorDeduplicatesPendingUploads(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	ip := NewImportProcessor(runner, 4, 1, zerolog.Nop(), nil)
	defer ip.Stop()

	first, err := ip.QueueJob("a.csv", []byte("same"))
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	second, err := ip.QueueJob("b.csv", []byte("same"))
	if err != nil {
		t.Fatalf("queue again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate upload got a new job")
	}

	close(runner.release)
	waitStatus(t, ip, first.ID, JobCompleted)

	// Once finished, the same content can be imported again.
	third, err := ip.QueueJob("c.csv", []byte("same"))
	if err != nil {
		t.Fatalf("queue after completion: %v", err)
	}
	if third.ID == first.ID {
		t.Fatalf("finished job reused")
	}
	waitStatus(t, ip, third.ID, JobCompleted)
}

func TestImportProcessorRecordsFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("bad header")}
	ip := NewImportProcessor(runner, 4, 1, zerolog.Nop(), nil)
	defer ip.Stop()

	state, err := ip.QueueJob("bad.csv", []byte("x"))
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	failed := waitStatus(t, ip, state.ID, JobFailed)
	if failed.Error != "bad header" {
		t.Fatalf("error=%q", failed.Error)
	}
}

func TestImportProcessorQueueFull(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	ip := NewImportProcessor(runner, 1, 1, zerolog.Nop(), nil)
	defer ip.Stop()

	// One job is taken by the worker and blocks; one fills the queue.
	first, err := ip.QueueJob("1.csv", []byte("1"))
	if err != nil {
		t.Fatalf("queue 1: %v", err)
	}
	waitStatus(t, ip, first.ID, JobRunning)
	if _, err := ip.QueueJob("2.csv", []byte("2")); err != nil {
		t.Fatalf("queue 2: %v", err)
	}
	if _, err := ip.QueueJob("3.csv", []byte("3")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err=%v want ErrQueueFull", err)
	}
	close(runner.release)
}

func TestUnknownJob(t *testing.T) {
	ip := NewImportProcessor(&fakeRunner{}, 1, 1, zerolog.Nop(), nil)
	defer ip.Stop()
	if _, ok := ip.Job("nope"); ok {
		t.Fatalf("unknown job reported")
	}
}

func TestQueueJobAfterStopIsRejected(t *testing.T) {
	runner := &fakeRunner{}
	ip := NewImportProcessor(runner, 4, 1, zerolog.Nop(), nil)
	queued, err := ip.QueueJob("early.csv", []byte("early"))
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	waitStatus(t, ip, queued.ID, JobCompleted)
	ip.Stop()

	if _, err := ip.QueueJob("late.csv", []byte("late")); !errors.Is(err, ErrStopped) {
		t.Fatalf("err=%v, want ErrStopped", err)
	}
	if len(ip.JobQueue) != 0 {
		t.Fatalf("queue holds %d jobs after stop", len(ip.JobQueue))
	}
	ip.Mutex.Lock()
	pending, jobs := len(ip.Pending), len(ip.jobs)
	ip.Mutex.Unlock()
	if pending != 0 || jobs != 1 {
		t.Fatalf("pending=%d jobs=%d after stop", pending, jobs)
	}
	ip.Stop()
}
