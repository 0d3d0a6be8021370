package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JakeFAU/lms-courier/internal/job"
)

func TestRegistryLifecycle(t *testing.T) {
	t.Parallel()

	reg := New()
	start := time.Now()
	first := job.New("job-1", "owner", start, time.Minute, nil)
	second := job.New("job-2", "owner", start.Add(time.Second), time.Minute, nil)

	handle, err := reg.Register(first)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if handle != first {
		t.Fatal("expected Register to return the shared handle")
	}
	if _, err := reg.Register(first); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := reg.Register(second); err != nil {
		t.Fatalf("Register() second error = %v", err)
	}

	jobs := reg.List()
	if len(jobs) != 2 || jobs[0].ID() != "job-1" || jobs[1].ID() != "job-2" {
		t.Fatalf("unexpected listing order: %v", jobs)
	}
	got, err := reg.Get("job-2")
	if err != nil || got != second {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	if _, err := reg.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// TestRemoveIsIdempotent ensures a racing second removal has no effect.
func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := New()
	if _, err := reg.Register(job.New("job-1", "owner", time.Now(), time.Minute, nil)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var removed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reg.Remove("job-1") {
				removed.Add(1)
			}
		}()
	}
	wg.Wait()

	if removed.Load() != 1 {
		t.Fatalf("expected exactly one successful removal, got %d", removed.Load())
	}
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Len())
	}
	if reg.Remove("never-registered") {
		t.Fatal("removing an absent id must be a no-op")
	}
}

func TestListReturnsSnapshot(t *testing.T) {
	t.Parallel()

	reg := New()
	if _, err := reg.Register(job.New("job-1", "owner", time.Now(), time.Minute, nil)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	snapshot := reg.List()
	reg.Remove("job-1")
	if len(snapshot) != 1 {
		t.Fatalf("snapshot changed after removal: %v", snapshot)
	}
}
