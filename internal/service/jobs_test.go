package service

import (
	"sync"
	"testing"
	"time"

	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
)

func TestJobTrackerLifecycle(t *testing.T) {
	tracker := NewJobTracker()
	id := tracker.CreateJob(domain.JobTypeReindex, 3)

	job, ok := tracker.GetJob(id)
	if !ok || job.Status != domain.JobStatusRunning || job.Total != 3 || job.CompletedAt != nil {
		t.Fatalf("new job = %+v", job)
	}

	ch := tracker.Subscribe(id)
	tracker.UpdateJob(id, func(j *domain.JobStatus) { j.Processed = 1 })
	select {
	case update := <-ch:
		if update.Processed != 1 || update.Status != domain.JobStatusRunning {
			t.Fatalf("update = %+v", update)
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}

	tracker.UpdateJob(id, func(j *domain.JobStatus) {
		j.Processed = 3
		j.Status = domain.JobStatusCompleted
	})
	final := <-ch
	if final.CompletedAt == nil {
		t.Fatal("finished job has no completion time")
	}

	tracker.Unsubscribe(id, ch)
	if _, open := <-ch; open {
		t.Fatal("channel should be closed after unsubscribe")
	}

	if _, ok := tracker.GetJob("missing"); ok {
		t.Fatal("unknown job found")
	}
	tracker.UpdateJob("missing", func(*domain.JobStatus) { t.Fatal("update applied to unknown job") })
}

func TestJobTrackerSlowSubscriberDoesNotBlock(t *testing.T) {
	tracker := NewJobTracker()
	id := tracker.CreateJob(domain.JobTypeReindex, 0)
	ch := tracker.Subscribe(id)
	defer tracker.Unsubscribe(id, ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			tracker.UpdateJob(id, func(j *domain.JobStatus) { j.Processed++ })
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("updates blocked on an unread subscriber")
	}
}

func TestJobTrackerConcurrentUpdateAndUnsubscribe(t *testing.T) {
	tracker := NewJobTracker()
	id := tracker.CreateJob(domain.JobTypeReindex, 0)

	const workers, rounds = 4, 2000
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				tracker.UpdateJob(id, func(j *domain.JobStatus) { j.Processed++ })
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				ch := tracker.Subscribe(id)
				tracker.Unsubscribe(id, ch)
			}
		}()
	}
	wg.Wait()

	job, _ := tracker.GetJob(id)
	if job.Processed != workers*rounds {
		t.Fatalf("processed = %d, want %d", job.Processed, workers*rounds)
	}
}

func TestJobTrackerWatchNeverMissesCompletion(t *testing.T) {
	tracker := NewJobTracker()
	if _, _, ok := tracker.Watch("missing"); ok {
		t.Fatal("watched unknown job")
	}

	for i := 0; i < 200; i++ {
		id := tracker.CreateJob(domain.JobTypeReindex, 1)
		go tracker.UpdateJob(id, func(j *domain.JobStatus) { j.Status = domain.JobStatusCompleted })

		ch, job, ok := tracker.Watch(id)
		if !ok {
			t.Fatal("job not found")
		}
		if ch == nil {
			if job.Status != domain.JobStatusCompleted {
				t.Fatalf("nil channel for running job: %+v", job)
			}
			continue
		}
		select {
		case update := <-ch:
			if update.Status != domain.JobStatusCompleted {
				t.Fatalf("update = %+v", update)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("completion of job %d never delivered", i)
		}
		tracker.Unsubscribe(id, ch)
	}
}

func TestJobTrackerRecentAndPrune(t *testing.T) {
	tracker := NewJobTracker()
	var ids []string
	for i := 0; i < maxRetainedJobs+10; i++ {
		id := tracker.CreateJob(domain.JobTypeReindex, 0)
		tracker.UpdateJob(id, func(j *domain.JobStatus) {
			j.StartedAt = time.Unix(int64(i), 0)
			j.Status = domain.JobStatusCompleted
		})
		ids = append(ids, id)
	}
	running := tracker.CreateJob(domain.JobTypeReindex, 0)

	all := tracker.RecentJobs(0)
	if len(all) > maxRetainedJobs {
		t.Fatalf("retained %d jobs", len(all))
	}
	if _, ok := tracker.GetJob(running); !ok {
		t.Fatal("running job was pruned")
	}
	if _, ok := tracker.GetJob(ids[0]); ok {
		t.Fatal("oldest finished job kept")
	}

	recent := tracker.RecentJobs(2)
	if len(recent) != 2 || recent[0].ID != running {
		t.Fatalf("recent = %+v", recent)
	}
}
