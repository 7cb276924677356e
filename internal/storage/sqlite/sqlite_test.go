package sqlite

import (
	"context"
	"net/http"
	"testing"
	"time"

	engine "github.com/eugener/warden/internal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTaskQueue_EnqueueListDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tasks := []*engine.RetryTask{
		{ID: "t1", Method: "POST", URL: "https://app.example/api/jobs", Body: []byte(`{"a":1}`), EnqueuedAt: time.Now()},
		{ID: "t2", Method: "PUT", URL: "https://app.example/api/jobs/2", EnqueuedAt: time.Now()},
		{ID: "t3", Method: "POST", URL: "https://app.example/api/jobs", EnqueuedAt: time.Now()},
	}
	for _, task := range tasks {
		if err := s.EnqueueTask(ctx, task); err != nil {
			t.Fatalf("enqueue %s: %v", task.ID, err)
		}
	}

	got, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Replay order is enqueue order.
	for i, want := range []string{"t1", "t2", "t3"} {
		if got[i].ID != want {
			t.Errorf("task[%d] = %s, want %s", i, got[i].ID, want)
		}
	}
	if string(got[0].Body) != `{"a":1}` {
		t.Errorf("body = %q", got[0].Body)
	}

	if err := s.DeleteTask(ctx, "t2"); err != nil {
		t.Fatal(err)
	}
	n, err := s.CountTasks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	// Deleting an absent task is a no-op.
	if err := s.DeleteTask(ctx, "t2"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestTaskQueue_HeaderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &engine.RetryTask{
		ID:     "t1",
		Method: "POST",
		URL:    "https://app.example/api/jobs",
		Header: http.Header{
			"Content-Type": []string{"application/json"},
			"X-Client":     []string{"warden"},
		},
		EnqueuedAt: time.Now(),
	}
	if err := s.EnqueueTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Header.Get("Content-Type") != "application/json" {
		t.Errorf("header = %v", got[0].Header)
	}
	if got[0].Header.Get("X-Client") != "warden" {
		t.Errorf("header = %v", got[0].Header)
	}
}

func TestTaskQueue_UpdateAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &engine.RetryTask{ID: "t1", Method: "POST", URL: "https://app.example/api/jobs", EnqueuedAt: time.Now()}
	if err := s.EnqueueTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateTaskAttempts(ctx, "t1", 2); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", got[0].Attempts)
	}
}

func TestVersion_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.CurrentVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("initial version = %q, want empty", v)
	}

	if err := s.SetCurrentVersion(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetCurrentVersion(ctx, "v2"); err != nil {
		t.Fatal(err)
	}

	v, err = s.CurrentVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v != "v2" {
		t.Errorf("version = %q, want v2", v)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}
