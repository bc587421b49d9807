package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"salonbook/internal/database"
	"salonbook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type fakeSheets struct {
	mu           sync.Mutex
	err          error
	upsertCalls  int
	statusCalls  int
	deleteCalls  int
	lastStatus   string
	lastDeleteID string
}

func (f *fakeSheets) UpsertBooking(ctx context.Context, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	return f.err
}

func (f *fakeSheets) UpdateBookingStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	f.lastStatus = status
	return f.err
}

func (f *fakeSheets) DeleteBooking(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	f.lastDeleteID = id
	return f.err
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestWorker(t *testing.T, db *database.DB, sheets *fakeSheets, client *redis.Client, retry RetryPolicy) *SheetsWorker {
	t.Helper()
	logger := zerolog.Nop()
	return NewSheetsWorker(db, sheets, client, retry, &logger)
}

func testBooking(id string) *models.Booking {
	b := &models.Booking{ID: id, SalonID: "salon-1", ServiceID: "svc", StaffID: "s1", UserID: "u1", Price: 25000, Status: models.StatusPending}
	b.SetSlot(time.Date(2030, 1, 2, 10, 0, 0, 0, time.UTC))
	return b
}

func onlyTask(t *testing.T, db *database.DB) models.SyncTask {
	t.Helper()
	tasks, err := db.DueSyncTasks(context.Background(), 10)
	if err != nil {
		t.Fatalf("due tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 due task, got %d", len(tasks))
	}
	return tasks[0]
}

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := newTestWorker(t, db, sheets, nil, RetryPolicy{})
	ctx := context.Background()

	if err := worker.EnqueueTask(ctx, models.SyncTaskUpsert, testBooking("b1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-worker.wake:
	default:
		t.Fatalf("expected enqueue to wake the worker")
	}

	if n := worker.drain(ctx); n != 1 {
		t.Fatalf("expected 1 processed task, got %d", n)
	}
	if sheets.upsertCalls != 1 {
		t.Fatalf("expected upsert call, got %d", sheets.upsertCalls)
	}
	if n := worker.drain(ctx); n != 0 {
		t.Fatalf("completed task must not be processed again, got %d", n)
	}
}

func TestProcessTaskStatusAndDelete(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := newTestWorker(t, db, sheets, nil, RetryPolicy{})
	ctx := context.Background()

	b := testBooking("b2")
	b.Status = models.StatusCancelled
	if err := worker.EnqueueTask(ctx, models.SyncTaskUpdateStatus, b); err != nil {
		t.Fatalf("enqueue status: %v", err)
	}
	if err := worker.EnqueueTask(ctx, models.SyncTaskDelete, b); err != nil {
		t.Fatalf("enqueue delete: %v", err)
	}
	worker.drain(ctx)

	if sheets.lastStatus != models.StatusCancelled {
		t.Fatalf("expected status %q, got %q", models.StatusCancelled, sheets.lastStatus)
	}
	if sheets.lastDeleteID != "b2" {
		t.Fatalf("expected delete of b2, got %q", sheets.lastDeleteID)
	}
}

func TestEnqueueValidation(t *testing.T) {
	worker := newTestWorker(t, newTestDB(t), &fakeSheets{}, nil, RetryPolicy{})
	ctx := context.Background()

	if err := worker.EnqueueTask(ctx, "", testBooking("b1")); err == nil {
		t.Fatalf("expected error for empty task type")
	}
	if err := worker.EnqueueTask(ctx, models.SyncTaskUpsert, &models.Booking{}); err == nil {
		t.Fatalf("expected error for missing booking id")
	}
	if err := worker.EnqueueTask(ctx, "archive", testBooking("b1")); err == nil {
		t.Fatalf("expected error for unknown task type")
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{err: errors.New("boom")}
	worker := newTestWorker(t, db, sheets, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Hour})
	ctx := context.Background()

	if err := worker.EnqueueTask(ctx, models.SyncTaskUpsert, testBooking("b3")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task := onlyTask(t, db)
	worker.processTask(ctx, &task)

	due, err := db.DueSyncTasks(ctx, 10)
	if err != nil {
		t.Fatalf("due tasks: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("retried task must wait for its backoff, got %d due", len(due))
	}
	failed, err := db.FailedSyncTasks(ctx)
	if err != nil {
		t.Fatalf("failed tasks: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("expected no failed tasks yet, got %d", len(failed))
	}
}

func TestProcessTaskDeadLetter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := newTestDB(t)
	sheets := &fakeSheets{err: errors.New("quota exceeded")}
	worker := newTestWorker(t, db, sheets, client, RetryPolicy{MaxRetries: 1})
	ctx := context.Background()

	if err := worker.EnqueueTask(ctx, models.SyncTaskUpsert, testBooking("b4")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task := onlyTask(t, db)
	worker.processTask(ctx, &task)

	failed, err := db.FailedSyncTasks(ctx)
	if err != nil {
		t.Fatalf("failed tasks: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed task, got %d", len(failed))
	}

	items, err := client.LRange(ctx, worker.deadLetterKey, 0, -1).Result()
	if err != nil {
		t.Fatalf("lrange: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(items))
	}
	var dead models.SyncTask
	if err := json.Unmarshal([]byte(items[0]), &dead); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if dead.BookingID != "b4" || dead.LastError == nil || *dead.LastError != "quota exceeded" {
		t.Fatalf("unexpected dead letter: %+v", dead)
	}
}

func TestProcessTaskBadPayload(t *testing.T) {
	db := newTestDB(t)
	worker := newTestWorker(t, db, &fakeSheets{}, nil, RetryPolicy{})
	ctx := context.Background()

	task := models.SyncTask{TaskType: models.SyncTaskUpsert, BookingID: "b5", Payload: "{"}
	if err := db.EnqueueSyncTask(ctx, &task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	worker.processTask(ctx, &task)

	failed, err := db.FailedSyncTasks(ctx)
	if err != nil {
		t.Fatalf("failed tasks: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected malformed task to fail without retry, got %d", len(failed))
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}
	cases := map[int]time.Duration{
		0: 100 * time.Millisecond,
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		5: time.Second,
	}
	for attempt, want := range cases {
		if got := p.NextDelay(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}

func TestRetryPolicyDo(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond}
	ctx := context.Background()

	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	}, nil)
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third call, got err=%v calls=%d", err, calls)
	}

	calls = 0
	permanent := errors.New("bad request")
	err = p.Do(ctx, func(context.Context) error {
		calls++
		return permanent
	}, func(err error) bool { return !errors.Is(err, permanent) })
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("non-retryable error must stop immediately, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = p.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("down")
	}, nil)
	if err == nil || calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}
