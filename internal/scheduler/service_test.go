package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cedadev/nla-control-go/internal/logging"
)

func newTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewLogger("error", "text", "")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}

func TestRegisterAndRun(t *testing.T) {
	svc := NewService(newTestLogger(t))

	var calls int64
	if err := svc.Register("tidy", "* * * * * *", func(ctx context.Context) error {
		atomic.AddInt64(&calls, 1)
		return nil
	}); err != nil {
		t.Fatalf("failed to register job: %v", err)
	}

	svc.Start()
	defer svc.Stop()

	time.Sleep(2200 * time.Millisecond)

	if atomic.LoadInt64(&calls) < 2 {
		t.Errorf("expected at least 2 ticks, got %d", calls)
	}
}

func TestRunNowSkipsWhileBusy(t *testing.T) {
	svc := NewService(newTestLogger(t))

	started := make(chan struct{})
	release := make(chan struct{})
	var runs int64

	err := svc.Register("verify", "@every 1h", func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		close(started)
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("failed to register job: %v", err)
	}

	if ok := svc.RunNow("verify"); !ok {
		t.Fatal("expected RunNow to find the registered job")
	}
	<-started

	// A second RunNow while the first is still in flight must be skipped.
	svc.RunNow("verify")
	time.Sleep(50 * time.Millisecond)
	close(release)
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt64(&runs) != 1 {
		t.Errorf("expected exactly 1 run while busy, got %d", runs)
	}
}

func TestRunNowUnknownJob(t *testing.T) {
	svc := NewService(newTestLogger(t))
	if ok := svc.RunNow("does-not-exist"); ok {
		t.Error("expected RunNow to report false for an unregistered job")
	}
}

func TestStatusRecordsLastError(t *testing.T) {
	svc := NewService(newTestLogger(t))

	wantErr := errors.New("boom")
	done := make(chan struct{})
	if err := svc.Register("update_requests", "@every 1h", func(ctx context.Context) error {
		defer close(done)
		return wantErr
	}); err != nil {
		t.Fatalf("failed to register job: %v", err)
	}

	svc.RunNow("update_requests")
	<-done
	time.Sleep(10 * time.Millisecond)

	status := svc.Status()["update_requests"]
	if status.LastError != wantErr.Error() {
		t.Errorf("expected last error %q, got %q", wantErr.Error(), status.LastError)
	}
}

func TestParseCron(t *testing.T) {
	if err := ParseCron("@every 5m"); err != nil {
		t.Errorf("expected @every 5m to parse, got %v", err)
	}
	if err := ParseCron("not a cron expression"); err == nil {
		t.Error("expected an invalid expression to fail to parse")
	}
}
