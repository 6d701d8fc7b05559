package governor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRun_Completed(t *testing.T) {
	got, err := Run(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != 42 {
		t.Errorf("Run() = %d, want 42", got)
	}
}

func TestRun_OperationError(t *testing.T) {
	wantErr := errors.New("boom")
	_, err := Run(context.Background(), time.Second, func(ctx context.Context) (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Run() error = %v, want %v", err, wantErr)
	}
}

func TestRun_TimedOut(t *testing.T) {
	abandoned := make(chan struct{})

	start := time.Now()
	got, err := Run(context.Background(), 50*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(abandoned)
		return 7, ctx.Err()
	})
	elapsed := time.Since(start)

	if !IsTimeout(err) {
		t.Fatalf("Run() error = %v, want ErrTimedOut", err)
	}
	if got != 0 {
		t.Errorf("Run() value = %d, want zero value on timeout", got)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("Run() returned after %v, before the deadline", elapsed)
	}

	select {
	case <-abandoned:
	case <-time.After(time.Second):
		t.Error("operation context was not cancelled after timeout")
	}
}

func TestRun_ParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if IsTimeout(err) {
		t.Fatal("parent cancellation reported as timeout")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRun_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := time.Second
			if i%2 == 0 {
				d = 20 * time.Millisecond
			}
			_, err := Run(context.Background(), d, func(ctx context.Context) (int, error) {
				select {
				case <-ctx.Done():
					return 0, ctx.Err()
				case <-time.After(200 * time.Millisecond):
					return i, nil
				}
			})
			if i%2 == 0 && !IsTimeout(err) {
				errs <- errors.New("short deadline did not time out")
			}
			if i%2 == 1 && err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestDeadline_Expired(t *testing.T) {
	dl := NewDeadline(context.Background(), 20*time.Millisecond)
	defer dl.Stop()

	if dl.Expired() {
		t.Fatal("Expired() = true before deadline")
	}

	<-dl.Done()
	if !dl.Expired() {
		t.Error("Expired() = false after deadline")
	}
	if dl.Canceled() {
		t.Error("Canceled() = true, parent was not cancelled")
	}
	if dl.Remaining() != 0 {
		t.Errorf("Remaining() = %v, want 0", dl.Remaining())
	}
}

func TestDeadline_ParentCanceled(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	dl := NewDeadline(parent, time.Minute)
	defer dl.Stop()

	cancel()
	<-dl.Done()

	if dl.Expired() {
		t.Error("Expired() = true after parent cancellation")
	}
	if !dl.Canceled() {
		t.Error("Canceled() = false after parent cancellation")
	}
}

func TestDeadline_Stop(t *testing.T) {
	dl := NewDeadline(context.Background(), time.Minute)
	dl.Stop()
	dl.Stop()

	select {
	case <-dl.Done():
	default:
		t.Fatal("Done() not closed after Stop()")
	}
	if dl.Expired() {
		t.Error("Expired() = true after Stop()")
	}
}
