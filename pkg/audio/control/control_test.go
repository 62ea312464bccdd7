package control_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/samplechan/pkg/audio/control"
)

type counter struct {
	n atomic.Int64
}

func (c *counter) UpdateState() { c.n.Add(1) }

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()

	q := control.NewQueue(nil)
	var got []int
	for i := range 5 {
		q.Enqueue(func() { got = append(got, i) })
	}
	if q.Len() != 5 {
		t.Fatalf("Len = %d, want 5", q.Len())
	}

	if n := q.Drain(); n != 5 {
		t.Fatalf("Drain ran %d actions, want 5", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d (order %v)", i, v, i, got)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len after drain = %d, want 0", q.Len())
	}
}

func TestQueue_DrainRunsActionsEnqueuedDuringDrain(t *testing.T) {
	t.Parallel()

	q := control.NewQueue(nil)
	var order []string
	q.Enqueue(func() {
		order = append(order, "outer")
		q.Enqueue(func() { order = append(order, "inner") })
	})
	q.Enqueue(func() { order = append(order, "second") })

	if n := q.Drain(); n != 3 {
		t.Fatalf("Drain ran %d actions, want 3", n)
	}
	want := []string{"outer", "second", "inner"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestQueue_PanickingActionIsSkipped(t *testing.T) {
	t.Parallel()

	q := control.NewQueue(nil)
	ran := false
	q.Enqueue(func() { panic("boom") })
	q.Enqueue(func() { ran = true })

	if n := q.Drain(); n != 2 {
		t.Fatalf("Drain ran %d actions, want 2", n)
	}
	if !ran {
		t.Error("action after panicking action did not run")
	}
}

func TestQueue_NilActionIgnored(t *testing.T) {
	t.Parallel()

	q := control.NewQueue(nil)
	q.Enqueue(nil)
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestThread_RunsActionsInOrder(t *testing.T) {
	t.Parallel()

	th := control.New(control.WithTickInterval(time.Hour))
	defer th.Close()

	var mu sync.Mutex
	var got []int
	for i := range 100 {
		th.Enqueue(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}

	if err := th.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("ran %d actions, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestThread_TicksRegisteredComponents(t *testing.T) {
	t.Parallel()

	th := control.New(control.WithTickInterval(5 * time.Millisecond))
	defer th.Close()

	c := &counter{}
	unregister := th.Register(c)

	deadline := time.Now().Add(time.Second)
	for c.n.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("component ticked %d times, want >= 3", c.n.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	unregister()
	unregister() // idempotent

	// Let any in-flight tick finish, then make sure ticking stopped.
	time.Sleep(20 * time.Millisecond)
	before := c.n.Load()
	time.Sleep(50 * time.Millisecond)
	if after := c.n.Load(); after != before {
		t.Errorf("component ticked after unregister: %d -> %d", before, after)
	}
}

func TestThread_DrainHook(t *testing.T) {
	t.Parallel()

	var total atomic.Int64
	th := control.New(
		control.WithTickInterval(time.Hour),
		control.WithDrainHook(func(n int, _ time.Duration) { total.Add(int64(n)) }),
	)
	defer th.Close()

	th.Enqueue(func() {})
	th.Enqueue(func() {})
	if err := th.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Flush adds its own marker action. The hook runs after the drain that
	// released Flush, so poll briefly.
	deadline := time.Now().Add(time.Second)
	for total.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := total.Load(); got != 3 {
		t.Errorf("drain hook saw %d actions, want 3", got)
	}
}

func TestThread_CloseDrainsPendingActions(t *testing.T) {
	t.Parallel()

	th := control.New(control.WithTickInterval(time.Hour))

	var ran atomic.Bool
	block := make(chan struct{})
	th.Enqueue(func() { <-block })
	th.Enqueue(func() { ran.Store(true) })

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(block)
	}()

	if err := th.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !ran.Load() {
		t.Error("action enqueued before Close did not run")
	}
	if err := th.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestThread_EnqueueAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	th := control.New()
	_ = th.Close()

	th.Enqueue(func() { t.Error("action ran after Close") })
	if !th.Closed() {
		t.Error("Closed() = false after Close")
	}
	if err := th.Flush(context.Background()); !errors.Is(err, control.ErrClosed) {
		t.Errorf("Flush after Close = %v, want ErrClosed", err)
	}
}

func TestThread_FlushHonoursContext(t *testing.T) {
	t.Parallel()

	th := control.New(control.WithTickInterval(time.Hour))
	defer th.Close()

	release := make(chan struct{})
	th.Enqueue(func() { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := th.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Flush = %v, want DeadlineExceeded", err)
	}
}
