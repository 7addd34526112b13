package gpio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/tank-controller/internal/units"
)

func TestRelaySet(t *testing.T) {
	line := &FakeLine{}
	r := NewRelay(line)

	if err := r.Set(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Set(false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(line.Values) != 2 || line.Values[0] != 1 || line.Values[1] != 0 {
		t.Errorf("expected writes [1 0], got %v", line.Values)
	}
}

func TestRelaySetError(t *testing.T) {
	line := &FakeLine{SetError: errors.New("line busy")}
	err := NewRelay(line).Set(true)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, line.SetError) {
		t.Errorf("expected wrapped line error, got %v", err)
	}
}

// echoOnFallingTrigger simulates an HC-SR04 answering with an echo of width
// after the trigger pulse ends.
func echoOnFallingTrigger(timer *EchoTimer, width time.Duration) func(int) {
	high := false
	return func(v int) {
		if v == 1 {
			high = true
			return
		}
		if high {
			high = false
			start := 5 * time.Millisecond
			timer.Observe(Edge{Rising: true, At: start})
			timer.Observe(Edge{Rising: false, At: start + width})
		}
	}
}

func newTestRanger(width time.Duration) (*Ranger, *FakeLine) {
	timer := NewEchoTimer()
	trigger := &FakeLine{}
	if width > 0 {
		trigger.OnSet = echoOnFallingTrigger(timer, width)
	}
	r := NewRanger(trigger, timer)
	r.pulse = func(time.Duration) {}
	return r, trigger
}

func TestRangerPing(t *testing.T) {
	width := time.Duration(30*57) * time.Microsecond
	r, trigger := newTestRanger(width)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	echo, err := r.Ping(ctx, 400)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if echo != width {
		t.Errorf("expected echo %v, got %v", width, echo)
	}
	if got := units.EchoDistance(echo); got != 30 {
		t.Errorf("expected 30cm, got %v", got)
	}
	want := []int{0, 1, 0}
	if len(trigger.Values) != len(want) {
		t.Fatalf("expected trigger writes %v, got %v", want, trigger.Values)
	}
	for i := range want {
		if trigger.Values[i] != want[i] {
			t.Errorf("trigger write %d: expected %d, got %d", i, want[i], trigger.Values[i])
		}
	}
}

func TestRangerPingBeyondMaxDistance(t *testing.T) {
	r, _ := newTestRanger(units.EchoTimeout(400) + time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	echo, err := r.Ping(ctx, 400)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if echo != 0 {
		t.Errorf("expected no echo, got %v", echo)
	}
}

func TestRangerPingTimeout(t *testing.T) {
	r, _ := newTestRanger(0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	echo, err := r.Ping(ctx, 400)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if echo != 0 {
		t.Errorf("expected no echo, got %v", echo)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("ping did not respect the context deadline: %v", elapsed)
	}
}

func TestRangerTriggerError(t *testing.T) {
	r, trigger := newTestRanger(0)
	trigger.SetError = errors.New("line busy")

	if _, err := r.Ping(context.Background(), 400); err == nil {
		t.Error("expected error")
	}
}

func TestRangerDiscardsStaleEdges(t *testing.T) {
	width := time.Duration(12*57) * time.Microsecond
	r, _ := newTestRanger(width)

	// Left over from an earlier ping that timed out.
	r.echo.Observe(Edge{Rising: true, At: time.Millisecond})
	r.echo.Observe(Edge{Rising: false, At: 50 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	echo, err := r.Ping(ctx, 400)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if echo != width {
		t.Errorf("expected echo %v, got %v", width, echo)
	}
}

func TestEchoTimerIgnoresLeadingFallingEdge(t *testing.T) {
	timer := NewEchoTimer()
	timer.Observe(Edge{Rising: false, At: time.Millisecond})
	timer.Observe(Edge{Rising: true, At: 2 * time.Millisecond})
	timer.Observe(Edge{Rising: false, At: 3 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if got := timer.wait(ctx, 10*time.Millisecond); got != time.Millisecond {
		t.Errorf("expected 1ms, got %v", got)
	}
}

func TestFakeLineLast(t *testing.T) {
	f := &FakeLine{}
	if f.Last() != -1 {
		t.Errorf("expected -1 before any write, got %d", f.Last())
	}
	_ = f.SetValue(1)
	if f.Last() != 1 {
		t.Errorf("expected 1, got %d", f.Last())
	}
}
