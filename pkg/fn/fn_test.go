package fn

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestResultBasics(t *testing.T) {
	r := Ok(42)
	if r.IsErr() {
		t.Fatal("Ok should not be an error")
	}
	if v, err := r.Unwrap(); v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("code 404"))
	if !e.IsErr() {
		t.Fatal("Err should be an error")
	}
	if _, err := e.Unwrap(); err == nil || err.Error() != "code 404" {
		t.Fatalf("wrong error %v", err)
	}
}

func TestFromPair(t *testing.T) {
	if FromPair(1, nil).IsErr() {
		t.Fatal("nil error should be ok")
	}
	if !FromPair(1, errors.New("x")).IsErr() {
		t.Fatal("error should not be ok")
	}
}

func TestThenShortCircuits(t *testing.T) {
	called := false
	fail := Stage[int, int](func(context.Context, int) Result[int] { return Err[int](errors.New("first")) })
	second := Stage[int, string](func(context.Context, int) Result[string] {
		called = true
		return Ok("x")
	})
	r := Then(fail, second)(context.Background(), 1)
	if !r.IsErr() || called {
		t.Fatal("second stage must not run after a failure")
	}

	double := PairStage(func(_ context.Context, i int) (int, error) { return i * 2, nil })
	format := PairStage(func(_ context.Context, i int) (string, error) { return strconv.Itoa(i), nil })
	ok := Then(double, format)
	if v, _ := ok(context.Background(), 21).Unwrap(); v != "42" {
		t.Fatalf("got %q", v)
	}
}

func TestPairStageAndNamed(t *testing.T) {
	s := Named("double", nil, PairStage(func(_ context.Context, i int) (int, error) {
		if i < 0 {
			return 0, errors.New("negative")
		}
		return i * 2, nil
	}))
	if v, err := s(context.Background(), 4).Unwrap(); err != nil || v != 8 {
		t.Fatalf("got %d, %v", v, err)
	}
	if !s(context.Background(), -1).IsErr() {
		t.Fatal("expected error")
	}
}

func TestParMapPreservesOrder(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}
	var inflight, peak atomic.Int32
	stage := Stage[int, int](func(_ context.Context, i int) Result[int] {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Duration(i) * time.Millisecond)
		inflight.Add(-1)
		return Ok(i * 10)
	})
	out := ParMap(context.Background(), items, 2, stage)
	for i, r := range out {
		v, err := r.Unwrap()
		if err != nil || v != items[i]*10 {
			t.Fatalf("index %d: got %d, %v", i, v, err)
		}
	}
	if peak.Load() > 2 {
		t.Fatalf("concurrency exceeded: %d", peak.Load())
	}
}

func TestParMapCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	identity := PairStage(func(_ context.Context, i int) (int, error) { return i, nil })
	out := ParMap(ctx, []int{1, 2, 3}, 1, identity)
	for _, r := range out {
		if !r.IsErr() {
			// A started item may still succeed; cancelled ones must carry ctx.Err().
			continue
		}
		if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	}
	if ParMap(context.Background(), []int(nil), 2, identity) == nil {
		t.Fatal("expected empty, non-nil slice")
	}
}
