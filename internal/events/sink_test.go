package events

import (
	"sync"
	"testing"
)

type recorder struct {
	mu     sync.Mutex
	values []any
	errors []string
}

func (r *recorder) Success(value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, value)
}

func (r *recorder) Error(code, message string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, code+":"+message)
}

func TestDeliverWithoutListenerIsDropped(t *testing.T) {
	sink := NewSink()
	sink.Success(1)
	sink.Error("-1", "boom", nil)

	rec := &recorder{}
	sink.Attach(rec)
	sink.Success(2)

	if len(rec.values) != 1 || rec.values[0] != 2 {
		t.Fatalf("expected only the post-attach value, got %v", rec.values)
	}
	if len(rec.errors) != 0 {
		t.Fatalf("expected no replayed errors, got %v", rec.errors)
	}
}

func TestAttachReplacesListener(t *testing.T) {
	sink := NewSink()
	first := &recorder{}
	second := &recorder{}

	sink.Attach(first)
	sink.Success("a")
	sink.Attach(second)
	sink.Success("b")

	if len(first.values) != 1 || first.values[0] != "a" {
		t.Fatalf("first listener got %v", first.values)
	}
	if len(second.values) != 1 || second.values[0] != "b" {
		t.Fatalf("second listener got %v", second.values)
	}
}

func TestDetachStopsDelivery(t *testing.T) {
	sink := NewSink()
	rec := &recorder{}
	sink.Attach(rec)
	if !sink.Attached() {
		t.Fatal("expected attached")
	}
	sink.Detach()
	if sink.Attached() {
		t.Fatal("expected detached")
	}
	sink.Success(1)
	sink.Error("1", "x", nil)
	if len(rec.values) != 0 || len(rec.errors) != 0 {
		t.Fatalf("expected no deliveries after detach")
	}
}

func TestNilSinkIsSafe(t *testing.T) {
	var sink *Sink
	sink.Success(1)
	sink.Error("1", "x", nil)
}

func TestErrorDelivery(t *testing.T) {
	sink := NewSink()
	rec := &recorder{}
	sink.Attach(rec)
	sink.Error("-2147467259", "Unspecified error", nil)
	if len(rec.errors) != 1 || rec.errors[0] != "-2147467259:Unspecified error" {
		t.Fatalf("unexpected errors %v", rec.errors)
	}
}

func TestMultiFansOutAndSkipsNil(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	var calls int
	l := Multi(a, nil, b, Funcs{OnSuccess: func(any) { calls++ }})
	l.Success(7)
	l.Error("c", "m", nil)
	if len(a.values) != 1 || len(b.values) != 1 || calls != 1 {
		t.Fatalf("fan-out mismatch: %v %v %d", a.values, b.values, calls)
	}
	if len(a.errors) != 1 || len(b.errors) != 1 {
		t.Fatalf("error fan-out mismatch")
	}
	Funcs{}.Success(1)
	Funcs{}.Error("", "", nil)
}

func TestConcurrentAttachAndDeliver(t *testing.T) {
	sink := NewSink()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sink.Success(j)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if j%2 == 0 {
					sink.Attach(&recorder{})
				} else {
					sink.Detach()
				}
			}
		}()
	}
	wg.Wait()
}
