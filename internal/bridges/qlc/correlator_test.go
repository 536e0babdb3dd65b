package qlc

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestCorrelatorRegisterRejectsFireAndForget(t *testing.T) {
	c := NewCorrelator()
	for _, cmd := range []string{"5|255", "QLC+API", ""} {
		if _, err := c.Register(cmd); !errors.Is(err, ErrNotQuery) {
			t.Errorf("Register(%q) error = %v, want ErrNotQuery", cmd, err)
		}
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestCorrelatorResolveFIFO(t *testing.T) {
	c := NewCorrelator()
	first, _ := c.Register("QLC+API|getFunctionType|1")
	second, _ := c.Register("QLC+API|getFunctionType|2")
	other, _ := c.Register("QLC+API|getWidgetsList")

	if !c.Resolve(Decode("QLC+API|getFunctionType|Scene")) {
		t.Fatal("Resolve() = false, want true")
	}

	select {
	case <-first.Done():
	default:
		t.Fatal("oldest request not completed")
	}
	reply, err := first.Result()
	if err != nil || !reflect.DeepEqual(reply, []string{"QLC+API", "getFunctionType", "Scene"}) {
		t.Errorf("first.Result() = %v, %v", reply, err)
	}

	select {
	case <-second.Done():
		t.Error("second request completed by first reply")
	case <-other.Done():
		t.Error("request with different verb completed")
	default:
	}

	if c.Resolve(Decode("FUNCTION|1|Running")) {
		t.Error("Resolve(push) = true, want false")
	}
	if c.Resolve(Decode("QLC+API|getWidgetType|Button")) {
		t.Error("Resolve(unawaited verb) = true, want false")
	}
	if c.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", c.Pending())
	}
}

func TestCorrelatorFailAllCompletesOnce(t *testing.T) {
	c := NewCorrelator()
	var reqs []*PendingRequest
	for _, cmd := range []string{
		"QLC+API|getFunctionsList",
		"QLC+API|getFunctionType|1",
		"QLC+API|getFunctionType|2",
	} {
		p, err := c.Register(cmd)
		if err != nil {
			t.Fatalf("Register(%q) error = %v", cmd, err)
		}
		reqs = append(reqs, p)
	}

	if n := c.FailAll(ErrDisconnected); n != len(reqs) {
		t.Errorf("FailAll() = %d, want %d", n, len(reqs))
	}
	if n := c.FailAll(ErrDisconnected); n != 0 {
		t.Errorf("second FailAll() = %d, want 0", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i, p := range reqs {
		if _, err := p.Wait(ctx); !errors.Is(err, ErrDisconnected) {
			t.Errorf("request %d error = %v, want ErrDisconnected", i, err)
		}
		// A late reply must not re-complete.
		if p.complete([]string{"late"}, nil) {
			t.Errorf("request %d completed twice", i)
		}
	}
	if c.Resolve(Decode("QLC+API|getFunctionsList|1|A")) {
		t.Error("Resolve() after FailAll matched a failed request")
	}
}

func TestCorrelatorCancel(t *testing.T) {
	c := NewCorrelator()
	p, _ := c.Register("QLC+API|getFunctionStatus|4")

	if !c.Cancel(p, ErrRequestTimeout) {
		t.Fatal("Cancel() = false, want true")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
	if _, err := p.Result(); !errors.Is(err, ErrRequestTimeout) {
		t.Errorf("Result() error = %v, want ErrRequestTimeout", err)
	}
	if c.Cancel(p, ErrDisconnected) {
		t.Error("second Cancel() = true, want false")
	}
}

func TestCorrelatorAbandonDiscardsLateReply(t *testing.T) {
	c := NewCorrelator()
	first, _ := c.Register("QLC+API|getFunctionType|1")

	if !c.Abandon(first, ErrRequestTimeout) {
		t.Fatal("Abandon() = false, want true")
	}
	if _, err := first.Result(); !errors.Is(err, ErrRequestTimeout) {
		t.Errorf("Result() error = %v, want ErrRequestTimeout", err)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 (placeholders are not pending)", c.Pending())
	}

	second, _ := c.Register("QLC+API|getFunctionType|2")

	// The reply owed to the abandoned request arrives first.
	if !c.Resolve(Decode("QLC+API|getFunctionType|Scene")) {
		t.Fatal("late reply not consumed")
	}
	select {
	case <-second.Done():
		reply, _ := second.Result()
		t.Fatalf("late reply completed the next request: %q", reply)
	default:
	}
	if c.Discarded() != 1 {
		t.Errorf("Discarded() = %d, want 1", c.Discarded())
	}

	if !c.Resolve(Decode("QLC+API|getFunctionType|Slider")) {
		t.Fatal("own reply not matched")
	}
	got, err := second.Result()
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if want := []string{"QLC+API", "getFunctionType", "Slider"}; !reflect.DeepEqual(got, want) {
		t.Errorf("reply = %q, want %q", got, want)
	}
	if c.Abandon(second, ErrRequestTimeout) {
		t.Error("Abandon() after completion = true, want false")
	}
}

func TestCorrelatorFailAllClearsPlaceholders(t *testing.T) {
	c := NewCorrelator()
	p, _ := c.Register("QLC+API|getFunctionStatus|1")
	c.Abandon(p, context.Canceled)

	if n := c.FailAll(ErrDisconnected); n != 0 {
		t.Errorf("FailAll() = %d, want 0 (placeholder already completed)", n)
	}
	if c.Resolve(Decode("QLC+API|getFunctionStatus|Running")) {
		t.Error("Resolve() matched a placeholder cleared by FailAll")
	}
	if c.Discarded() != 0 {
		t.Errorf("Discarded() = %d, want 0", c.Discarded())
	}
}

func TestCorrelatorConcurrentWaiters(t *testing.T) {
	c := NewCorrelator()
	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		p, err := c.Register("QLC+API|getFunctionsList")
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := p.Wait(ctx)
			errs <- err
		}()
	}

	c.FailAll(ErrDisconnected)
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrDisconnected) {
			t.Errorf("waiter error = %v, want ErrDisconnected", err)
		}
	}
}
