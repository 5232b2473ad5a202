package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeDevice yields queued payloads, then blocks until closed.
type fakeDevice struct {
	mu       sync.Mutex
	payloads [][]byte
	closed   chan struct{}
	once     sync.Once
}

func newFakeDevice(payloads ...[]byte) *fakeDevice {
	return &fakeDevice{payloads: payloads, closed: make(chan struct{})}
}

func (d *fakeDevice) Read() ([]byte, error) {
	d.mu.Lock()
	if len(d.payloads) > 0 {
		payload := d.payloads[0]
		d.payloads = d.payloads[1:]
		d.mu.Unlock()
		return payload, nil
	}
	d.mu.Unlock()
	<-d.closed
	return nil, ErrDeviceClosed
}

func (d *fakeDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCaptureLoopPublishesWithMonotonicTags(t *testing.T) {
	device := newFakeDevice([]byte("frame-1"), []byte("frame-2"), []byte("frame-3"))
	loop := NewCaptureLoop(LoopConfig{
		Kind: "video",
		Open: func(context.Context) (Device, error) { return device, nil },
	})

	loop.Start()
	waitFor(t, "all frames published", func() bool { return loop.LastSeq() == 3 })

	unit := loop.Read()
	if unit == nil || string(unit.Payload) != "frame-3" {
		t.Fatalf("expected latest frame, got %+v", unit)
	}
	if unit.Seq != 3 {
		t.Fatalf("expected seq 3, got %d", unit.Seq)
	}
	if loop.State() != StateRunning {
		t.Fatalf("expected running state, got %s", loop.State())
	}

	if err := loop.StopAndWait(); err != nil {
		t.Fatalf("StopAndWait error: %v", err)
	}
	if loop.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", loop.State())
	}
	if loop.Read() != nil {
		t.Fatal("expected cell to be cleared after stop")
	}
}

func TestCaptureLoopRetriesAcquisitionOnHeartbeat(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	device := newFakeDevice([]byte("frame"))
	loop := NewCaptureLoop(LoopConfig{
		Kind:      "video",
		Heartbeat: 5 * time.Millisecond,
		Open: func(context.Context) (Device, error) {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts < 3 {
				return nil, fmt.Errorf("device busy")
			}
			return device, nil
		},
	})

	loop.Start()
	waitFor(t, "loop to reach running", func() bool { return loop.State() == StateRunning })

	mu.Lock()
	tried := attempts
	mu.Unlock()
	if tried != 3 {
		t.Fatalf("expected 3 open attempts, got %d", tried)
	}
	_ = loop.StopAndWait()
}

func TestCaptureLoopStopDuringAcquisition(t *testing.T) {
	loop := NewCaptureLoop(LoopConfig{
		Kind:      "audio",
		Heartbeat: time.Hour,
		Open: func(context.Context) (Device, error) {
			return nil, errors.New("no such device")
		},
	})

	loop.Start()
	waitFor(t, "loop to enter acquisition", func() bool { return loop.State() == StateAcquiring })

	done := make(chan struct{})
	go func() {
		_ = loop.StopAndWait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not interrupt the heartbeat wait")
	}
	if loop.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", loop.State())
	}
}

func TestCaptureLoopStopsWhenDeviceFails(t *testing.T) {
	device := newFakeDevice([]byte("frame"))
	loop := NewCaptureLoop(LoopConfig{
		Kind: "video",
		Open: func(context.Context) (Device, error) { return device, nil },
	})

	loop.Start()
	waitFor(t, "frame published", func() bool { return loop.Read() != nil })

	// Device failure, not an operator stop.
	_ = device.Close()
	waitFor(t, "loop to stop", func() bool { return loop.State() == StateStopped })
	if loop.Read() != nil {
		t.Fatal("expected cell cleared after device failure")
	}
}

func TestCaptureLoopSequenceWrapSkipsZero(t *testing.T) {
	payloads := make([][]byte, 0, 12)
	for i := 0; i < 12; i++ {
		payloads = append(payloads, []byte{byte(i)})
	}
	device := newFakeDevice(payloads...)
	loop := NewCaptureLoop(LoopConfig{
		Kind:       "audio",
		SeqModulus: 5,
		Open:       func(context.Context) (Device, error) { return device, nil },
	})

	loop.Start()
	waitFor(t, "all chunks published", func() bool {
		unit := loop.Read()
		return unit != nil && unit.Payload[0] == 11
	})

	// 12 chunks through modulus 5: the tag wraps but never lands on zero,
	// which readers reserve for "nothing sent yet".
	if seq := loop.LastSeq(); seq == 0 || seq >= 5 {
		t.Fatalf("unexpected wrapped sequence %d", seq)
	}
	_ = loop.StopAndWait()
}

func TestCaptureLoopRepeatedStartStopAreSafe(t *testing.T) {
	device := newFakeDevice([]byte("frame"))
	loop := NewCaptureLoop(LoopConfig{
		Kind: "video",
		Open: func(context.Context) (Device, error) { return device, nil },
	})

	loop.Start()
	loop.Start() // logged no-op
	waitFor(t, "frame published", func() bool { return loop.Read() != nil })
	_ = loop.StopAndWait()
	_ = loop.StopAndWait() // logged no-op
}
