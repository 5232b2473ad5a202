package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"sentrycam/internal/observability/metrics"
)

// LoopState names the lifecycle phase of a capture loop.
type LoopState string

const (
	StateStopped   LoopState = "stopped"
	StateAcquiring LoopState = "acquiring"
	StateRunning   LoopState = "running"
)

// Device is one open capture input. Read blocks until the next unit is
// available and returns an error when the device closes or fails; Close must
// unblock a pending Read.
type Device interface {
	Read() ([]byte, error)
	Close() error
}

// OpenFunc attempts to acquire the configured device. It is retried on a
// heartbeat interval until it succeeds or the loop is stopped.
type OpenFunc func(ctx context.Context) (Device, error)

const defaultHeartbeat = time.Second

// CaptureLoop owns exclusive access to one input device and continuously
// refreshes its broadcast cell on a background goroutine. Video and audio are
// two instances of this one pattern, differing only in how the device opens
// and how sequence tags wrap.
type CaptureLoop struct {
	kind       string
	open       OpenFunc
	heartbeat  time.Duration
	seqModulus uint64
	logger     *slog.Logger
	metrics    *metrics.Recorder

	cell Cell

	mu      sync.Mutex
	state   LoopState
	cancel  context.CancelFunc
	device  Device
	done    chan struct{}
	lastSeq uint64
}

// LoopConfig wires a CaptureLoop. Open is required.
type LoopConfig struct {
	Kind       string
	Open       OpenFunc
	Heartbeat  time.Duration
	SeqModulus uint64
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
}

// NewCaptureLoop constructs a stopped loop.
func NewCaptureLoop(cfg LoopConfig) *CaptureLoop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &CaptureLoop{
		kind:       cfg.Kind,
		open:       cfg.Open,
		heartbeat:  heartbeat,
		seqModulus: cfg.SeqModulus,
		logger:     logger.With("capture", cfg.Kind),
		metrics:    recorder,
		state:      StateStopped,
	}
}

// Start launches the capture goroutine and returns immediately. Starting a
// loop that is not stopped is a logged no-op.
func (l *CaptureLoop) Start() {
	l.mu.Lock()
	if l.state != StateStopped {
		l.mu.Unlock()
		l.logger.Warn("capture loop cannot start, already capturing")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.state = StateAcquiring
	l.done = make(chan struct{})
	done := l.done
	l.mu.Unlock()

	l.logger.Info("capture loop starting")
	go func() {
		defer close(done)
		l.run(ctx)
	}()
}

// Stop signals the loop and closes the device to unblock a pending read. It
// is idempotent; stopping a stopped loop is a logged no-op. Stop does not
// wait for the goroutine to exit; use StopAndWait when teardown must be
// complete before returning.
func (l *CaptureLoop) Stop() {
	l.mu.Lock()
	if l.state == StateStopped {
		l.mu.Unlock()
		l.logger.Warn("capture loop offline, aborting repeat shutdown")
		return
	}
	l.logger.Info("capture loop stopping")
	l.cancel()
	if l.device != nil {
		// Proactively halt the device stream so a blocking read returns.
		_ = l.device.Close()
	}
	l.mu.Unlock()
}

// StopAndWait stops the loop and blocks until the capture goroutine exits.
func (l *CaptureLoop) StopAndWait() error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	l.Stop()
	if done != nil {
		<-done
	}
	return nil
}

// Read returns the most recent unit without blocking; nil when no unit has
// been captured. Safe to call concurrently with the capture goroutine.
func (l *CaptureLoop) Read() *Unit {
	return l.cell.Latest()
}

// State reports the loop's lifecycle phase.
func (l *CaptureLoop) State() LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// LastSeq reports the most recently published sequence tag.
func (l *CaptureLoop) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

func (l *CaptureLoop) run(ctx context.Context) {
	defer func() {
		l.cell.Clear()
		l.mu.Lock()
		if l.device != nil {
			_ = l.device.Close()
			l.device = nil
		}
		l.state = StateStopped
		l.mu.Unlock()
		l.logger.Info("capture loop stopped")
	}()

	device := l.acquire(ctx)
	if device == nil {
		return
	}

	l.mu.Lock()
	l.device = device
	l.state = StateRunning
	l.mu.Unlock()
	l.logger.Info("capture loop running")

	var seq uint64
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := device.Read()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, ErrDeviceClosed) {
				l.metrics.ObserveCaptureEvent(l.kind + "_read_error")
				l.logger.Error("device read failed", "error", err)
			}
			return
		}
		if len(payload) == 0 {
			continue
		}
		seq++
		if l.seqModulus > 0 {
			seq %= l.seqModulus
			if seq == 0 {
				seq = 1
			}
		}
		l.cell.Publish(&Unit{Payload: payload, Seq: seq, Captured: time.Now()})
		l.mu.Lock()
		l.lastSeq = seq
		l.mu.Unlock()
	}
}

// acquire retries the device open on the heartbeat interval until success or
// stop. Open failures never fail the loop permanently.
func (l *CaptureLoop) acquire(ctx context.Context) Device {
	for {
		if ctx.Err() != nil {
			return nil
		}
		device, err := l.open(ctx)
		if err == nil {
			return device
		}
		l.metrics.ObserveCaptureEvent(l.kind + "_open_retry")
		l.logger.Warn("device could not open, retrying",
			"error", err, "retry_in", l.heartbeat.String())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.heartbeat):
		}
	}
}
