package media

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sentrycam/internal/observability/metrics"
)

// EngineConfig wires the broadcast engine. Video and audio are independently
// enabled; an engine with neither is valid and simply idles.
type EngineConfig struct {
	VideoEnabled bool
	AudioEnabled bool
	Video        VideoConfig
	Audio        AudioConfig
	Heartbeat    time.Duration
	StaleBudget  time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
	LogLevel     *slog.LevelVar

	// OpenVideo and OpenAudio override device acquisition, primarily for
	// tests. They default to the ffmpeg-backed openers.
	OpenVideo OpenFunc
	OpenAudio OpenFunc
}

// audioSeqModulus bounds the audio chunk counter so its wire representation
// stays narrow; readers only ever compare adjacent values for inequality.
const audioSeqModulus = 10_000

// Engine aggregates the enabled capture loops and hands out per-client stream
// sessions that read from their broadcast cells.
type Engine struct {
	cfg     EngineConfig
	logger  *slog.Logger
	metrics *metrics.Recorder
	level   *slog.LevelVar

	mu      sync.Mutex
	running bool
	video   *CaptureLoop
	audio   *CaptureLoop
}

// NewEngine constructs a stopped engine.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	cfg.Video = cfg.Video.withDefaults()
	cfg.Audio = cfg.Audio.withDefaults()
	if cfg.StaleBudget <= 0 {
		cfg.StaleBudget = defaultStaleBudget
	}
	if cfg.OpenVideo == nil {
		video := cfg.Video
		cfg.OpenVideo = func(ctx context.Context) (Device, error) {
			return OpenVideoDevice(ctx, video)
		}
	}
	if cfg.OpenAudio == nil {
		audio := cfg.Audio
		cfg.OpenAudio = func(ctx context.Context) (Device, error) {
			return OpenAudioDevice(ctx, audio)
		}
	}
	return &Engine{
		cfg:     cfg,
		logger:  logger,
		metrics: recorder,
		level:   cfg.LogLevel,
	}
}

// Start launches the enabled capture loops. Starting a running engine is a
// logged no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		e.logger.Warn("media service cannot start, streams already running")
		return
	}
	e.logger.Info("media service starting",
		"video", e.cfg.VideoEnabled, "audio", e.cfg.AudioEnabled)
	if e.cfg.VideoEnabled {
		e.video = NewCaptureLoop(LoopConfig{
			Kind:      "video",
			Open:      e.cfg.OpenVideo,
			Heartbeat: e.cfg.Heartbeat,
			Logger:    e.logger,
			Metrics:   e.metrics,
		})
		e.video.Start()
	}
	if e.cfg.AudioEnabled {
		e.audio = NewCaptureLoop(LoopConfig{
			Kind:       "audio",
			Open:       e.cfg.OpenAudio,
			Heartbeat:  e.cfg.Heartbeat,
			SeqModulus: audioSeqModulus,
			Logger:     e.logger,
			Metrics:    e.metrics,
		})
		e.audio.Start()
	}
	e.running = true
}

// Shutdown stops both loops and waits for their goroutines to exit. Shutting
// down a stopped engine is a logged no-op.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		e.logger.Warn("media service offline, aborting repeat shutdown")
		return
	}
	e.logger.Info("media service shutting down")
	video, audio := e.video, e.audio
	e.video, e.audio = nil, nil
	e.running = false
	e.mu.Unlock()

	var g errgroup.Group
	if video != nil {
		g.Go(video.StopAndWait)
	}
	if audio != nil {
		g.Go(audio.StopAndWait)
	}
	_ = g.Wait()
	e.logger.Info("media service offline")
}

// SetDebug flips logging verbosity. Disruptive: the engine restarts so the
// capture loops pick the change up cleanly.
func (e *Engine) SetDebug(enabled bool) {
	e.Shutdown()
	if e.level != nil {
		if enabled {
			e.logger.Info("media service enabling debugging")
			e.level.Set(slog.LevelDebug)
		} else {
			e.logger.Info("media service disabling debugging")
			e.level.Set(slog.LevelInfo)
		}
	}
	e.Start()
}

// Running reports whether the engine has been started.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) videoLoop() *CaptureLoop {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.video
}

func (e *Engine) audioLoop() *CaptureLoop {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.audio
}

// LoopStatus is a point-in-time view of one capture loop for diagnostics.
type LoopStatus struct {
	Enabled bool      `json:"enabled"`
	State   LoopState `json:"state"`
	LastSeq uint64    `json:"last_seq"`
}

// Status is the engine snapshot served by the status API.
type Status struct {
	Running bool       `json:"running"`
	Video   LoopStatus `json:"video"`
	Audio   LoopStatus `json:"audio"`
}

// Snapshot reports the engine and loop states.
func (e *Engine) Snapshot() Status {
	e.mu.Lock()
	video, audio := e.video, e.audio
	status := Status{
		Running: e.running,
		Video:   LoopStatus{Enabled: e.cfg.VideoEnabled, State: StateStopped},
		Audio:   LoopStatus{Enabled: e.cfg.AudioEnabled, State: StateStopped},
	}
	e.mu.Unlock()
	if video != nil {
		status.Video.State = video.State()
		status.Video.LastSeq = video.LastSeq()
	}
	if audio != nil {
		status.Audio.State = audio.State()
		status.Audio.LastSeq = audio.LastSeq()
	}
	return status
}

// Devices lists attached capture hardware for operator diagnostics.
func (e *Engine) Devices() ([]DeviceInfo, error) {
	return ListDevices()
}
