package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"
)

func newVideoTestEngine(t *testing.T, device Device, staleBudget time.Duration) *Engine {
	t.Helper()
	engine := NewEngine(EngineConfig{
		VideoEnabled: true,
		Video:        VideoConfig{Framerate: 100},
		StaleBudget:  staleBudget,
		OpenVideo:    func(context.Context) (Device, error) { return device, nil },
	})
	engine.Start()
	t.Cleanup(engine.Shutdown)
	return engine
}

func TestServeVideoWritesMultipartFrames(t *testing.T) {
	device := newFakeDevice([]byte("\xff\xd8jpeg-bytes\xff\xd9"))
	engine := newVideoTestEngine(t, device, 200*time.Millisecond)
	waitFor(t, "frame published", func() bool { return engine.videoLoop().Read() != nil })

	var buf bytes.Buffer
	err := engine.ServeVideo(context.Background(), &buf)
	if !errors.Is(err, ErrStreamStalled) {
		t.Fatalf("expected ErrStreamStalled once frames dry up, got %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "--"+MJPEGBoundary+"\r\n") {
		t.Fatalf("expected part boundary prefix, got %q", out[:min(len(out), 40)])
	}
	if !strings.Contains(out, "Content-Type: image/jpeg\r\n") {
		t.Fatal("expected image/jpeg part header")
	}
	if !strings.Contains(out, "Content-Length: 16\r\n") {
		t.Fatalf("expected content length header, got %q", out)
	}
	if !strings.Contains(out, "\xff\xd8jpeg-bytes\xff\xd9") {
		t.Fatal("expected jpeg payload in stream body")
	}
}

func TestServeVideoNoSignal(t *testing.T) {
	engine := NewEngine(EngineConfig{
		VideoEnabled: true,
		Heartbeat:    time.Hour,
		OpenVideo: func(context.Context) (Device, error) {
			return nil, errors.New("device missing")
		},
	})
	engine.Start()
	t.Cleanup(engine.Shutdown)

	var buf bytes.Buffer
	if err := engine.ServeVideo(context.Background(), &buf); !errors.Is(err, ErrNoSignal) {
		t.Fatalf("expected ErrNoSignal, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no bytes written, got %d", buf.Len())
	}
}

func TestServeVideoStoppedEngineReportsNoSignal(t *testing.T) {
	engine := NewEngine(EngineConfig{VideoEnabled: true})
	var buf bytes.Buffer
	if err := engine.ServeVideo(context.Background(), &buf); !errors.Is(err, ErrNoSignal) {
		t.Fatalf("expected ErrNoSignal from a stopped engine, got %v", err)
	}
}

func TestServeVideoHonoursContextCancellation(t *testing.T) {
	device := newFakeDevice([]byte("\xff\xd8f\xff\xd9"))
	engine := newVideoTestEngine(t, device, time.Minute)
	waitFor(t, "frame published", func() bool { return engine.videoLoop().Read() != nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var buf bytes.Buffer
	go func() { done <- engine.ServeVideo(ctx, &buf) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not observe cancellation")
	}
}

func TestServeVideoStalledSessionLeavesLoopRunning(t *testing.T) {
	device := newFakeDevice([]byte("\xff\xd8f\xff\xd9"))
	engine := newVideoTestEngine(t, device, 100*time.Millisecond)
	loop := engine.videoLoop()
	waitFor(t, "frame published", func() bool { return loop.Read() != nil })

	var buf bytes.Buffer
	if err := engine.ServeVideo(context.Background(), &buf); !errors.Is(err, ErrStreamStalled) {
		t.Fatalf("expected ErrStreamStalled, got %v", err)
	}

	// Only the session ends; the capture loop keeps its device.
	if loop.State() != StateRunning {
		t.Fatalf("expected loop still running after session abort, got %s", loop.State())
	}
	if loop.Read() == nil {
		t.Fatal("expected broadcast cell to keep its last unit")
	}
}

func TestServeAudioStreamsHeaderThenChunks(t *testing.T) {
	device := newFakeDevice([]byte("chunk-one"), []byte("chunk-two"))
	engine := NewEngine(EngineConfig{
		AudioEnabled: true,
		Audio:        AudioConfig{Chunk: 88, Channels: 2, SampleRate: 44100},
		StaleBudget:  100 * time.Millisecond,
		OpenAudio:    func(context.Context) (Device, error) { return device, nil },
	})
	engine.Start()
	t.Cleanup(engine.Shutdown)
	waitFor(t, "chunk published", func() bool { return engine.audioLoop().Read() != nil })

	var buf bytes.Buffer
	err := engine.ServeAudio(context.Background(), &buf)
	if !errors.Is(err, ErrStreamStalled) {
		t.Fatalf("expected ErrStreamStalled once chunks dry up, got %v", err)
	}

	out := buf.Bytes()
	header := WAVHeader(2, 44100)
	if len(out) < len(header) || !bytes.Equal(out[:len(header)], header) {
		t.Fatal("expected stream to open with the WAV header")
	}
	if !bytes.Contains(out, []byte("chunk-two")) {
		t.Fatal("expected PCM payload after the header")
	}
}

func TestServeAudioNoSignal(t *testing.T) {
	engine := NewEngine(EngineConfig{
		AudioEnabled: true,
		Heartbeat:    time.Hour,
		OpenAudio: func(context.Context) (Device, error) {
			return nil, ErrDeviceNotFound
		},
	})
	engine.Start()
	t.Cleanup(engine.Shutdown)

	var buf bytes.Buffer
	if err := engine.ServeAudio(context.Background(), &buf); !errors.Is(err, ErrNoSignal) {
		t.Fatalf("expected ErrNoSignal, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatal("expected no WAV header before the availability check")
	}
}

func TestWAVHeaderLayout(t *testing.T) {
	header := WAVHeader(2, 44100)
	if len(header) != 44 {
		t.Fatalf("expected 44 byte header, got %d", len(header))
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		t.Fatal("expected RIFF/WAVE magic")
	}
	if channels := binary.LittleEndian.Uint16(header[22:24]); channels != 2 {
		t.Fatalf("expected 2 channels, got %d", channels)
	}
	if rate := binary.LittleEndian.Uint32(header[24:28]); rate != 44100 {
		t.Fatalf("expected 44100 sample rate, got %d", rate)
	}
	if byteRate := binary.LittleEndian.Uint32(header[28:32]); byteRate != 44100*2*2 {
		t.Fatalf("unexpected byte rate %d", byteRate)
	}
	if bits := binary.LittleEndian.Uint16(header[34:36]); bits != 16 {
		t.Fatalf("expected 16 bits per sample, got %d", bits)
	}
	// Zero data length: streaming clients read until the connection closes.
	if dataLen := binary.LittleEndian.Uint32(header[40:44]); dataLen != 0 {
		t.Fatalf("expected zero data length, got %d", dataLen)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
