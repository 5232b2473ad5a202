package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrNoSignal reports that the producer side has no capture unit to
	// serve; the HTTP layer maps it onto 503 before any body is written.
	ErrNoSignal = errors.New("no media signal available")
	// ErrStreamStalled reports a session abandoned after its stale-read
	// budget: the capture loop stopped publishing new units long enough
	// that keeping the client connected serves no purpose.
	ErrStreamStalled = errors.New("stream stalled beyond stale budget")
)

// MJPEGBoundary separates the parts of the multipart video stream.
const MJPEGBoundary = "jpgbound"

// defaultStaleBudget is how long a session tolerates reads that return no new
// unit before abandoning the client. The capture loop itself is untouched;
// only the session ends.
const defaultStaleBudget = 60 * time.Second

// Flusher is the subset of http.Flusher the sessions need; writers that do
// not implement it are still served, just without explicit flushes.
type Flusher interface {
	Flush()
}

func flush(w io.Writer) {
	if f, ok := w.(Flusher); ok {
		f.Flush()
	}
}

// ServeVideo runs one MJPEG stream session against the video broadcast cell,
// pacing itself at the configured framerate and re-framing each fresh JPEG as
// a multipart part. It blocks until the context is cancelled, the client
// write fails, or the stale budget is exhausted.
func (e *Engine) ServeVideo(ctx context.Context, w io.Writer) error {
	loop := e.videoLoop()
	if loop == nil || loop.Read() == nil {
		return ErrNoSignal
	}

	e.metrics.SessionStarted("video")
	err := e.serveVideo(ctx, w, loop)
	if errors.Is(err, ErrStreamStalled) {
		e.metrics.SessionAborted("video")
	} else {
		e.metrics.SessionStopped("video")
	}
	return err
}

func (e *Engine) serveVideo(ctx context.Context, w io.Writer, loop *CaptureLoop) error {
	framerate := e.cfg.Video.Framerate
	interval := time.Second / time.Duration(framerate)
	budget := int(e.cfg.StaleBudget / interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSeq uint64
	staleTicks := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		unit := loop.Read()
		if unit == nil || unit.Seq == lastSeq {
			staleTicks++
			if staleTicks > budget {
				return ErrStreamStalled
			}
			continue
		}
		staleTicks = 0
		lastSeq = unit.Seq

		if err := writeMJPEGPart(w, unit); err != nil {
			return err
		}
		flush(w)
	}
}

func writeMJPEGPart(w io.Writer, unit *Unit) error {
	if _, err := fmt.Fprintf(w, "--%s\r\n", MJPEGBoundary); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Content-Type: image/jpeg\r\nContent-Length: %d\r\nX-Timestamp: %d\r\n\r\n",
		len(unit.Payload), unit.Captured.UnixMilli())
	if err != nil {
		return err
	}
	if _, err := w.Write(unit.Payload); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\r\n")
	return err
}

// ServeAudio runs one raw WAV stream session against the audio broadcast
// cell: the WAV header once, then every fresh PCM chunk. A chunk is emitted
// only when its sequence differs from the last sent one, so a slow poller
// never re-sends stale audio.
func (e *Engine) ServeAudio(ctx context.Context, w io.Writer) error {
	loop := e.audioLoop()
	if loop == nil || loop.Read() == nil {
		return ErrNoSignal
	}

	e.metrics.SessionStarted("audio")
	err := e.serveAudio(ctx, w, loop)
	if errors.Is(err, ErrStreamStalled) {
		e.metrics.SessionAborted("audio")
	} else {
		e.metrics.SessionStopped("audio")
	}
	return err
}

func (e *Engine) serveAudio(ctx context.Context, w io.Writer, loop *CaptureLoop) error {
	if _, err := w.Write(WAVHeader(e.cfg.Audio.Channels, e.cfg.Audio.SampleRate)); err != nil {
		return err
	}
	flush(w)

	// Poll at half the chunk duration so a fresh chunk is never more than
	// half its own length late.
	chunkDuration := time.Duration(e.cfg.Audio.Chunk) * time.Second / time.Duration(e.cfg.Audio.SampleRate)
	interval := chunkDuration / 2
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	budget := int(e.cfg.StaleBudget / interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSeq uint64
	staleReads := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		unit := loop.Read()
		if unit == nil || unit.Seq == lastSeq {
			staleReads++
			if staleReads > budget {
				return ErrStreamStalled
			}
			continue
		}
		staleReads = 0
		lastSeq = unit.Seq

		if _, err := w.Write(unit.Payload); err != nil {
			return err
		}
		flush(w)
	}
}
