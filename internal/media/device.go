package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrDeviceClosed reports a read on a device that was shut down locally, as
// opposed to a device-side failure.
var ErrDeviceClosed = errors.New("device closed")

// ErrDeviceNotFound reports that no attached device matched the configured
// index or name. The capture loop treats it like any open failure and keeps
// retrying on the heartbeat.
var ErrDeviceNotFound = errors.New("device not found")

// VideoConfig selects and shapes one video input. Immutable once the loop
// starts; changing it requires a stop and restart.
type VideoConfig struct {
	Device    string // v4l2 device path, default /dev/video0
	Width     int
	Height    int
	Framerate int
	Quality   int // JPEG quality 2..31 ffmpeg scale, mapped from 0..100
}

// AudioConfig selects and shapes one audio input. Device may be a numeric
// card index or a substring matched against card names (first match wins).
type AudioConfig struct {
	Device     string
	Chunk      int // samples per captured chunk
	Channels   int
	SampleRate int
}

func (c VideoConfig) withDefaults() VideoConfig {
	if c.Device == "" {
		c.Device = "/dev/video0"
	}
	if c.Width <= 0 {
		c.Width = 640
	}
	if c.Height <= 0 {
		c.Height = 480
	}
	if c.Framerate <= 0 {
		c.Framerate = 30
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = 85
	}
	return c
}

func (c AudioConfig) withDefaults() AudioConfig {
	if c.Device == "" {
		c.Device = "0"
	}
	if c.Chunk <= 0 {
		c.Chunk = 8192
	}
	if c.Channels <= 0 {
		c.Channels = 2
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 44100
	}
	return c
}

const audioSampleBytes = 2 // signed 16-bit little-endian PCM

// ffmpegDevice wraps an ffmpeg child process whose stdout carries the
// captured stream. Closing kills the process, which unblocks a pending read.
type ffmpegDevice struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	mu     sync.Mutex
	closed bool
}

func startFFmpeg(ctx context.Context, args []string) (*ffmpegDevice, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("locate ffmpeg: %w", err)
	}
	cmd := exec.Command(path, args...)
	// ALSA and V4L2 driver chatter goes to stderr; discard it rather than
	// interleave it with service logs. Real failures surface as read errors.
	cmd.Stderr = io.Discard
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start capture process: %w", err)
	}
	if ctx.Err() != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, ctx.Err()
	}
	return &ffmpegDevice{cmd: cmd, stdout: stdout}, nil
}

func (d *ffmpegDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	_ = d.cmd.Process.Kill()
	_ = d.stdout.Close()
	_ = d.cmd.Wait()
	return nil
}

func (d *ffmpegDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// videoDevice parses the MJPEG elementary stream produced by ffmpeg into
// individual JPEG frames.
type videoDevice struct {
	*ffmpegDevice
	reader *bufio.Reader
}

// OpenVideoDevice starts an ffmpeg capture from the configured V4L2 device,
// scaled and rate-limited best effort, emitting JPEG frames at the requested
// quality.
func OpenVideoDevice(ctx context.Context, cfg VideoConfig) (Device, error) {
	cfg = cfg.withDefaults()
	if _, err := os.Stat(cfg.Device); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, cfg.Device)
	}
	// ffmpeg's mjpeg quality scale is 2 (best) to 31 (worst).
	q := 2 + (100-cfg.Quality)*29/100
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-framerate", strconv.Itoa(cfg.Framerate),
		"-i", cfg.Device,
		"-q:v", strconv.Itoa(q),
		"-f", "mjpeg", "-",
	}
	dev, err := startFFmpeg(ctx, args)
	if err != nil {
		return nil, err
	}
	return &videoDevice{ffmpegDevice: dev, reader: bufio.NewReaderSize(dev.stdout, 1<<16)}, nil
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// Read returns the next complete JPEG frame from the stream.
func (d *videoDevice) Read() ([]byte, error) {
	// Scan to the start-of-image marker, then accumulate until end-of-image.
	if err := d.seekMarker(jpegSOI); err != nil {
		return nil, d.readErr(err)
	}
	frame := bytes.NewBuffer(nil)
	frame.Write(jpegSOI)
	var prev byte
	for {
		b, err := d.reader.ReadByte()
		if err != nil {
			return nil, d.readErr(err)
		}
		frame.WriteByte(b)
		if prev == jpegEOI[0] && b == jpegEOI[1] {
			return frame.Bytes(), nil
		}
		prev = b
	}
}

func (d *videoDevice) seekMarker(marker []byte) error {
	var prev byte
	for {
		b, err := d.reader.ReadByte()
		if err != nil {
			return err
		}
		if prev == marker[0] && b == marker[1] {
			return nil
		}
		prev = b
	}
}

func (d *videoDevice) readErr(err error) error {
	if d.isClosed() {
		return ErrDeviceClosed
	}
	return err
}

// audioDevice reads fixed-size raw PCM chunks from the ffmpeg ALSA capture.
type audioDevice struct {
	*ffmpegDevice
	chunkBytes int
}

// OpenAudioDevice resolves the configured device by index or name substring
// against the attached sound cards and starts an ffmpeg PCM capture.
func OpenAudioDevice(ctx context.Context, cfg AudioConfig) (Device, error) {
	cfg = cfg.withDefaults()
	card, err := resolveAudioCard(cfg.Device)
	if err != nil {
		return nil, err
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "alsa",
		"-channels", strconv.Itoa(cfg.Channels),
		"-sample_rate", strconv.Itoa(cfg.SampleRate),
		"-i", fmt.Sprintf("plughw:%d", card),
		"-f", "s16le", "-",
	}
	dev, err := startFFmpeg(ctx, args)
	if err != nil {
		return nil, err
	}
	return &audioDevice{
		ffmpegDevice: dev,
		chunkBytes:   cfg.Chunk * cfg.Channels * audioSampleBytes,
	}, nil
}

// Read blocks until one full chunk of samples has been captured.
func (d *audioDevice) Read() ([]byte, error) {
	chunk := make([]byte, d.chunkBytes)
	if _, err := io.ReadFull(d.stdout, chunk); err != nil {
		if d.isClosed() {
			return nil, ErrDeviceClosed
		}
		return nil, err
	}
	return chunk, nil
}

// resolveAudioCard maps a numeric index straight through and matches a name
// string against the card list, first match winning. A name with no match is
// an error, never a silent fallback to card zero.
func resolveAudioCard(device string) (int, error) {
	device = strings.TrimSpace(device)
	if index, err := strconv.Atoi(device); err == nil {
		return index, nil
	}
	cards, err := listAudioCards()
	if err != nil {
		return 0, err
	}
	for _, card := range cards {
		if strings.Contains(card.Name, device) {
			return card.Index, nil
		}
	}
	return 0, fmt.Errorf("%w: no audio card matching %q", ErrDeviceNotFound, device)
}

// DeviceInfo describes one attached capture device for operator diagnostics.
type DeviceInfo struct {
	Kind  string `json:"kind"`
	Index int    `json:"index"`
	ID    string `json:"id"`
	Name  string `json:"name"`
}

// ListDevices enumerates attached video and audio inputs. Read-only; not used
// on the streaming hot path.
func ListDevices() ([]DeviceInfo, error) {
	var devices []DeviceInfo
	video, err := listVideoDevices()
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	devices = append(devices, video...)
	audio, err := listAudioCards()
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	devices = append(devices, audio...)
	return devices, nil
}

func listVideoDevices() ([]DeviceInfo, error) {
	entries, err := os.ReadDir("/sys/class/video4linux")
	if err != nil {
		return nil, err
	}
	var devices []DeviceInfo
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "video") {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), "video"))
		if err != nil {
			continue
		}
		name := entry.Name()
		if raw, err := os.ReadFile(filepath.Join("/sys/class/video4linux", entry.Name(), "name")); err == nil {
			name = strings.TrimSpace(string(raw))
		}
		devices = append(devices, DeviceInfo{
			Kind:  "video",
			Index: index,
			ID:    "/dev/" + entry.Name(),
			Name:  name,
		})
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	return devices, nil
}

// listAudioCards parses /proc/asound/cards, whose entries look like:
//
//	 0 [PCH            ]: HDA-Intel - HDA Intel PCH
//	                      HDA Intel PCH at 0xf7f30000 irq 31
func listAudioCards() ([]DeviceInfo, error) {
	raw, err := os.ReadFile("/proc/asound/cards")
	if err != nil {
		return nil, err
	}
	return parseAudioCards(string(raw)), nil
}

func parseAudioCards(contents string) []DeviceInfo {
	var cards []DeviceInfo
	for _, line := range strings.Split(contents, "\n") {
		fields := strings.SplitN(line, "]:", 2)
		if len(fields) != 2 {
			continue
		}
		header := strings.SplitN(strings.TrimSpace(fields[0]), "[", 2)
		if len(header) != 2 {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSpace(header[0]))
		if err != nil {
			continue
		}
		cards = append(cards, DeviceInfo{
			Kind:  "audio",
			Index: index,
			ID:    fmt.Sprintf("plughw:%d", index),
			Name:  strings.TrimSpace(fields[1]),
		})
	}
	return cards
}
