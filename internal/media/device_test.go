package media

import (
	"context"
	"errors"
	"testing"
)

func TestVideoConfigDefaults(t *testing.T) {
	cfg := VideoConfig{}.withDefaults()
	if cfg.Device != "/dev/video0" {
		t.Fatalf("unexpected default device %q", cfg.Device)
	}
	if cfg.Width != 640 || cfg.Height != 480 || cfg.Framerate != 30 || cfg.Quality != 85 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	cfg = VideoConfig{Quality: 150}.withDefaults()
	if cfg.Quality != 85 {
		t.Fatalf("expected out-of-range quality to reset, got %d", cfg.Quality)
	}
}

func TestAudioConfigDefaults(t *testing.T) {
	cfg := AudioConfig{}.withDefaults()
	if cfg.Device != "0" || cfg.Chunk != 8192 || cfg.Channels != 2 || cfg.SampleRate != 44100 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestResolveAudioCardNumericPassthrough(t *testing.T) {
	card, err := resolveAudioCard(" 3 ")
	if err != nil {
		t.Fatalf("resolveAudioCard error: %v", err)
	}
	if card != 3 {
		t.Fatalf("expected card 3, got %d", card)
	}
}

func TestParseAudioCards(t *testing.T) {
	contents := ` 0 [PCH            ]: HDA-Intel - HDA Intel PCH
                      HDA Intel PCH at 0xf7f30000 irq 31
 1 [Microphone     ]: USB-Audio - USB Microphone
                      C-Media Electronics Inc. USB Microphone
`
	cards := parseAudioCards(contents)
	if len(cards) != 2 {
		t.Fatalf("expected 2 cards, got %d: %+v", len(cards), cards)
	}
	if cards[0].Index != 0 || cards[0].ID != "plughw:0" || cards[0].Name != "HDA-Intel - HDA Intel PCH" {
		t.Fatalf("unexpected first card %+v", cards[0])
	}
	if cards[1].Index != 1 || cards[1].Name != "USB-Audio - USB Microphone" {
		t.Fatalf("unexpected second card %+v", cards[1])
	}
	if cards[1].Kind != "audio" {
		t.Fatalf("unexpected kind %q", cards[1].Kind)
	}
}

func TestParseAudioCardsIgnoresGarbage(t *testing.T) {
	if cards := parseAudioCards("--- no cards ---\n"); len(cards) != 0 {
		t.Fatalf("expected no cards, got %+v", cards)
	}
}

func TestOpenVideoDeviceMissingPath(t *testing.T) {
	_, err := OpenVideoDevice(context.Background(), VideoConfig{Device: "/dev/does-not-exist"})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}
