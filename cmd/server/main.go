// Command server starts the SentryCam HTTP service: authenticated API and
// static content, plus camera and microphone streaming when a capture mode is
// enabled.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"sentrycam/internal/api"
	"sentrycam/internal/auth"
	"sentrycam/internal/media"
	"sentrycam/internal/observability/logging"
	"sentrycam/internal/observability/metrics"
	"sentrycam/internal/server"
)

// Run modes mirror the deployment shapes: a capture node serves media, a
// relay-only node serves just the API and files.
const (
	modeBoth   = "both"
	modeClient = "client"
	modeServer = "server"
)

type fileConfig struct {
	Server struct {
		Addr    string `json:"addr"`
		WebRoot string `json:"web_root"`
		Cert    string `json:"cert"`
		Key     string `json:"key"`
		Realm   string `json:"realm"`
		Users   string `json:"users"`
		Mode    string `json:"mode"`
		Debug   bool   `json:"debug"`
	} `json:"server"`
	Media struct {
		VideoEnabled *bool  `json:"video_enabled"`
		AudioEnabled *bool  `json:"audio_enabled"`
		VideoDevice  string `json:"video_device"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		Framerate    int    `json:"framerate"`
		Quality      int    `json:"quality"`
		AudioDevice  string `json:"audio_device"`
		Chunk        int    `json:"chunk"`
		Channels     int    `json:"channels"`
		SampleRate   int    `json:"sample_rate"`
	} `json:"media"`
}

func main() {
	configPath := flag.String("config", "", "path to JSON configuration file")
	addr := flag.String("addr", "", "HTTP listen address")
	webRoot := flag.String("web-root", "", "static file root directory")
	realm := flag.String("realm", "", "Basic authentication realm")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	mode := flag.String("mode", "", "run mode (both, client, server)")
	usersDSN := flag.String("users-dsn", "", "Postgres connection string for the credential store")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	debug := flag.Bool("debug", false, "enable debug logging on launch")
	listDevices := flag.Bool("list-devices", false, "list capture devices and exit")
	videoOn := flag.Bool("video", true, "enable video capture and the /video endpoint")
	audioOn := flag.Bool("audio", true, "enable audio capture and the /audio endpoint")
	videoDevice := flag.String("video-device", "", "video capture device path")
	videoWidth := flag.Int("video-width", 0, "captured frame width")
	videoHeight := flag.Int("video-height", 0, "captured frame height")
	videoFramerate := flag.Int("video-framerate", 0, "captured frames per second")
	videoQuality := flag.Int("video-quality", 0, "JPEG quality from 1 to 100")
	audioDevice := flag.String("audio-device", "", "audio capture card index or name substring")
	audioChunk := flag.Int("audio-chunk", 0, "audio chunk size in bytes")
	audioChannels := flag.Int("audio-channels", 0, "audio channel count")
	audioSampleRate := flag.Int("audio-sample-rate", 0, "audio sample rate in Hz")
	heartbeat := flag.Duration("heartbeat", 0, "device acquisition retry interval")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum credentialed requests per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	flag.Parse()

	if *listDevices {
		devices, err := media.ListDevices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "device enumeration failed: %v\n", err)
			os.Exit(1)
		}
		for _, d := range devices {
			fmt.Printf("%s %d: %s (%s)\n", d.Kind, d.Index, d.Name, d.ID)
		}
		return
	}

	var fileCfg fileConfig
	if path := firstNonEmpty(*configPath, os.Getenv("SENTRYCAM_CONFIG")); path != "" {
		if err := loadConfigFile(path, &fileCfg); err != nil {
			fmt.Fprintf(os.Stderr, "configuration file %s: %v\n", path, err)
			os.Exit(1)
		}
	}

	debugEnabled := *debug || fileCfg.Server.Debug || envBool("SENTRYCAM_DEBUG")
	level := firstNonEmpty(*logLevel, os.Getenv("SENTRYCAM_LOG_LEVEL"))
	if debugEnabled && level == "" {
		level = "debug"
	}
	logger, levelVar := logging.Init(logging.Config{
		Level:  level,
		Format: firstNonEmpty(*logFormat, os.Getenv("SENTRYCAM_LOG_FORMAT")),
	})

	recorder := metrics.Default()

	dsn := firstNonEmpty(*usersDSN, os.Getenv("SENTRYCAM_USERS_DSN"), fileCfg.Server.Users)
	var store auth.Store
	if dsn != "" {
		pgStore, err := auth.NewPostgresStore(context.Background(), dsn)
		if err != nil {
			logger.Error("failed to open credential store", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close(context.Background())
		store = pgStore
	} else {
		logger.Warn("no credential store configured, using in-memory credentials")
		store = auth.NewMemoryStore()
	}

	users, err := auth.NewService(auth.ServiceConfig{Store: store, Logger: logger})
	if err != nil {
		logger.Error("failed to initialise credential service", "error", err)
		os.Exit(1)
	}
	if err := bootstrapCredentials(users, logger); err != nil {
		logger.Error("failed to seed bootstrap credentials", "error", err)
		os.Exit(1)
	}

	runMode := strings.ToLower(firstNonEmpty(*mode, os.Getenv("SENTRYCAM_MODE"), fileCfg.Server.Mode, modeBoth))
	switch runMode {
	case modeBoth, modeClient, modeServer:
	default:
		logger.Error("unsupported run mode", "mode", runMode)
		os.Exit(1)
	}

	videoEnabled := *videoOn
	if fileCfg.Media.VideoEnabled != nil && !*fileCfg.Media.VideoEnabled {
		videoEnabled = false
	}
	audioEnabled := *audioOn
	if fileCfg.Media.AudioEnabled != nil && !*fileCfg.Media.AudioEnabled {
		audioEnabled = false
	}

	var engine *media.Engine
	if runMode != modeServer && (videoEnabled || audioEnabled) {
		engine = media.NewEngine(media.EngineConfig{
			VideoEnabled: videoEnabled,
			AudioEnabled: audioEnabled,
			Video: media.VideoConfig{
				Device:    firstNonEmpty(*videoDevice, os.Getenv("SENTRYCAM_VIDEO_DEVICE"), fileCfg.Media.VideoDevice),
				Width:     firstNonZero(*videoWidth, envInt("SENTRYCAM_VIDEO_WIDTH"), fileCfg.Media.Width),
				Height:    firstNonZero(*videoHeight, envInt("SENTRYCAM_VIDEO_HEIGHT"), fileCfg.Media.Height),
				Framerate: firstNonZero(*videoFramerate, envInt("SENTRYCAM_VIDEO_FRAMERATE"), fileCfg.Media.Framerate),
				Quality:   firstNonZero(*videoQuality, envInt("SENTRYCAM_VIDEO_QUALITY"), fileCfg.Media.Quality),
			},
			Audio: media.AudioConfig{
				Device:     firstNonEmpty(*audioDevice, os.Getenv("SENTRYCAM_AUDIO_DEVICE"), fileCfg.Media.AudioDevice),
				Chunk:      firstNonZero(*audioChunk, envInt("SENTRYCAM_AUDIO_CHUNK"), fileCfg.Media.Chunk),
				Channels:   firstNonZero(*audioChannels, envInt("SENTRYCAM_AUDIO_CHANNELS"), fileCfg.Media.Channels),
				SampleRate: firstNonZero(*audioSampleRate, envInt("SENTRYCAM_AUDIO_SAMPLE_RATE"), fileCfg.Media.SampleRate),
			},
			Heartbeat: *heartbeat,
			Logger:    logger,
			Metrics:   recorder,
			LogLevel:  levelVar,
		})
		engine.Start()
	}

	var srv *server.Server
	handler := api.NewHandler(api.Config{
		Users:  users,
		Engine: engine,
		Logger: logger,
		SetDebug: func(enabled bool) {
			if engine != nil {
				engine.SetDebug(enabled)
			}
			if srv != nil {
				srv.SetDebug(enabled)
			}
		},
	})

	srv, err = server.New(handler, server.Config{
		Addr:    firstNonEmpty(*addr, os.Getenv("SENTRYCAM_ADDR"), fileCfg.Server.Addr, "0.0.0.0:8080"),
		Realm:   firstNonEmpty(*realm, os.Getenv("SENTRYCAM_REALM"), fileCfg.Server.Realm),
		WebRoot: firstNonEmpty(*webRoot, os.Getenv("SENTRYCAM_WEB_ROOT"), fileCfg.Server.WebRoot),
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("SENTRYCAM_TLS_CERT"), fileCfg.Server.Cert),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("SENTRYCAM_TLS_KEY"), fileCfg.Server.Key),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     *globalRPS,
			GlobalBurst:   *globalBurst,
			LoginLimit:    firstNonZero(*loginLimit, envInt("SENTRYCAM_RATE_LOGIN_LIMIT")),
			LoginWindow:   *loginWindow,
			RedisAddr:     firstNonEmpty(*redisAddr, os.Getenv("SENTRYCAM_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*redisPassword, os.Getenv("SENTRYCAM_RATE_REDIS_PASSWORD")),
			RedisTimeout:  *redisTimeout,
		},
		Logger:        logger,
		LogLevel:      levelVar,
		Metrics:       recorder,
		Authenticator: users,
		Engine:        engine,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("received shutdown signal", "signal", sig.String())

	srv.Shutdown()
	if engine != nil {
		engine.Shutdown()
	}
	logger.Info("server stopped")
}

// bootstrapCredentials seeds a first account from the environment so a fresh
// deployment, particularly one on the in-memory store, is reachable.
func bootstrapCredentials(users *auth.Service, logger *slog.Logger) error {
	username := strings.TrimSpace(os.Getenv("SENTRYCAM_BOOTSTRAP_USER"))
	password := os.Getenv("SENTRYCAM_BOOTSTRAP_PASSWORD")
	if username == "" || password == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := users.AddUser(ctx, username, password); err != nil {
		if err == auth.ErrUserExists {
			return nil
		}
		return err
	}
	logger.Info("bootstrap credentials created", "username", username)
	return nil
}

func loadConfigFile(path string, cfg *fileConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, value := range values {
		if value != 0 {
			return value
		}
	}
	return 0
}

func envInt(name string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}

func envBool(name string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return false
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false
	}
	return parsed
}
