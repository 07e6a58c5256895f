package main

import (
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/arzzra/live_publish/pkg/graph"
	"github.com/arzzra/live_publish/pkg/publish"
	"github.com/arzzra/live_publish/pkg/testsrc"
)

//go:embed sample_config.toml
var sampleConfig string

// fileConfig содержимое TOML файла конфигурации
type fileConfig struct {
	Log      logConfig      `toml:"log"`
	HTTP     httpConfig     `toml:"http"`
	Source   sourceConfig   `toml:"source"`
	Fanout   fanoutConfig   `toml:"fanout"`
	Isolator isolatorConfig `toml:"isolator"`
	Stream   streamConfig   `toml:"stream"`
}

type logConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type httpConfig struct {
	Listen string `toml:"listen"`
}

type sourceConfig struct {
	AudioIntervalMs  int `toml:"audio_interval_ms"`
	VideoFPS         int `toml:"video_fps"`
	AudioPayloadSize int `toml:"audio_payload_size"`
	VideoPayloadSize int `toml:"video_payload_size"`
	Count            int `toml:"count"`
}

type fanoutConfig struct {
	ShutdownTimeoutMs int `toml:"shutdown_timeout_ms"`
}

type isolatorConfig struct {
	MaxBuffers     int    `toml:"max_buffers"`
	Policy         string `toml:"policy"`
	DrainTimeoutMs int    `toml:"drain_timeout_ms"`
}

type streamConfig struct {
	DSCP             int    `toml:"dscp"`
	SessionName      string `toml:"session_name"`
	AudioPayloadType uint8  `toml:"audio_payload_type"`
	AudioCodec       string `toml:"audio_codec"`
	AudioClockRate   uint32 `toml:"audio_clock_rate"`
	AudioChannels    int    `toml:"audio_channels"`
	VideoPayloadType uint8  `toml:"video_payload_type"`
	VideoCodec       string `toml:"video_codec"`
	VideoClockRate   uint32 `toml:"video_clock_rate"`
}

// defaultFileConfig значения, которые действуют для ключей, отсутствующих в файле
func defaultFileConfig() fileConfig {
	pub := publish.DefaultConfig()
	src := testsrc.DefaultConfig()
	return fileConfig{
		Log:     logConfig{Level: "info", Format: "text"},
		HTTP:    httpConfig{Listen: "127.0.0.1:9464"},
		Source: sourceConfig{
			AudioIntervalMs:  int(src.AudioInterval / time.Millisecond),
			VideoFPS:         30,
			AudioPayloadSize: src.AudioPayloadSize,
			VideoPayloadSize: src.VideoPayloadSize,
		},
		Fanout: fanoutConfig{
			ShutdownTimeoutMs: int(pub.Fanout.ShutdownTimeout / time.Millisecond),
		},
		Isolator: isolatorConfig{
			MaxBuffers:     pub.Isolator.Bridge.MaxBuffers,
			Policy:         pub.Isolator.Bridge.Policy.String(),
			DrainTimeoutMs: int(pub.Isolator.DrainTimeout / time.Millisecond),
		},
		Stream: streamConfig{
			DSCP:             pub.Stream.DSCP,
			SessionName:      pub.Stream.SessionName,
			AudioPayloadType: pub.Stream.AudioPayloadType,
			AudioCodec:       pub.Stream.AudioCodec,
			AudioClockRate:   pub.Stream.AudioClockRate,
			AudioChannels:    pub.Stream.AudioChannels,
			VideoPayloadType: pub.Stream.VideoPayloadType,
			VideoCodec:       pub.Stream.VideoCodec,
			VideoClockRate:   pub.Stream.VideoClockRate,
		},
	}
}

// loadConfig читает файл конфигурации. Пустой путь означает значения по
// умолчанию.
func loadConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := decodeConfig(file, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeConfig(r io.Reader, cfg *fileConfig) error {
	decoder := toml.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(cfg)
}

func parsePolicy(s string) (graph.DropPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case graph.DropNew.String():
		return graph.DropNew, nil
	case graph.DropOld.String():
		return graph.DropOld, nil
	default:
		return 0, fmt.Errorf("неизвестная политика моста %q", s)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("неизвестный уровень логирования %q", s)
	}
	return level, nil
}

// newLogger создает логгер процесса по секции [log]
func (c fileConfig) newLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(c.Log.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("неизвестный формат логов %q", c.Log.Format)
	}
}

// publishConfig переносит файл конфигурации на конфигурацию публикатора
func (c fileConfig) publishConfig(logger *slog.Logger) (*publish.Config, error) {
	policy, err := parsePolicy(c.Isolator.Policy)
	if err != nil {
		return nil, err
	}

	cfg := publish.DefaultConfig()
	cfg.Logger = logger
	cfg.Fanout.ShutdownTimeout = time.Duration(c.Fanout.ShutdownTimeoutMs) * time.Millisecond
	cfg.Isolator.Bridge.MaxBuffers = c.Isolator.MaxBuffers
	cfg.Isolator.Bridge.Policy = policy
	cfg.Isolator.DrainTimeout = time.Duration(c.Isolator.DrainTimeoutMs) * time.Millisecond

	cfg.Stream.DSCP = c.Stream.DSCP
	cfg.Stream.SessionName = c.Stream.SessionName
	cfg.Stream.AudioPayloadType = c.Stream.AudioPayloadType
	cfg.Stream.AudioCodec = c.Stream.AudioCodec
	cfg.Stream.AudioClockRate = c.Stream.AudioClockRate
	cfg.Stream.AudioChannels = c.Stream.AudioChannels
	cfg.Stream.VideoPayloadType = c.Stream.VideoPayloadType
	cfg.Stream.VideoCodec = c.Stream.VideoCodec
	cfg.Stream.VideoClockRate = c.Stream.VideoClockRate

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sourceConfig параметры синтетического источника; payload type и частоты
// совпадают с описанием отправки
func (c fileConfig) sourceConfig(logger *slog.Logger) (*testsrc.Config, error) {
	if c.Source.VideoFPS <= 0 {
		return nil, fmt.Errorf("video_fps должен быть больше 0")
	}

	cfg := testsrc.DefaultConfig()
	cfg.Logger = logger
	cfg.AudioPayloadType = c.Stream.AudioPayloadType
	cfg.VideoPayloadType = c.Stream.VideoPayloadType
	cfg.AudioClockRate = c.Stream.AudioClockRate
	cfg.VideoClockRate = c.Stream.VideoClockRate
	cfg.AudioInterval = time.Duration(c.Source.AudioIntervalMs) * time.Millisecond
	cfg.VideoInterval = time.Second / time.Duration(c.Source.VideoFPS)
	cfg.AudioPayloadSize = c.Source.AudioPayloadSize
	cfg.VideoPayloadSize = c.Source.VideoPayloadSize
	cfg.Count = c.Source.Count

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
