package sinks

import (
	"fmt"
	"net"

	"github.com/arzzra/live_publish/pkg/graph"
)

// StreamConfig параметры отправки RTP по UDP
type StreamConfig struct {
	// Адрес получателя и порты для аудио и видео
	Host      string
	AudioPort int
	VideoPort int

	// DSCP маркировка исходящих пакетов (0..63), 0 не меняет маркировку
	DSCP int

	SessionName string

	AudioPayloadType uint8
	AudioCodec       string
	AudioClockRate   uint32
	AudioChannels    int

	VideoPayloadType uint8
	VideoCodec       string
	VideoClockRate   uint32
}

// DefaultStreamConfig возвращает конфигурацию по умолчанию:
// Opus/48000/2 и H264/90000 на локальный адрес
func DefaultStreamConfig() *StreamConfig {
	return &StreamConfig{
		Host:             "127.0.0.1",
		AudioPort:        5004,
		VideoPort:        5006,
		DSCP:             0,
		SessionName:      "live_publish",
		AudioPayloadType: 111,
		AudioCodec:       "opus",
		AudioClockRate:   48000,
		AudioChannels:    2,
		VideoPayloadType: 96,
		VideoCodec:       "H264",
		VideoClockRate:   90000,
	}
}

// Validate проверяет корректность конфигурации
func (c *StreamConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("не указан адрес получателя")
	}
	if ip := net.ParseIP(c.Host); ip == nil {
		if _, err := net.LookupHost(c.Host); err != nil {
			return fmt.Errorf("некорректный адрес получателя %q: %w", c.Host, err)
		}
	}
	if c.AudioPort <= 0 || c.AudioPort > 65535 {
		return fmt.Errorf("некорректный порт аудио: %d", c.AudioPort)
	}
	if c.VideoPort <= 0 || c.VideoPort > 65535 {
		return fmt.Errorf("некорректный порт видео: %d", c.VideoPort)
	}
	if c.AudioPort == c.VideoPort {
		return fmt.Errorf("порты аудио и видео совпадают: %d", c.AudioPort)
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("DSCP должен быть в диапазоне 0..63: %d", c.DSCP)
	}
	if c.AudioPayloadType > 127 || c.VideoPayloadType > 127 {
		return fmt.Errorf("payload type должен быть в диапазоне 0..127")
	}
	if c.AudioPayloadType == c.VideoPayloadType {
		return fmt.Errorf("payload type аудио и видео совпадают: %d", c.AudioPayloadType)
	}
	if c.AudioCodec == "" || c.VideoCodec == "" {
		return fmt.Errorf("не указан кодек")
	}
	if c.AudioClockRate == 0 || c.VideoClockRate == 0 {
		return fmt.Errorf("частота дискретизации должна быть положительной")
	}
	return nil
}

// Copy создает копию конфигурации
func (c *StreamConfig) Copy() *StreamConfig {
	cp := *c
	return &cp
}

func (c *StreamConfig) port(kind graph.MediaKind) int {
	if kind == graph.KindAudio {
		return c.AudioPort
	}
	return c.VideoPort
}
