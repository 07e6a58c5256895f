package testsrc

import (
	"fmt"
	"log/slog"
	"time"
)

// Config параметры синтетического источника
type Config struct {
	AudioPayloadType uint8
	VideoPayloadType uint8
	AudioClockRate   uint32
	VideoClockRate   uint32

	// Интервалы между пакетами: 20 мс для аудио, кадр 30 fps для видео
	AudioInterval time.Duration
	VideoInterval time.Duration

	AudioPayloadSize int
	VideoPayloadSize int

	// SSRC потоков. 0 означает случайное значение.
	AudioSSRC uint32
	VideoSSRC uint32

	// Count количество пакетов каждого вида, после которых источник
	// отправляет EOS. 0 означает бесконечный поток.
	Count int

	Logger *slog.Logger
}

// DefaultConfig возвращает конфигурацию по умолчанию: Opus 48 кГц и H.264 90 кГц
func DefaultConfig() *Config {
	return &Config{
		AudioPayloadType: 111,
		VideoPayloadType: 96,
		AudioClockRate:   48000,
		VideoClockRate:   90000,
		AudioInterval:    20 * time.Millisecond,
		VideoInterval:    time.Second / 30,
		AudioPayloadSize: 160,
		VideoPayloadSize: 1200,
	}
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if c.AudioPayloadType > 127 || c.VideoPayloadType > 127 {
		return fmt.Errorf("payload type должен быть в диапазоне 0-127")
	}
	if c.AudioClockRate == 0 || c.VideoClockRate == 0 {
		return fmt.Errorf("частота дискретизации не может быть 0")
	}
	if c.AudioInterval <= 0 || c.VideoInterval <= 0 {
		return fmt.Errorf("интервал пакетов должен быть больше 0")
	}
	if c.AudioPayloadSize <= 0 || c.VideoPayloadSize <= 0 {
		return fmt.Errorf("размер полезной нагрузки должен быть больше 0")
	}
	if c.Count < 0 {
		return fmt.Errorf("Count не может быть отрицательным")
	}
	return nil
}

// Copy создает копию конфигурации
func (c *Config) Copy() *Config {
	cp := *c
	return &cp
}
