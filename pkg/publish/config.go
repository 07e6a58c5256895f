package publish

import (
	"fmt"
	"log/slog"

	"github.com/arzzra/live_publish/pkg/fanout"
	"github.com/arzzra/live_publish/pkg/isolator"
	"github.com/arzzra/live_publish/pkg/sinks"
)

// Config конфигурация публикатора
type Config struct {
	Name string

	Fanout   *fanout.Config
	Isolator *isolator.Config

	// Stream шаблон параметров отправки. Адрес и порты задаются в
	// StartStream, остальное (кодеки, DSCP) берется отсюда.
	Stream *sinks.StreamConfig

	Logger *slog.Logger
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		Name:     "publisher",
		Fanout:   fanout.DefaultConfig(),
		Isolator: isolator.DefaultConfig(),
		Stream:   sinks.DefaultStreamConfig(),
	}
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("имя публикатора не может быть пустым")
	}
	if c.Fanout == nil || c.Isolator == nil || c.Stream == nil {
		return fmt.Errorf("не заданы параметры узла, изолятора или отправки")
	}
	if err := c.Fanout.Validate(); err != nil {
		return fmt.Errorf("fanout: %w", err)
	}
	if err := c.Isolator.Validate(); err != nil {
		return fmt.Errorf("isolator: %w", err)
	}
	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	return nil
}

// Copy создает глубокую копию конфигурации
func (c *Config) Copy() *Config {
	cp := *c
	if c.Fanout != nil {
		cp.Fanout = c.Fanout.Copy()
	}
	if c.Isolator != nil {
		cp.Isolator = c.Isolator.Copy()
	}
	if c.Stream != nil {
		cp.Stream = c.Stream.Copy()
	}
	return &cp
}
