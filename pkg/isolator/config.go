package isolator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/arzzra/live_publish/pkg/graph"
)

// Config содержит конфигурацию изолятора ветки
type Config struct {
	// Bridge параметры очередей моста между доменами.
	// Переполнение очереди отбрасывает буферы и не блокирует сплиттер.
	Bridge graph.BridgeConfig

	// DrainTimeout сколько Stop ждет, пока EOS пройдет через мост
	// к дочернему графу, прежде чем остановить домен принудительно
	DrainTimeout time.Duration

	// Logger для диагностики. Если nil, используется slog.Default()
	Logger *slog.Logger
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		Bridge:       graph.DefaultBridgeConfig(),
		DrainTimeout: 5 * time.Second,
	}
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if err := c.Bridge.Validate(); err != nil {
		return fmt.Errorf("некорректные параметры моста: %w", err)
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("DrainTimeout не может быть отрицательным")
	}
	return nil
}

// Copy создает копию конфигурации
func (c *Config) Copy() *Config {
	cp := *c
	return &cp
}
