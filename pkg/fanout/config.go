package fanout

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config содержит конфигурацию узла размножения потоков
type Config struct {
	// Registerer для метрик. Если nil, создается отдельный реестр,
	// поэтому в одном процессе можно создать несколько узлов.
	Registerer prometheus.Registerer

	// Namespace и Subsystem префиксы Prometheus метрик
	Namespace string
	Subsystem string

	// ShutdownTimeout сколько Stop ждет удаления веток.
	// Отключение отдельной ветки по Detach не ограничено по времени.
	ShutdownTimeout time.Duration

	// Logger для диагностики. Если nil, используется slog.Default()
	Logger *slog.Logger
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		Namespace:       "live_publish",
		Subsystem:       "fanout",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace метрик не может быть пустым")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("ShutdownTimeout должен быть больше 0")
	}
	return nil
}

// Copy создает копию конфигурации
func (c *Config) Copy() *Config {
	cp := *c
	return &cp
}
