// Package publish управляет публикацией одного живого потока: запись в
// файл, отправка в сеть и произвольные ветки подключаются и отключаются
// на работающем графе.
//
// Каждая ветка работает за изолятором, поэтому сбой записи или сети
// превращается в событие и не влияет на остальные ветки и источник.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/sdp/v3"

	"github.com/arzzra/live_publish/pkg/fanout"
	"github.com/arzzra/live_publish/pkg/graph"
	"github.com/arzzra/live_publish/pkg/isolator"
	"github.com/arzzra/live_publish/pkg/sinks"
)

// Role назначение ветки
type Role string

const (
	RoleRecord Role = "record"
	RoleStream Role = "stream"
	RoleCustom Role = "custom"
)

// ErrNoStream отправка не запущена
var ErrNoStream = errors.New("отправка не запущена")

// Source элемент, питающий публикатор
type Source interface {
	graph.Element
	Link(el graph.Element) error
}

// Event терминальное событие ветки публикатора
type Event struct {
	ID      string
	Name    string
	Role    Role
	Failed  bool
	Message string
}

// BranchInfo снимок ветки публикатора
type BranchInfo struct {
	ID    string
	Name  string
	Role  Role
	State fanout.BranchState
}

type entry struct {
	id     string
	name   string
	role   Role
	iso    *isolator.Isolator
	stream *sinks.StreamConfig
}

// Publisher владеет доменом исполнения с узлом размножения и ветками
type Publisher struct {
	name   string
	config *Config
	logger *slog.Logger

	domain *graph.Domain
	fanout *fanout.Fanout

	mu       sync.Mutex
	entries  map[string]*entry
	recorder string
	streamer string
	closed   bool

	handlersMu sync.RWMutex
	handlers   map[uint64]func(Event)
	nextID     uint64

	unsubscribe func()
}

// New создает публикатор
func New(config *Config) (*Publisher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("невалидная конфигурация публикатора: %w", err)
	}
	cfg := config.Copy()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Fanout.Logger == nil {
		cfg.Fanout.Logger = logger
	}
	if cfg.Isolator.Logger == nil {
		cfg.Isolator.Logger = logger
	}

	fo, err := fanout.New(cfg.Name+"/fanout", cfg.Fanout)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		name:     cfg.Name,
		config:   cfg,
		logger:   logger.With(slog.String("component", "publisher"), slog.String("publisher", cfg.Name)),
		domain:   graph.NewDomain(cfg.Name, logger),
		fanout:   fo,
		entries:  make(map[string]*entry),
		handlers: make(map[uint64]func(Event)),
	}

	if err := p.domain.Add(fo); err != nil {
		_ = p.domain.Stop()
		_ = fo.Close()
		return nil, err
	}
	p.unsubscribe = fo.Subscribe(p.onBranchEvent)
	fo.SetStateChangeHandler(p.onStateChange)
	return p, nil
}

func (p *Publisher) Name() string { return p.name }

// Fanout возвращает узел размножения публикатора
func (p *Publisher) Fanout() *fanout.Fanout { return p.fanout }

// Domain возвращает домен исполнения публикатора
func (p *Publisher) Domain() *graph.Domain { return p.domain }

// AddSource связывает источник с узлом размножения и добавляет его в домен.
// Источник останавливается раньше узла.
func (p *Publisher) AddSource(src Source) error {
	if err := src.Link(p.fanout); err != nil {
		return err
	}
	return p.domain.Add(src)
}

// Subscribe регистрирует обработчик терминальных событий веток
func (p *Publisher) Subscribe(handler func(Event)) (cancel func()) {
	p.handlersMu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = handler
	p.handlersMu.Unlock()

	return func() {
		p.handlersMu.Lock()
		delete(p.handlers, id)
		p.handlersMu.Unlock()
	}
}

// Start запускает домен публикатора
func (p *Publisher) Start(ctx context.Context) error {
	if err := p.domain.Start(ctx); err != nil {
		return err
	}
	p.logger.Info("Публикатор запущен")
	return nil
}

// Stop останавливает источник, отключает все ветки через EOS и закрывает
// узел размножения. После Stop публикатор нельзя использовать.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.domain.Stop()
	if closeErr := p.fanout.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	p.unsubscribe()

	p.mu.Lock()
	p.recorder = ""
	p.streamer = ""
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("Ошибка остановки публикатора", slog.String("error", err.Error()))
		return err
	}
	p.logger.Info("Публикатор остановлен")
	return nil
}

// StartRecord начинает запись в файл location.
// false, если запись уже идет или ветку не удалось подключить.
func (p *Publisher) StartRecord(location string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.recorder != "" {
		p.logger.Warn("Запись уже идет", slog.String("id", p.recorder))
		return false
	}

	sink := sinks.NewRecordSink("record", location, p.config.Logger)
	id, ok := p.addLocked(RoleRecord, "record", sink, nil)
	if !ok {
		return false
	}
	p.recorder = id
	return true
}

// StopRecord останавливает запись. Файл закрывается после того, как EOS
// дойдет до ветки.
func (p *Publisher) StopRecord() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.recorder == "" {
		return false
	}
	id := p.recorder
	p.recorder = ""
	return p.removeLocked(id)
}

// StartStream начинает отправку RTP на host: аудио на audioPort, видео на
// videoPort
func (p *Publisher) StartStream(host string, audioPort, videoPort int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.streamer != "" {
		p.logger.Warn("Отправка уже идет", slog.String("id", p.streamer))
		return false
	}

	cfg := p.config.Stream.Copy()
	cfg.Host = host
	cfg.AudioPort = audioPort
	cfg.VideoPort = videoPort

	sink, err := sinks.NewStreamSink("stream", cfg, p.config.Logger)
	if err != nil {
		p.logger.Warn("Не удалось создать ветку отправки", slog.String("error", err.Error()))
		return false
	}
	id, ok := p.addLocked(RoleStream, "stream", sink, cfg)
	if !ok {
		return false
	}
	p.streamer = id
	return true
}

// StopStream останавливает отправку
func (p *Publisher) StopStream() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.streamer == "" {
		return false
	}
	id := p.streamer
	p.streamer = ""
	return p.removeLocked(id)
}

// SessionDescription возвращает SDP текущей отправки
func (p *Publisher) SessionDescription() (*sdp.SessionDescription, error) {
	p.mu.Lock()
	e, ok := p.entries[p.streamer]
	p.mu.Unlock()

	if !ok || e.stream == nil {
		return nil, ErrNoStream
	}
	return e.stream.SessionDescription()
}

// AddBranch подключает произвольную ветку за изолятором и возвращает ее
// идентификатор
func (p *Publisher) AddBranch(name string, child graph.Element) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addLocked(RoleCustom, name, child, nil)
}

// RemoveBranch отключает ветку по идентификатору
func (p *Publisher) RemoveBranch(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch id {
	case p.recorder:
		p.recorder = ""
	case p.streamer:
		p.streamer = ""
	}
	return p.removeLocked(id)
}

// Branches возвращает снимок веток, которые еще не удалены
func (p *Publisher) Branches() []BranchInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]BranchInfo, 0, len(p.entries))
	for _, e := range p.entries {
		state, ok := p.fanout.BranchState(e.iso)
		if !ok {
			continue
		}
		out = append(out, BranchInfo{ID: e.id, Name: e.name, Role: e.role, State: state})
	}
	return out
}

// Recording проверяет, идет ли запись
func (p *Publisher) Recording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recorder != ""
}

// Streaming проверяет, идет ли отправка
func (p *Publisher) Streaming() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamer != ""
}

func (p *Publisher) addLocked(role Role, name string, child graph.Element, stream *sinks.StreamConfig) (string, bool) {
	if p.closed {
		return "", false
	}

	// Имя изолятора совпадает с идентификатором, по нему события узла
	// сопоставляются с веткой
	id := uuid.NewString()
	iso, err := isolator.New(id, p.config.Isolator)
	if err != nil {
		p.logger.Warn("Не удалось создать изолятор", slog.String("error", err.Error()))
		return "", false
	}
	if err := iso.SetChild(child); err != nil {
		p.logger.Warn("Ветка отклонена",
			slog.String("name", name),
			slog.String("error", err.Error()))
		return "", false
	}

	p.entries[id] = &entry{id: id, name: name, role: role, iso: iso, stream: stream}
	if !p.fanout.Attach(iso) {
		delete(p.entries, id)
		return "", false
	}

	p.logger.Info("Ветка добавлена",
		slog.String("id", id),
		slog.String("name", name),
		slog.String("role", string(role)))
	return id, true
}

func (p *Publisher) removeLocked(id string) bool {
	e, ok := p.entries[id]
	if !ok {
		return false
	}
	if !p.fanout.Detach(e.iso) {
		return false
	}
	p.logger.Info("Ветка отключается",
		slog.String("id", id),
		slog.String("name", e.name))
	return true
}

func (p *Publisher) onBranchEvent(ev graph.BranchEvent) {
	id := ev.BranchName()

	p.mu.Lock()
	e, ok := p.entries[id]
	if ok {
		// Ветка завершилась сама, ее место освобождается
		if p.recorder == id {
			p.recorder = ""
		}
		if p.streamer == id {
			p.streamer = ""
		}
	}
	p.mu.Unlock()

	out := Event{ID: id, Name: id}
	if ok {
		out.Name = e.name
		out.Role = e.role
	}
	if branchErr, isErr := ev.(graph.BranchError); isErr {
		out.Failed = true
		out.Message = branchErr.Message
		p.logger.Warn("Ошибка ветки",
			slog.String("id", id),
			slog.String("name", out.Name),
			slog.String("error", out.Message))
	} else {
		p.logger.Info("Ветка завершилась", slog.String("id", id), slog.String("name", out.Name))
	}

	p.handlersMu.RLock()
	handlers := make([]func(Event), 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.handlersMu.RUnlock()

	for _, h := range handlers {
		h(out)
	}
}

func (p *Publisher) onStateChange(change fanout.StateChange) {
	if change.To != fanout.StateRemoved {
		return
	}
	p.mu.Lock()
	delete(p.entries, change.Branch)
	p.mu.Unlock()
}
