package sinks

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/gofrs/flock"

	"github.com/arzzra/live_publish/pkg/graph"
)

// RecordSink ветка записи потока в файл
type RecordSink struct {
	name     string
	location string
	logger   *slog.Logger
	pads     map[graph.MediaKind]*graph.FuncPad

	mu      sync.Mutex
	host    graph.Host
	lock    *flock.Flock
	file    *os.File
	w       *bufio.Writer
	eos     map[graph.MediaKind]bool
	failed  bool
	records map[graph.MediaKind]uint64
	bytes   uint64
}

// RecordStats статистика записи
type RecordStats struct {
	AudioRecords uint64
	VideoRecords uint64
	Bytes        uint64
}

// NewRecordSink создает ветку записи в файл location.
// Файл создается при запуске ветки. На время записи берется блокировка
// location.lock, поэтому два писателя не могут писать в один файл.
func NewRecordSink(name, location string, logger *slog.Logger) *RecordSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &RecordSink{
		name:     name,
		location: location,
		logger:   logger.With(slog.String("component", "record_sink"), slog.String("location", location)),
		pads:     make(map[graph.MediaKind]*graph.FuncPad, 2),
		eos:      make(map[graph.MediaKind]bool, 2),
		records:  make(map[graph.MediaKind]uint64, 2),
	}
	for _, kind := range graph.Kinds() {
		kind := kind
		s.pads[kind] = graph.NewFuncPad(kind.PadName(), kind,
			func(buf *graph.Buffer) error { return s.write(kind, buf) },
			func(ev graph.Event) error { return s.event(kind, ev) })
	}
	return s
}

func (s *RecordSink) Name() string { return s.name }

// Location возвращает путь файла записи
func (s *RecordSink) Location() string { return s.location }

func (s *RecordSink) SinkPad(kind graph.MediaKind) graph.SinkPad {
	pad, ok := s.pads[kind]
	if !ok {
		return nil
	}
	return pad
}

// Start создает файл записи
func (s *RecordSink) Start(_ context.Context, host graph.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return graph.NewGraphError(graph.ErrorCodeElementAlreadyStarted, s.name, "запись уже идет")
	}

	lock := flock.New(s.location + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return graph.WrapGraphError(graph.ErrorCodeElementStartFailed, s.name, err, "не удалось взять блокировку записи")
	}
	if !ok {
		return graph.NewGraphError(graph.ErrorCodeElementStartFailed, s.name, "файл %s уже записывается", s.location)
	}

	f, err := os.Create(s.location)
	if err != nil {
		s.unlock(lock)
		return graph.WrapGraphError(graph.ErrorCodeElementStartFailed, s.name, err, "не удалось создать файл записи")
	}
	w := bufio.NewWriter(f)
	if err := writeHeader(w); err != nil {
		_ = f.Close()
		s.unlock(lock)
		return graph.WrapGraphError(graph.ErrorCodeElementStartFailed, s.name, err, "не удалось записать заголовок")
	}

	s.lock = lock
	s.host = host
	s.file = f
	s.w = w
	s.logger.Info("Запись начата")
	return nil
}

func (s *RecordSink) write(kind graph.MediaKind, buf *graph.Buffer) error {
	s.mu.Lock()
	if s.failed || s.w == nil {
		s.mu.Unlock()
		return graph.ErrFlushing
	}
	if s.eos[kind] {
		s.mu.Unlock()
		return graph.ErrEOS
	}

	n, err := writeRecord(s.w, buf)
	if err != nil {
		s.failed = true
		host := s.host
		s.mu.Unlock()

		err = fmt.Errorf("запись %s: %w", s.location, err)
		s.logger.Error("Ошибка записи", slog.String("error", err.Error()))
		host.Post(graph.NewErrorMessage(s.name, err))
		return err
	}
	s.records[kind]++
	s.bytes += uint64(n)
	s.mu.Unlock()
	return nil
}

func (s *RecordSink) event(kind graph.MediaKind, ev graph.Event) error {
	if !ev.IsEOS() {
		return nil
	}

	s.mu.Lock()
	if s.eos[kind] {
		s.mu.Unlock()
		return nil
	}
	s.eos[kind] = true
	if len(s.eos) < len(graph.Kinds()) {
		s.mu.Unlock()
		return nil
	}

	err := s.closeLocked()
	host := s.host
	failed := s.failed
	s.mu.Unlock()

	if host == nil {
		return err
	}
	if err != nil {
		if !failed {
			host.Post(graph.NewErrorMessage(s.name, err))
		}
		return err
	}
	s.logger.Info("Запись завершена", slog.Any("stats", s.Stats()))
	host.Post(graph.NewEOSMessage(s.name))
	return nil
}

// Stop закрывает файл записи, если он еще открыт
func (s *RecordSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *RecordSink) closeLocked() error {
	if s.file == nil {
		return nil
	}
	var flushErr error
	if !s.failed {
		flushErr = s.w.Flush()
	}
	closeErr := s.file.Close()
	s.file = nil
	s.w = nil
	s.unlock(s.lock)
	s.lock = nil

	if flushErr != nil {
		s.failed = true
		return fmt.Errorf("запись %s: %w", s.location, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("закрытие %s: %w", s.location, closeErr)
	}
	return nil
}

func (s *RecordSink) unlock(lock *flock.Flock) {
	if lock == nil {
		return
	}
	if err := lock.Unlock(); err != nil {
		s.logger.Warn("Не удалось снять блокировку записи", slog.String("error", err.Error()))
	}
	_ = os.Remove(lock.Path())
}

// Stats возвращает статистику записи
func (s *RecordSink) Stats() RecordStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RecordStats{
		AudioRecords: s.records[graph.KindAudio],
		VideoRecords: s.records[graph.KindVideo],
		Bytes:        s.bytes,
	}
}
