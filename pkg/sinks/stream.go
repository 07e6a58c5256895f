package sinks

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/live_publish/pkg/graph"
)

// StreamSink ветка, отправляющая RTP пакеты по UDP: аудио и видео на
// отдельные порты получателя
type StreamSink struct {
	name   string
	config *StreamConfig
	logger *slog.Logger
	pads   map[graph.MediaKind]*graph.FuncPad

	mu     sync.Mutex
	host   graph.Host
	conns  map[graph.MediaKind]*net.UDPConn
	eos    map[graph.MediaKind]bool
	failed bool

	packets atomic.Uint64
	bytes   atomic.Uint64
}

// StreamStats статистика отправки
type StreamStats struct {
	Packets uint64
	Bytes   uint64
}

// NewStreamSink создает ветку отправки. Сокеты открываются при запуске.
func NewStreamSink(name string, config *StreamConfig, logger *slog.Logger) (*StreamSink, error) {
	if config == nil {
		config = DefaultStreamConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, graph.WrapGraphError(graph.ErrorCodeElementInvalid, name, err, "невалидная конфигурация отправки")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &StreamSink{
		name:   name,
		config: config.Copy(),
		logger: logger.With(slog.String("component", "stream_sink"), slog.String("host", config.Host)),
		pads:   make(map[graph.MediaKind]*graph.FuncPad, 2),
		conns:  make(map[graph.MediaKind]*net.UDPConn, 2),
		eos:    make(map[graph.MediaKind]bool, 2),
	}
	for _, kind := range graph.Kinds() {
		kind := kind
		s.pads[kind] = graph.NewFuncPad(kind.PadName(), kind,
			func(buf *graph.Buffer) error { return s.send(kind, buf) },
			func(ev graph.Event) error { return s.event(kind, ev) })
	}
	return s, nil
}

func (s *StreamSink) Name() string { return s.name }

func (s *StreamSink) SinkPad(kind graph.MediaKind) graph.SinkPad {
	pad, ok := s.pads[kind]
	if !ok {
		return nil
	}
	return pad
}

// SessionDescription возвращает SDP описание отправляемого потока
func (s *StreamSink) SessionDescription() (*sdp.SessionDescription, error) {
	return s.config.SessionDescription()
}

// Start открывает UDP сокеты и применяет DSCP маркировку
func (s *StreamSink) Start(_ context.Context, host graph.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.conns) > 0 {
		return graph.NewGraphError(graph.ErrorCodeElementAlreadyStarted, s.name, "отправка уже идет")
	}

	for _, kind := range graph.Kinds() {
		conn, err := s.dial(kind)
		if err != nil {
			s.closeLocked()
			return graph.WrapGraphError(graph.ErrorCodeElementStartFailed, s.name, err,
				"не удалось открыть сокет %s", kind)
		}
		s.conns[kind] = conn
	}

	s.host = host
	s.logger.Info("Отправка начата",
		slog.Int("audio_port", s.config.AudioPort),
		slog.Int("video_port", s.config.VideoPort),
		slog.Int("dscp", s.config.DSCP))
	return nil
}

func (s *StreamSink) dial(kind graph.MediaKind) (*net.UDPConn, error) {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.port(kind)))
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}

	if s.config.DSCP > 0 {
		if err := applyDSCP(conn, s.config.DSCP); err != nil {
			// Без маркировки отправка все равно работает
			s.logger.Warn("Не удалось установить DSCP",
				slog.String("kind", kind.String()),
				slog.String("error", err.Error()))
		}
	}
	return conn, nil
}

func applyDSCP(conn *net.UDPConn, dscp int) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("не удалось получить системный сокет: %w", err)
	}

	var sockOptErr error
	err = rawConn.Control(func(fd uintptr) {
		sockOptErr = setSockOptDSCP(fd, dscp)
	})
	if err != nil {
		return fmt.Errorf("ошибка управления сокетом: %w", err)
	}
	return sockOptErr
}

func (s *StreamSink) send(kind graph.MediaKind, buf *graph.Buffer) error {
	s.mu.Lock()
	conn := s.conns[kind]
	if s.failed || conn == nil {
		s.mu.Unlock()
		return graph.ErrFlushing
	}
	if s.eos[kind] {
		s.mu.Unlock()
		return graph.ErrEOS
	}
	s.mu.Unlock()

	if buf.Packet == nil {
		return nil
	}
	data, err := buf.Packet.Marshal()
	if err == nil {
		_, err = conn.Write(data)
	}
	if err != nil {
		return s.fail(kind, err)
	}

	s.packets.Add(1)
	s.bytes.Add(uint64(len(data)))
	return nil
}

func (s *StreamSink) fail(kind graph.MediaKind, err error) error {
	err = fmt.Errorf("отправка %s: %w", kind, err)

	s.mu.Lock()
	first := !s.failed
	s.failed = true
	host := s.host
	s.mu.Unlock()

	if first {
		s.logger.Error("Ошибка отправки", slog.String("error", err.Error()))
		host.Post(graph.NewErrorMessage(s.name, err))
	}
	return err
}

func (s *StreamSink) event(kind graph.MediaKind, ev graph.Event) error {
	if !ev.IsEOS() {
		return nil
	}

	s.mu.Lock()
	if s.eos[kind] {
		s.mu.Unlock()
		return nil
	}
	s.eos[kind] = true
	done := len(s.eos) == len(graph.Kinds())
	host := s.host
	s.mu.Unlock()

	if done && host != nil {
		s.logger.Info("Отправка завершена", slog.Any("stats", s.Stats()))
		host.Post(graph.NewEOSMessage(s.name))
	}
	return nil
}

// Stop закрывает сокеты
func (s *StreamSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *StreamSink) closeLocked() error {
	var firstErr error
	for kind, conn := range s.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.conns, kind)
	}
	return firstErr
}

// Stats возвращает статистику отправки
func (s *StreamSink) Stats() StreamStats {
	return StreamStats{
		Packets: s.packets.Load(),
		Bytes:   s.bytes.Load(),
	}
}
