// Package testsrc содержит синтетический живой источник аудио и видео.
// Источник формирует RTP пакеты с растущими номерами и метками времени и
// подает их в два входных порта, как это делает граф захвата и кодирования.
package testsrc

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/arzzra/live_publish/pkg/graph"
)

type stream struct {
	kind        graph.MediaKind
	payloadType uint8
	clockRate   uint32
	interval    time.Duration
	payloadSize int
	ssrc        uint32

	// Изменяются только горутиной потока
	seq       uint16
	timestamp uint32
	index     int64

	peer graph.SinkPad
	sent atomic.Uint64
	done atomic.Bool
}

// Source реализует graph.Element без входных портов
type Source struct {
	name    string
	config  *Config
	logger  *slog.Logger
	streams map[graph.MediaKind]*stream

	mu       sync.Mutex
	host     graph.Host
	started  bool
	finished atomic.Int32
}

// New создает источник
func New(name string, config *Config) (*Source, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("невалидная конфигурация источника: %w", err)
	}
	cfg := config.Copy()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	audioSSRC, err := ssrcOrRandom(cfg.AudioSSRC)
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации SSRC: %w", err)
	}
	videoSSRC, err := ssrcOrRandom(cfg.VideoSSRC)
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации SSRC: %w", err)
	}

	s := &Source{
		name:   name,
		config: cfg,
		logger: logger.With(slog.String("component", "testsrc"), slog.String("source", name)),
		streams: map[graph.MediaKind]*stream{
			graph.KindAudio: {
				kind:        graph.KindAudio,
				payloadType: cfg.AudioPayloadType,
				clockRate:   cfg.AudioClockRate,
				interval:    cfg.AudioInterval,
				payloadSize: cfg.AudioPayloadSize,
				ssrc:        audioSSRC,
			},
			graph.KindVideo: {
				kind:        graph.KindVideo,
				payloadType: cfg.VideoPayloadType,
				clockRate:   cfg.VideoClockRate,
				interval:    cfg.VideoInterval,
				payloadSize: cfg.VideoPayloadSize,
				ssrc:        videoSSRC,
			},
		},
	}
	return s, nil
}

// ssrcOrRandom генерирует случайный SSRC согласно RFC 3550 Appendix A.6
func ssrcOrRandom(ssrc uint32) (uint32, error) {
	if ssrc != 0 {
		return ssrc, nil
	}
	err := binary.Read(rand.Reader, binary.BigEndian, &ssrc)
	return ssrc, err
}

func (s *Source) Name() string { return s.name }

// SinkPad у источника нет входных портов
func (s *Source) SinkPad(graph.MediaKind) graph.SinkPad { return nil }

// Link направляет потоки источника в порты элемента, обычно в узел
// размножения
func (s *Source) Link(el graph.Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return graph.NewGraphError(graph.ErrorCodeElementAlreadyStarted, s.name, "источник уже запущен")
	}
	for kind, st := range s.streams {
		pad := el.SinkPad(kind)
		if pad == nil {
			return graph.NewGraphError(graph.ErrorCodeLinkFailed, s.name, "у %s нет порта %s", el.Name(), kind)
		}
		if pad.Kind() != kind {
			return graph.WrapGraphError(graph.ErrorCodeLinkFailed, s.name, graph.ErrKindMismatch, "порт %s", pad.Name())
		}
		st.peer = pad
	}
	return nil
}

// SSRC возвращает SSRC потока
func (s *Source) SSRC(kind graph.MediaKind) uint32 {
	if st, ok := s.streams[kind]; ok {
		return st.ssrc
	}
	return 0
}

// Sent возвращает количество отправленных пакетов вида kind
func (s *Source) Sent(kind graph.MediaKind) uint64 {
	if st, ok := s.streams[kind]; ok {
		return st.sent.Load()
	}
	return 0
}

// Start запускает по рабочей горутине на каждый поток
func (s *Source) Start(_ context.Context, host graph.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return graph.NewGraphError(graph.ErrorCodeElementAlreadyStarted, s.name, "источник уже запущен")
	}
	for kind, st := range s.streams {
		if st.peer == nil {
			return graph.NewGraphError(graph.ErrorCodeElementStartFailed, s.name, "поток %s не связан", kind)
		}
	}

	s.host = host
	s.started = true
	for _, kind := range graph.Kinds() {
		st := s.streams[kind]
		host.Go(func(ctx context.Context) {
			s.run(ctx, st)
		})
	}

	s.logger.Info("Источник запущен",
		slog.Uint64("audio_ssrc", uint64(s.streams[graph.KindAudio].ssrc)),
		slog.Uint64("video_ssrc", uint64(s.streams[graph.KindVideo].ssrc)),
		slog.Int("count", s.config.Count))
	return nil
}

// Stop рабочие горутины завершаются хостом до вызова Stop
func (s *Source) Stop() error {
	s.logger.Info("Источник остановлен",
		slog.Uint64("audio_sent", s.Sent(graph.KindAudio)),
		slog.Uint64("video_sent", s.Sent(graph.KindVideo)))
	return nil
}

func (s *Source) run(ctx context.Context, st *stream) {
	ticker := time.NewTicker(st.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := st.peer.Chain(s.next(st)); err != nil {
			failures++
			if failures == 1 {
				s.logger.Warn("Ошибка передачи пакета",
					slog.String("kind", st.kind.String()),
					slog.String("error", err.Error()))
			}
		}
		st.sent.Add(1)

		if s.config.Count > 0 && st.sent.Load() >= uint64(s.config.Count) {
			s.finish(st)
			return
		}
	}
}

func (s *Source) finish(st *stream) {
	if !st.done.CompareAndSwap(false, true) {
		return
	}
	if err := st.peer.SendEvent(graph.NewEOSEvent()); err != nil {
		s.logger.Warn("EOS не доставлен", slog.String("kind", st.kind.String()), slog.String("error", err.Error()))
	}
	if int(s.finished.Add(1)) == len(s.streams) {
		s.mu.Lock()
		host := s.host
		s.mu.Unlock()
		host.Post(graph.NewEOSMessage(s.name))
	}
}

// next формирует следующий пакет потока
func (s *Source) next(st *stream) *graph.Buffer {
	pts := time.Duration(st.index) * st.interval

	payload := make([]byte, st.payloadSize)
	for i := range payload {
		payload[i] = byte(int64(i) + st.index)
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    st.payloadType,
			SequenceNumber: st.seq,
			Timestamp:      st.timestamp,
			SSRC:           st.ssrc,
			// Один пакет на кадр: маркер ставится на каждом видео пакете
			Marker: st.kind == graph.KindVideo,
		},
		Payload: payload,
	}

	st.seq++
	st.timestamp += uint32(uint64(st.clockRate) * uint64(st.interval) / uint64(time.Second))
	st.index++

	return &graph.Buffer{
		Kind:     st.kind,
		Packet:   pkt,
		PTS:      pts,
		Duration: st.interval,
	}
}
