package graph

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Splitter дублирует входной поток одного вида медиа на произвольное
// количество выходных соединений.
//
// Ошибка одного соединения не влияет на остальные и не возвращается вверх
// по графу: поток продолжает идти, даже если ни одно соединение не связано.
type Splitter struct {
	name   string
	kind   MediaKind
	logger *slog.Logger

	mu     sync.RWMutex
	conns  []*Connection // copy-on-write
	nextID uint64

	buffersIn atomic.Uint64
}

// SplitterStats статистика сплиттера
type SplitterStats struct {
	BuffersIn   uint64
	Connections int
}

// NewSplitter создает сплиттер для вида медиа
func NewSplitter(name string, kind MediaKind, logger *slog.Logger) *Splitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Splitter{
		name:   name,
		kind:   kind,
		logger: logger.With(slog.String("splitter", name)),
	}
}

func (s *Splitter) Name() string    { return s.name }
func (s *Splitter) Kind() MediaKind { return s.kind }

// Chain дублирует буфер во все связанные соединения.
// Каждое соединение получает собственную копию.
func (s *Splitter) Chain(buf *Buffer) error {
	s.buffersIn.Add(1)

	s.mu.RLock()
	conns := s.conns
	s.mu.RUnlock()

	for _, c := range conns {
		c.push(buf.Clone())
	}
	return nil
}

// SendEvent передает событие во все связанные соединения
func (s *Splitter) SendEvent(ev Event) error {
	s.mu.RLock()
	conns := s.conns
	s.mu.RUnlock()

	for _, c := range conns {
		c.pushEvent(ev)
	}
	return nil
}

// Link создает новое выходное соединение к порту peer
func (s *Splitter) Link(peer SinkPad) (*Connection, error) {
	if peer == nil {
		return nil, fmt.Errorf("сплиттер %s: порт не может быть nil: %w", s.name, ErrNotLinked)
	}
	if peer.Kind() != s.kind {
		return nil, fmt.Errorf("сплиттер %s (%s) -> %s (%s): %w",
			s.name, s.kind, peer.Name(), peer.Kind(), ErrKindMismatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conns {
		if c.peer == peer {
			return nil, fmt.Errorf("сплиттер %s -> %s: %w", s.name, peer.Name(), ErrAlreadyLinked)
		}
	}

	s.nextID++
	c := &Connection{
		id:       s.nextID,
		splitter: s,
		peer:     peer,
	}

	conns := make([]*Connection, 0, len(s.conns)+1)
	conns = append(conns, s.conns...)
	s.conns = append(conns, c)

	s.logger.Debug("Соединение создано",
		slog.Uint64("connection", c.id),
		slog.String("peer", peer.Name()))

	return c, nil
}

// Unlink удаляет соединение из сплиттера.
// После возврата соединение не получает новых данных.
func (s *Splitter) Unlink(c *Connection) error {
	s.mu.Lock()
	idx := -1
	for i, cur := range s.conns {
		if cur == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("сплиттер %s: соединение %d: %w", s.name, c.id, ErrNotLinked)
	}
	conns := make([]*Connection, 0, len(s.conns)-1)
	conns = append(conns, s.conns[:idx]...)
	s.conns = append(conns, s.conns[idx+1:]...)
	s.mu.Unlock()

	c.unlinked.Store(true)

	s.logger.Debug("Соединение удалено", slog.Uint64("connection", c.id))
	return nil
}

// Connections возвращает количество связанных соединений
func (s *Splitter) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// IsLinked проверяет, связан ли порт с этим сплиттером
func (s *Splitter) IsLinked(peer SinkPad) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conns {
		if c.peer == peer {
			return true
		}
	}
	return false
}

// Stats возвращает статистику сплиттера
func (s *Splitter) Stats() SplitterStats {
	return SplitterStats{
		BuffersIn:   s.buffersIn.Load(),
		Connections: s.Connections(),
	}
}

// Connection одно выходное соединение сплиттера.
//
// Соединение имеет собственную точку перехвата: Block приостанавливает
// передачу данных только по этому соединению, не затрагивая остальные
// соединения того же сплиттера.
type Connection struct {
	id       uint64
	splitter *Splitter
	peer     SinkPad

	// mu удерживается на время передачи данных в peer, поэтому захват mu
	// означает, что по соединению ничего не передается. Ждать mu можно
	// только на горутине точки перехвата, но не на вызывающей.
	mu      sync.Mutex
	eosSent bool // EOS по соединению передается не более одного раза

	// blocked устанавливается под mu, читается без него
	blocked  atomic.Bool
	unlinked atomic.Bool

	blockRequested atomic.Bool

	sent    atomic.Uint64
	dropped atomic.Uint64
	errors  atomic.Uint64
}

// ConnectionStats статистика соединения
type ConnectionStats struct {
	Sent    uint64
	Dropped uint64
	Errors  uint64
}

func (c *Connection) ID() uint64          { return c.id }
func (c *Connection) Peer() SinkPad       { return c.peer }
func (c *Connection) Splitter() *Splitter { return c.splitter }

// Stats возвращает статистику соединения
func (c *Connection) Stats() ConnectionStats {
	return ConnectionStats{
		Sent:    c.sent.Load(),
		Dropped: c.dropped.Load(),
		Errors:  c.errors.Load(),
	}
}

// Block устанавливает блокирующую точку перехвата.
//
// Установка асинхронна: отдельная горутина дожидается завершения передачи,
// находящейся в пути по этому соединению, после чего соединение перестает
// передавать данные и вызывается onBlocked. Пока точка установлена, буферы
// этого соединения отбрасываются, события передаются только через PushEvent.
// Block не ждет передачу, находящуюся в пути, и возвращается сразу.
func (c *Connection) Block(onBlocked func(*Connection)) error {
	if c.unlinked.Load() {
		return ErrNotLinked
	}
	if !c.blockRequested.CompareAndSwap(false, true) {
		return ErrBlocked
	}

	go func() {
		c.mu.Lock()
		c.blocked.Store(true)
		c.mu.Unlock()

		if onBlocked != nil {
			onBlocked(c)
		}
	}()
	return nil
}

// PushEvent передает событие в peer в обход точки перехвата.
// Используется для синтеза EOS перед отсоединением. Если EOS по соединению
// уже прошел от источника, повторный EOS не передается.
func (c *Connection) PushEvent(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unlinked.Load() {
		return ErrNotLinked
	}
	return c.sendEventLocked(ev)
}

func (c *Connection) sendEventLocked(ev Event) error {
	if ev.IsEOS() {
		if c.eosSent {
			return nil
		}
		c.eosSent = true
	}
	return c.peer.SendEvent(ev)
}

// Release снимает точку перехвата
func (c *Connection) Release() {
	c.blocked.Store(false)
	c.blockRequested.Store(false)
}

// IsBlocked проверяет, установлена ли точка перехвата
func (c *Connection) IsBlocked() bool {
	return c.blocked.Load()
}

func (c *Connection) push(buf *Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.blocked.Load() || c.unlinked.Load() {
		c.dropped.Add(1)
		return
	}

	if err := c.peer.Chain(buf); err != nil {
		if c.errors.Add(1) == 1 {
			c.splitter.logger.Warn("Ошибка передачи в соединение",
				slog.Uint64("connection", c.id),
				slog.String("peer", c.peer.Name()),
				slog.String("error", err.Error()))
		}
		return
	}
	c.sent.Add(1)
}

func (c *Connection) pushEvent(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.blocked.Load() || c.unlinked.Load() {
		return
	}
	if err := c.sendEventLocked(ev); err != nil {
		c.errors.Add(1)
	}
}
