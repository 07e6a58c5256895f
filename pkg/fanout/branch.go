package fanout

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/arzzra/live_publish/pkg/graph"
)

// branch запись о подключенной ветке. Принадлежит узлу целиком: узел
// единственный держит ссылку на граф ветки.
type branch struct {
	id      string
	element graph.Element
	machine *fsm.FSM

	conns       map[graph.MediaKind]*graph.Connection
	host        *branchHost
	started     bool
	unsubscribe func()

	attachedAt    time.Time
	detachStarted time.Time
	reason        string

	// pending количество соединений, еще не прошедших остановку
	pending atomic.Int32

	errorReported  atomic.Bool
	finishReported atomic.Bool
}

// BranchInfo снимок состояния ветки
type BranchInfo struct {
	ID         string
	Name       string
	State      BranchState
	AttachedAt time.Time
	Reason     string
}

func newBranch(el graph.Element) *branch {
	return &branch{
		id:      uuid.New().String(),
		element: el,
		conns:   make(map[graph.MediaKind]*graph.Connection, 2),
	}
}

func (b *branch) state() BranchState {
	return parseBranchState(b.machine.Current())
}

func (b *branch) info() BranchInfo {
	return BranchInfo{
		ID:         b.id,
		Name:       b.element.Name(),
		State:      b.state(),
		AttachedAt: b.attachedAt,
		Reason:     b.reason,
	}
}

// latch пропускает только первое терминальное событие каждого вида;
// завершение после ошибки не пропускается
func (b *branch) latch(ev graph.BranchEvent) bool {
	switch ev.(type) {
	case graph.BranchError:
		return b.errorReported.CompareAndSwap(false, true)
	case graph.BranchFinished:
		if b.errorReported.Load() {
			return false
		}
		return b.finishReported.CompareAndSwap(false, true)
	}
	return false
}

// branchHost хост для ветки внутри узла. Сообщения об ошибке и конце
// потока от ветки превращаются в события ветки и не попадают на шину
// общего графа; остальные сообщения передаются родителю.
type branchHost struct {
	parent graph.Host
	name   string
	onMsg  func(graph.Message)

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newBranchHost(ctx context.Context, parent graph.Host, name string, onMsg func(graph.Message)) *branchHost {
	// Ветки живут до собственного удаления, а не до отмены контекста
	// родителя: при остановке узел сам отключает их через EOS.
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &branchHost{
		parent: parent,
		name:   name,
		onMsg:  onMsg,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (h *branchHost) Name() string         { return h.parent.Name() + "/" + h.name }
func (h *branchHost) BaseTime() time.Time  { return h.parent.BaseTime() }
func (h *branchHost) Logger() *slog.Logger { return h.parent.Logger() }

func (h *branchHost) Post(msg graph.Message) {
	switch msg.Type {
	case graph.MessageError, graph.MessageEOS:
		h.onMsg(msg)
	default:
		h.parent.Post(msg)
	}
}

func (h *branchHost) Go(fn func(ctx context.Context)) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		fn(h.ctx)
	}()
}

// close отменяет рабочие горутины ветки и дожидается их завершения
func (h *branchHost) close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
}
