package graph

// SinkPad входной порт элемента.
// Chain и SendEvent вызываются из рабочих горутин домена, которому
// принадлежит вызывающая сторона.
type SinkPad interface {
	Name() string
	Kind() MediaKind

	// Chain принимает буфер. Ошибка означает, что порт не смог обработать
	// данные; вызывающая сторона не передает ее дальше вверх по графу.
	Chain(buf *Buffer) error

	// SendEvent принимает событие потока в порядке относительно буферов
	SendEvent(ev Event) error
}

// FuncPad реализует SinkPad через функции обратного вызова
type FuncPad struct {
	name      string
	kind      MediaKind
	chainFunc func(*Buffer) error
	eventFunc func(Event) error
}

// NewFuncPad создает порт с заданными обработчиками.
// Пустой обработчик принимает данные без действий.
func NewFuncPad(name string, kind MediaKind, chain func(*Buffer) error, event func(Event) error) *FuncPad {
	return &FuncPad{
		name:      name,
		kind:      kind,
		chainFunc: chain,
		eventFunc: event,
	}
}

func (p *FuncPad) Name() string    { return p.name }
func (p *FuncPad) Kind() MediaKind { return p.kind }

func (p *FuncPad) Chain(buf *Buffer) error {
	if p.chainFunc == nil {
		return nil
	}
	return p.chainFunc(buf)
}

func (p *FuncPad) SendEvent(ev Event) error {
	if p.eventFunc == nil {
		return nil
	}
	return p.eventFunc(ev)
}
