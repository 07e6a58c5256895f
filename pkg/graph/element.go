package graph

import (
	"context"
	"log/slog"
	"time"
)

// Element узел графа.
//
// Ветка публикации - это Element, у которого SinkPad(KindAudio) и
// SinkPad(KindVideo) возвращают входные порты. Ветка обязана принять EOS в
// любой момент как запрос завершить работу и освободить ресурсы, и не должна
// предполагать фиксированное время старта: PTS отсчитываются от BaseTime хоста.
//
// Элементы сравниваются по идентичности, поэтому реализации должны быть
// указателями.
type Element interface {
	Name() string

	// SinkPad возвращает входной порт для вида медиа или nil
	SinkPad(kind MediaKind) SinkPad

	// Start переводит элемент в рабочее состояние внутри хоста.
	// Рабочие горутины запускаются через host.Go.
	Start(ctx context.Context, host Host) error

	// Stop полностью останавливает элемент и детерминированно
	// освобождает его ресурсы (файлы, сокеты)
	Stop() error
}

// Host контекст, в котором работает элемент: домен исполнения или
// контейнер, владеющий элементом
type Host interface {
	Name() string

	// BaseTime опорное время, от которого отсчитываются PTS
	BaseTime() time.Time

	// Post публикует сообщение на шину хоста. Не блокирует.
	Post(msg Message)

	// Go запускает рабочую горутину, время жизни которой ограничено хостом
	Go(fn func(ctx context.Context))

	Logger() *slog.Logger
}

// EventSource реализуется элементами, которые сами сообщают о терминальных
// исходах ветки (например, изолятор)
type EventSource interface {
	// Subscribe регистрирует обработчик событий ветки и возвращает функцию
	// отписки. Обработчик вызывается асинхронно, не из потока данных.
	Subscribe(handler func(BranchEvent)) (cancel func())
}

// BranchEvent закрытое множество событий ветки: BranchError и BranchFinished
type BranchEvent interface {
	BranchName() string
	isBranchEvent()
}

// BranchError неустранимая ошибка внутри ветки
type BranchError struct {
	Branch  string
	Message string
}

func (e BranchError) BranchName() string { return e.Branch }
func (BranchError) isBranchEvent()       {}

// BranchFinished ветка штатно обработала конец потока
type BranchFinished struct {
	Branch string
}

func (e BranchFinished) BranchName() string { return e.Branch }
func (BranchFinished) isBranchEvent()       {}

// ValidateBranch проверяет контракт ветки: два входных порта нужных видов
func ValidateBranch(el Element) error {
	if el == nil {
		return NewGraphError(ErrorCodeElementInvalid, "", "элемент не может быть nil")
	}
	for _, kind := range Kinds() {
		pad := el.SinkPad(kind)
		if pad == nil {
			return NewGraphError(ErrorCodeElementMissingPad, el.Name(),
				"отсутствует порт %s", kind.PadName())
		}
		if pad.Kind() != kind {
			return WrapGraphError(ErrorCodeElementMissingPad, el.Name(), ErrKindMismatch,
				"порт %s имеет вид %s", pad.Name(), pad.Kind())
		}
	}
	return nil
}
