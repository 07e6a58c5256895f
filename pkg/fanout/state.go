package fanout

import (
	"context"

	"github.com/looplab/fsm"
)

// BranchState состояние жизненного цикла ветки
type BranchState int

const (
	StateDetached  BranchState = iota // Ветка не подключена
	StateAttaching                    // Идет подключение к сплиттерам
	StateActive                       // Ветка получает медиа
	StateDetaching                    // Соединения останавливаются
	StateQuiescent                    // Оба соединения отсоединены, ожидается удаление
	StateRemoved                      // Ветка удалена, запись больше не используется
)

func (s BranchState) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateAttaching:
		return "attaching"
	case StateActive:
		return "active"
	case StateDetaching:
		return "detaching"
	case StateQuiescent:
		return "quiescent"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// События автомата ветки
const (
	eventAttach   = "attach"
	eventActivate = "activate"
	eventRollback = "rollback"
	eventDetach   = "detach"
	eventQuiesce  = "quiesce"
	eventRemove   = "remove"
)

func parseBranchState(state string) BranchState {
	switch state {
	case "detached":
		return StateDetached
	case "attaching":
		return StateAttaching
	case "active":
		return StateActive
	case "detaching":
		return StateDetaching
	case "quiescent":
		return StateQuiescent
	case "removed":
		return StateRemoved
	default:
		return StateDetached
	}
}

// StateChange уведомление о смене состояния ветки
type StateChange struct {
	BranchID string
	Branch   string
	From     BranchState
	To       BranchState
}

// newBranchFSM создает автомат ветки. Переходы не пропускают состояний,
// removed конечное.
func newBranchFSM(onChange func(from, to BranchState)) *fsm.FSM {
	return fsm.NewFSM(
		StateDetached.String(),
		fsm.Events{
			{Name: eventAttach, Src: []string{StateDetached.String()}, Dst: StateAttaching.String()},
			{Name: eventActivate, Src: []string{StateAttaching.String()}, Dst: StateActive.String()},
			// Откат при неудачном подключении
			{Name: eventRollback, Src: []string{StateAttaching.String()}, Dst: StateDetached.String()},
			{Name: eventDetach, Src: []string{StateActive.String()}, Dst: StateDetaching.String()},
			{Name: eventQuiesce, Src: []string{StateDetaching.String()}, Dst: StateQuiescent.String()},
			{Name: eventRemove, Src: []string{StateQuiescent.String()}, Dst: StateRemoved.String()},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onChange(parseBranchState(e.Src), parseBranchState(e.Dst))
			},
		},
	)
}
