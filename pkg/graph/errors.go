package graph

import (
	"errors"
	"fmt"
)

// Ошибки потока данных
var (
	ErrNotLinked     = errors.New("соединение не связано")
	ErrAlreadyLinked = errors.New("порт уже связан")
	ErrKindMismatch  = errors.New("вид медиа порта не совпадает")
	ErrFlushing      = errors.New("порт не принимает данные")
	ErrEOS           = errors.New("поток уже завершен")
	ErrBlocked       = errors.New("точка перехвата уже установлена")
)

// GraphErrorCode определяет категорию ошибки графа
type GraphErrorCode int

const (
	// Ошибки элементов
	ErrorCodeElementInvalid GraphErrorCode = iota + 2000
	ErrorCodeElementMissingPad
	ErrorCodeElementStartFailed
	ErrorCodeElementStopFailed
	ErrorCodeElementAlreadyStarted
	ErrorCodeElementNoChild

	// Ошибки соединений
	ErrorCodeLinkFailed
	ErrorCodeUnlinkFailed

	// Ошибки домена
	ErrorCodeDomainNotRunning
	ErrorCodeDomainAlreadyRunning
)

// String возвращает строковое представление кода ошибки
func (code GraphErrorCode) String() string {
	switch code {
	case ErrorCodeElementInvalid:
		return "ElementInvalid"
	case ErrorCodeElementMissingPad:
		return "ElementMissingPad"
	case ErrorCodeElementStartFailed:
		return "ElementStartFailed"
	case ErrorCodeElementStopFailed:
		return "ElementStopFailed"
	case ErrorCodeElementAlreadyStarted:
		return "ElementAlreadyStarted"
	case ErrorCodeElementNoChild:
		return "ElementNoChild"
	case ErrorCodeLinkFailed:
		return "LinkFailed"
	case ErrorCodeUnlinkFailed:
		return "UnlinkFailed"
	case ErrorCodeDomainNotRunning:
		return "DomainNotRunning"
	case ErrorCodeDomainAlreadyRunning:
		return "DomainAlreadyRunning"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// GraphError ошибка графа с кодом, именем элемента и обернутой причиной.
// Сравнение через errors.Is выполняется по коду.
type GraphError struct {
	Code    GraphErrorCode
	Element string
	Message string
	Wrapped error
}

func (e *GraphError) Error() string {
	msg := fmt.Sprintf("[граф:%s]", e.Code)
	if e.Element != "" {
		msg += " элемент " + e.Element + ":"
	}
	msg += " " + e.Message
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap возвращает обернутую ошибку
func (e *GraphError) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду
func (e *GraphError) Is(target error) bool {
	if t, ok := target.(*GraphError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewGraphError создает ошибку графа
func NewGraphError(code GraphErrorCode, element, format string, args ...interface{}) *GraphError {
	return &GraphError{
		Code:    code,
		Element: element,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapGraphError оборачивает ошибку в GraphError
func WrapGraphError(code GraphErrorCode, element string, err error, format string, args ...interface{}) *GraphError {
	return &GraphError{
		Code:    code,
		Element: element,
		Message: fmt.Sprintf(format, args...),
		Wrapped: err,
	}
}

// HasErrorCode проверяет, содержит ли цепочка ошибок GraphError с данным кодом
func HasErrorCode(err error, code GraphErrorCode) bool {
	return errors.Is(err, &GraphError{Code: code})
}
