package models

import (
	"errors"
	"fmt"
)

// Классы ошибок жизненного цикла. Проверяются через errors.Is.
var (
	// ошибки вызывающей стороны, побочных эффектов не было
	ErrInvalidRequest = errors.New("invalid request")

	// рассинхрон состояния, побочных эффектов не было
	ErrAlreadyExists      = errors.New("already exists")
	ErrNoSuchInterface    = errors.New("no such interface")
	ErrNoSuchPeer         = errors.New("no such peer")
	ErrInterfaceNotActive = errors.New("interface not active")

	// внешний инструмент
	ErrToolUnavailable = errors.New("tool unavailable")
	ErrDriverError     = errors.New("driver error")

	// запись документа не удалась, предыдущая версия остаётся актуальной
	ErrPersistence = errors.New("persistence error")
)

// Wrap помечает err классом kind, сохраняя исходную причину в цепочке.
func Wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// Errorf — как fmt.Errorf, но с классом kind в начале цепочки.
func Errorf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
