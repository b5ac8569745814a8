package models

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Problem представляет ответ об ошибке в стиле RFC 7807.
type Problem struct {
	Type     string      `json:"type,omitempty"`   // URL с описанием типа проблемы (можно оставить пустым)
	Title    string      `json:"title"`            // краткое название
	Status   int         `json:"status"`           // HTTP код
	Detail   string      `json:"detail,omitempty"` // подробности
	Instance string      `json:"instance,omitempty"`
	Extra    interface{} `json:"extra,omitempty"` // произвольные поля (map/struct)
}

func WriteProblem(w http.ResponseWriter, status int, title, detail string, extra any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Title:  title,
		Status: status,
		Detail: detail,
		Extra:  extra,
	})
}

// WriteError переводит класс ошибки в HTTP-статус.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	WriteProblem(w, status, http.StatusText(status), err.Error(), nil)
}

// StatusOf — соответствие классов ошибок HTTP-кодам.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrNoSuchInterface), errors.Is(err, ErrNoSuchPeer):
		return http.StatusNotFound
	case errors.Is(err, ErrInterfaceNotActive):
		return http.StatusConflict
	case errors.Is(err, ErrToolUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrDriverError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
