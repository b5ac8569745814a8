package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// HeaderRequestID — заголовок, в котором id приходит и возвращается.
const HeaderRequestID = "X-Request-Id"

type requestIDKey struct{}

// чужой id принимаем, только если он не сломает строку лога
var requestIDRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// RequestID берёт id клиента или выдаёт uuid v4 и кладёт его в контекст и ответ.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if !requestIDRe.MatchString(id) {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func GetRequestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

// Log — логгер запроса: метод, путь и reqid уже в полях.
func Log(log logrus.FieldLogger, r *http.Request) logrus.FieldLogger {
	f := logrus.Fields{"method": r.Method, "path": r.URL.Path}
	if id := GetRequestID(r); id != "" {
		f["reqid"] = id
	}
	return log.WithFields(f)
}
