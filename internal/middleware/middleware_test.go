package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"wgmgr/internal/models"
)

func testLogger() (*logrus.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})
	return l, &buf
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated", "", false},
		{"kept", "abc-123", true},
		{"unsafe replaced", "bad id\nwith newline", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set("X-Request-Id", tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if seen == "" || rec.Header().Get("X-Request-Id") != seen {
				t.Errorf("reqid = %q, header = %q", seen, rec.Header().Get("X-Request-Id"))
			}
			if got := seen == tt.incoming; got != tt.keep {
				t.Errorf("kept incoming = %v, want %v", got, tt.keep)
			}
		})
	}
}

func TestLog(t *testing.T) {
	log, buf := testLogger()
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		Log(log, r).Error("failed")
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/keys", nil)
	req.Header.Set(HeaderRequestID, "req-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line %q: %v", buf.String(), err)
	}
	for k, want := range map[string]string{"reqid": "req-7", "method": "POST", "path": "/api/v1/keys", "msg": "failed"} {
		if entry[k] != want {
			t.Errorf("field %s = %v, want %q", k, entry[k], want)
		}
	}

	// вне RequestID поля reqid нет
	buf.Reset()
	Log(log, httptest.NewRequest(http.MethodGet, "/", nil)).Info("x")
	if strings.Contains(buf.String(), "reqid") {
		t.Errorf("unexpected reqid: %s", buf.String())
	}
}

func TestRecoverer(t *testing.T) {
	log, buf := testLogger()
	h := RequestID(Recoverer(log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var p models.Problem
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Status != http.StatusInternalServerError || !strings.Contains(rec.Header().Get("Content-Type"), "problem+json") {
		t.Errorf("problem = %+v", p)
	}
	if !strings.Contains(buf.String(), "panic: boom") {
		t.Errorf("log = %s", buf.String())
	}
}

func TestAccessLog(t *testing.T) {
	log, buf := testLogger()
	h := AccessLog(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hi"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/keys", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not json: %v\n%s", err, buf.String())
	}
	if entry["status"] != float64(http.StatusTeapot) || entry["bytes"] != float64(2) || entry["method"] != "POST" {
		t.Errorf("entry = %v", entry)
	}
}
