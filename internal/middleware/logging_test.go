package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type countingObserver struct {
	method string
	status int
	calls  int
}

func (o *countingObserver) HTTPRequest(method string, status int) {
	o.method = method
	o.status = status
	o.calls++
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	obs := &countingObserver{}

	handler := RequestLogger(logger, obs)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	req := httptest.NewRequest("POST", "/login", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if obs.calls != 1 || obs.method != "POST" || obs.status != http.StatusUnauthorized {
		t.Errorf("observer = %+v", obs)
	}
	out := buf.String()
	for _, want := range []string{"level=WARN", "path=/login", "status=401", "remote=203.0.113.7"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestRequestLoggerNilObserver(t *testing.T) {
	handler := RequestLogger(slog.Default(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
