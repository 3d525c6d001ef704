package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tant/service-center-backend/pkg/logger"
)

func TestLoggingCapturesStatusAndBytes(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf})

	handler := Logging(logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nothing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 passthrough, got %d", rec.Code)
	}
	out := buf.String()
	if !strings.Contains(out, `"status":404`) {
		t.Fatalf("completion log missing status: %s", out)
	}
	if !strings.Contains(out, `"bytes":7`) {
		t.Fatalf("completion log missing byte count: %s", out)
	}
}

func TestLoggingDefaultsImplicitStatusTo200(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf})

	handler := Logging(logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))

	if !strings.Contains(buf.String(), `"status":200`) {
		t.Fatalf("completion log missing default status: %s", buf.String())
	}
}
