package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"odisea.app/cloud/internal/logger"
)

func logEntries(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Expected JSON log line, got %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestRequestLogger_WritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(newRequestLogger(logger.New(&buf, logger.INFO)))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	entries := logEntries(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log line, got %d", len(entries))
	}
	entry := entries[0]
	if entry["message"] != "HTTP request" {
		t.Errorf("Expected message HTTP request, got %v", entry["message"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("Expected level INFO, got %v", entry["level"])
	}
	if entry["method"] != "GET" || entry["path"] != "/health" {
		t.Errorf("Unexpected method/path %v %v", entry["method"], entry["path"])
	}
	if entry["status"] != float64(http.StatusCreated) {
		t.Errorf("Expected status 201, got %v", entry["status"])
	}
	if entry["bytes"] != float64(2) {
		t.Errorf("Expected 2 bytes, got %v", entry["bytes"])
	}
	if id, _ := entry["request_id"].(string); id == "" {
		t.Error("Expected request_id to be logged")
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("Expected duration_ms to be logged")
	}
}

func TestRequestLogger_Panic(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(newRequestLogger(logger.New(&buf, logger.INFO)))
	r.Use(middleware.Recoverer)
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}

	var sawPanic, sawRequest bool
	for _, entry := range logEntries(t, &buf) {
		switch entry["message"] {
		case "HTTP handler panic":
			sawPanic = entry["panic"] == "boom" && entry["level"] == "ERROR"
		case "HTTP request":
			sawRequest = entry["status"] == float64(http.StatusInternalServerError) && entry["level"] == "ERROR"
		}
	}
	if !sawPanic {
		t.Errorf("Expected an ERROR panic line, got %s", buf.String())
	}
	if !sawRequest {
		t.Errorf("Expected an ERROR request line with status 500, got %s", buf.String())
	}
}
