package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"odisea.app/cloud/internal/logger"
)

// requestLogFormatter writes one structured line per request through the
// service logger instead of chi's plain-text default.
type requestLogFormatter struct {
	log *logger.Logger
}

func newRequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return middleware.RequestLogger(&requestLogFormatter{log: log})
}

func (f *requestLogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &requestLogEntry{
		log: f.log,
		fields: map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote_addr": r.RemoteAddr,
			"request_id":  middleware.GetReqID(r.Context()),
		},
	}
}

type requestLogEntry struct {
	log    *logger.Logger
	fields map[string]interface{}
}

func (e *requestLogEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
	fields := map[string]interface{}{
		"status":      status,
		"bytes":       bytes,
		"duration_ms": elapsed.Milliseconds(),
	}
	if status >= http.StatusInternalServerError {
		e.log.Error("HTTP request", e.fields, fields)
		return
	}
	e.log.Info("HTTP request", e.fields, fields)
}

func (e *requestLogEntry) Panic(v interface{}, stack []byte) {
	e.log.Error("HTTP handler panic", e.fields, map[string]interface{}{
		"panic": fmt.Sprint(v),
		"stack": string(stack),
	})
}
