// Package audit writes one structured log record per request, summarizing
// what was asked for and what was returned. The record accumulates detail
// as the request moves through the handlers.
package audit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the level audit entries are written at.
const Level = zerolog.InfoLevel

type contextKey struct{}

// Entry is the audit record of a single request. Handlers fill in the
// domain fields as they process the request; the middleware fills in the
// request fields and writes the record when the handler returns.
type Entry struct {
	RequestID string
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string

	TenantID       string
	Report         string
	Preset         string
	StoreID        int64
	WarehouseID    int64
	Rows           int
	SkippedTenants []string

	Error string
}

func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	request := zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent)
	ev.Dict("request", request)

	if e.RequestID != "" {
		ev.Str("requestID", e.RequestID)
	}

	report := NewOptionalEvent(zerolog.Dict()).
		Str("tenant", e.TenantID).
		Str("report", e.Report).
		Str("preset", e.Preset).
		Int("rows", e.Rows).
		Strs("skippedTenants", e.SkippedTenants)
	report.Set(ev, "report")

	warehouse := NewOptionalEvent(zerolog.Dict()).
		Int("storeID", int(e.StoreID)).
		Int("warehouseID", int(e.WarehouseID))
	warehouse.Set(ev, "warehouse")

	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}

// Begin populates the entry from the incoming request.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.SourceIP = r.RemoteAddr
	e.UserAgent = r.UserAgent()

	// default: handlers overwrite via the response writer wrapper
	e.Status = http.StatusOK
}

// End returns the function that writes the audit record. Deferred by the
// middleware so the record is written even when the handler panics.
func (e *Entry) End(ctx context.Context) func() {
	start := time.Now()

	return func() {
		log.Ctx(ctx).WithLevel(Level).
			EmbedObject(e).
			Dur("elapsed", time.Since(start)).
			Msg("audit")
	}
}

// Context returns a context holding an audit entry, creating one if the
// context has none, along with the entry itself.
func Context(ctx context.Context) (context.Context, *Entry) {
	if entry, ok := ctx.Value(contextKey{}).(*Entry); ok {
		return ctx, entry
	}

	entry := &Entry{RequestID: uuid.NewString()}
	return context.WithValue(ctx, contextKey{}, entry), entry
}

// Log returns the audit entry of the context, or a discarded entry when
// the middleware is not installed.
func Log(ctx context.Context) *Entry {
	if entry, ok := ctx.Value(contextKey{}).(*Entry); ok {
		return entry
	}
	return &Entry{}
}

type statusRecorder struct {
	http.ResponseWriter
	entry *Entry
}

func (w *statusRecorder) WriteHeader(status int) {
	w.entry.Status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware installs the audit entry on the request context and writes
// the record when the handler completes. Panics are recorded and
// re-raised.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			entry.Begin(r)

			end := entry.End(ctx)
			defer end()

			defer func() {
				if p := recover(); p != nil {
					msg := fmt.Sprintf("panic: %v", p)
					if entry.Error != "" {
						entry.Error = entry.Error + "; " + msg
					} else {
						entry.Error = msg
					}
					entry.Status = http.StatusInternalServerError
					panic(p)
				}
			}()

			next.ServeHTTP(&statusRecorder{ResponseWriter: w, entry: entry}, r.WithContext(ctx))
		})
	}
}
