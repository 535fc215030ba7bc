// Package api exposes the workbench over HTTP. Handlers decode intents,
// forward them to the workbench service, and translate the query error
// taxonomy into stable response codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duckbench/duckbench/internal/config"
	"github.com/duckbench/duckbench/internal/observability"
	"github.com/duckbench/duckbench/internal/query"
	"github.com/duckbench/duckbench/internal/workbench"
)

type ReadinessCheck func(ctx context.Context) error

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Workbench         *workbench.Service
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/sources", func(w http.ResponseWriter, r *http.Request) {
		handleListSources(deps, w, r)
	})
	mux.HandleFunc("POST /v1/sources/parquet", func(w http.ResponseWriter, r *http.Request) {
		handleAttachParquet(deps, w, r)
	})
	mux.HandleFunc("POST /v1/sources/postgres", func(w http.ResponseWriter, r *http.Request) {
		handleAttachPostgres(deps, w, r)
	})
	mux.HandleFunc("GET /v1/sources/{source}/metadata", func(w http.ResponseWriter, r *http.Request) {
		handleSourceMetadata(deps, w, r)
	})
	mux.HandleFunc("POST /v1/sources/{source}/refresh", func(w http.ResponseWriter, r *http.Request) {
		handleRefreshSource(deps, w, r)
	})
	mux.HandleFunc("DELETE /v1/sources/{source}", func(w http.ResponseWriter, r *http.Request) {
		handleDetachSource(deps, w, r)
	})

	mux.HandleFunc("GET /v1/tabs", func(w http.ResponseWriter, r *http.Request) {
		handleListTabs(deps, w, r)
	})
	mux.HandleFunc("POST /v1/tabs", func(w http.ResponseWriter, r *http.Request) {
		handleOpenTab(deps, w, r)
	})
	mux.HandleFunc("DELETE /v1/tabs", func(w http.ResponseWriter, r *http.Request) {
		handleCloseAllTabs(deps, w, r)
	})
	mux.HandleFunc("GET /v1/tabs/{tab}", func(w http.ResponseWriter, r *http.Request) {
		handleGetTab(deps, w, r)
	})
	mux.HandleFunc("DELETE /v1/tabs/{tab}", func(w http.ResponseWriter, r *http.Request) {
		handleCloseTab(deps, w, r)
	})
	mux.HandleFunc("PUT /v1/tabs/{tab}/query", func(w http.ResponseWriter, r *http.Request) {
		handleSetTabQuery(deps, w, r)
	})
	mux.HandleFunc("POST /v1/tabs/{tab}/rows", func(w http.ResponseWriter, r *http.Request) {
		handleTabRows(deps, w, r)
	})
	mux.HandleFunc("POST /v1/tabs/{tab}/sort", func(w http.ResponseWriter, r *http.Request) {
		handleTabSort(deps, w, r)
	})
	mux.HandleFunc("POST /v1/tabs/{tab}/summary", func(w http.ResponseWriter, r *http.Request) {
		handleTabSummary(deps, w, r)
	})
	mux.HandleFunc("POST /v1/tabs/{tab}/cancel", func(w http.ResponseWriter, r *http.Request) {
		handleTabCancel(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

// writeQueryError maps the query error taxonomy onto response codes. Messages
// from QueryError are already sanitized by the adapter; everything else
// carries no statement text.
func writeQueryError(ctx context.Context, w http.ResponseWriter, err error) {
	var cancelled *query.CancelledOperation
	if errors.As(err, &cancelled) {
		switch cancelled.Reason {
		case query.CancelTimeout:
			writeError(ctx, w, http.StatusRequestTimeout, "QUERY_TIMEOUT", "query exceeded its time limit", true, nil)
		case query.CancelSuperseded:
			writeError(ctx, w, http.StatusConflict, "QUERY_SUPERSEDED", "query was superseded by a newer request", false, nil)
		default:
			writeError(ctx, w, http.StatusConflict, "QUERY_CANCELLED", "query was cancelled", false, nil)
		}
		return
	}
	var connErr *query.ConnectionError
	if errors.As(err, &connErr) {
		writeError(ctx, w, http.StatusServiceUnavailable, "CONNECTION_FAILED", connErr.Error(), true, nil)
		return
	}
	var queryErr *query.QueryError
	if errors.As(err, &queryErr) {
		writeError(ctx, w, http.StatusBadRequest, "QUERY_FAILED", queryErr.Message, false, nil)
		return
	}
	if errors.Is(err, workbench.ErrTabNotFound) {
		writeError(ctx, w, http.StatusNotFound, "TAB_NOT_FOUND", err.Error(), false, nil)
		return
	}
	if errors.Is(err, workbench.ErrSourceNotFound) {
		writeError(ctx, w, http.StatusNotFound, "SOURCE_NOT_FOUND", err.Error(), false, nil)
		return
	}
	writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", err.Error(), false, nil)
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
