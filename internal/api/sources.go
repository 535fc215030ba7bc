package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/duckbench/duckbench/internal/registry"
)

type sourcePayload struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

func toSourcePayload(record registry.Record) sourcePayload {
	kind := "unknown"
	switch record.Spec.(type) {
	case registry.ParquetDatasetSpec:
		kind = "parquet"
	case registry.PostgresTableSpec:
		kind = "postgres"
	case registry.TabResultSpec:
		kind = "tab"
	}
	return sourcePayload{
		ID:        record.ID,
		Name:      record.Name,
		Version:   record.Version,
		Kind:      kind,
		CreatedAt: record.CreatedAt,
	}
}

func handleListSources(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	records := deps.Workbench.Sources()
	payload := make([]sourcePayload, 0, len(records))
	for _, record := range records {
		payload = append(payload, toSourcePayload(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": payload})
}

func handleAttachParquet(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name       string   `json:"name"`
		ObjectKeys []string `json:"object_keys"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", err.Error(), false, nil)
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "name is required", false, nil)
		return
	}
	if len(body.ObjectKeys) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "object_keys is required", false, nil)
		return
	}
	record, err := deps.Workbench.AttachParquetDataset(r.Context(), body.Name, body.ObjectKeys)
	if err != nil {
		writeQueryError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSourcePayload(record))
}

func handleAttachPostgres(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   string `json:"name"`
		DSN    string `json:"dsn"`
		Schema string `json:"schema"`
		Table  string `json:"table"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", err.Error(), false, nil)
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "name is required", false, nil)
		return
	}
	record, err := deps.Workbench.AttachPostgresTable(body.Name, body.DSN, body.Schema, body.Table)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusCreated, toSourcePayload(record))
}

func handleSourceMetadata(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	snapshot, err := deps.Workbench.ResolveMetadata(r.Context(), r.PathValue("source"))
	if err != nil {
		writeQueryError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"columns":               snapshot.Columns,
		"row_count":             snapshot.RowCount,
		"row_count_is_estimate": snapshot.RowCountIsEstimate,
	})
}

func handleRefreshSource(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	record, err := deps.Workbench.RefreshSource(r.PathValue("source"))
	if err != nil {
		writeQueryError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSourcePayload(record))
}

func handleDetachSource(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := deps.Workbench.DetachSource(r.Context(), r.PathValue("source")); err != nil {
		writeQueryError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "detached"})
}
