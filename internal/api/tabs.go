package api

import (
	"net/http"
	"strings"

	"github.com/duckbench/duckbench/internal/query"
	"github.com/duckbench/duckbench/internal/workbench"
)

type resultPayload struct {
	Schema             []query.ColumnDescriptor `json:"schema"`
	Rows               [][]any                  `json:"rows"`
	RowCount           int64                    `json:"row_count"`
	RowCountIsEstimate bool                     `json:"row_count_is_estimate"`
	DurationMillis     int64                    `json:"duration_ms"`
}

func toResultPayload(result query.Result) resultPayload {
	rows := result.Rows
	if rows == nil {
		rows = [][]any{}
	}
	return resultPayload{
		Schema:             result.Schema,
		Rows:               rows,
		RowCount:           result.RowCount,
		RowCountIsEstimate: result.RowCountIsEstimate,
		DurationMillis:     result.Duration.Milliseconds(),
	}
}

type tabPayload struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func toTabPayload(tab *workbench.Tab) tabPayload {
	return tabPayload{ID: tab.ID, State: string(tab.Adapter.State())}
}

func handleListTabs(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	tabs := deps.Workbench.Tabs()
	payload := make([]tabPayload, 0, len(tabs))
	for _, tab := range tabs {
		payload = append(payload, toTabPayload(tab))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tabs": payload})
}

func handleOpenTab(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var body struct {
		BaseSQL  string `json:"base_sql"`
		SourceID string `json:"source_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", err.Error(), false, nil)
		return
	}
	hasSQL := strings.TrimSpace(body.BaseSQL) != ""
	hasSource := strings.TrimSpace(body.SourceID) != ""
	if hasSQL == hasSource {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "exactly one of base_sql or source_id is required", false, nil)
		return
	}

	var tab *workbench.Tab
	var err error
	if hasSQL {
		tab, err = deps.Workbench.OpenTab(r.Context(), body.BaseSQL)
	} else {
		tab, err = deps.Workbench.OpenSourceTab(r.Context(), body.SourceID)
	}
	if err != nil {
		writeQueryError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTabPayload(tab))
}

func handleGetTab(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	tab, ok := deps.Workbench.Tab(r.PathValue("tab"))
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "TAB_NOT_FOUND", "tab not found", false, nil)
		return
	}
	payload := map[string]any{
		"id":     tab.ID,
		"state":  string(tab.Adapter.State()),
		"schema": tab.Adapter.CurrentSchema(),
	}
	if sort := tab.Adapter.Sort(); sort != nil {
		payload["sort"] = map[string]any{"column": sort.Column, "direction": string(sort.Direction)}
	}
	if result, ok := tab.Adapter.CurrentResult(); ok {
		payload["result"] = toResultPayload(result)
	}
	writeJSON(w, http.StatusOK, payload)
}

func handleCloseTab(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := deps.Workbench.CloseTab(r.PathValue("tab")); err != nil {
		writeQueryError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "closed"})
}

func handleCloseAllTabs(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	deps.Workbench.CloseAllTabs()
	writeJSON(w, http.StatusOK, map[string]any{"status": "closed"})
}

func handleSetTabQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var body struct {
		BaseSQL string `json:"base_sql"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", err.Error(), false, nil)
		return
	}
	if strings.TrimSpace(body.BaseSQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "base_sql is required", false, nil)
		return
	}
	if err := deps.Workbench.SetTabQuery(r.PathValue("tab"), body.BaseSQL); err != nil {
		writeQueryError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
}

func handleTabRows(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var body struct {
		Page *int `json:"page"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", err.Error(), false, nil)
		return
	}
	if body.Page != nil && *body.Page < 1 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "page must be >= 1", false, nil)
		return
	}
	result, err := deps.Workbench.Query(r.Context(), r.PathValue("tab"), body.Page)
	if err != nil {
		writeQueryError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultPayload(result))
}

func handleTabSort(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var body struct {
		Column string `json:"column"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", err.Error(), false, nil)
		return
	}
	if strings.TrimSpace(body.Column) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "column is required", false, nil)
		return
	}
	result, err := deps.Workbench.Sort(r.Context(), r.PathValue("tab"), body.Column)
	if err != nil {
		writeQueryError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultPayload(result))
}

func handleTabSummary(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var body struct {
		Column string `json:"column"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", err.Error(), false, nil)
		return
	}
	if strings.TrimSpace(body.Column) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "column is required", false, nil)
		return
	}
	summary, err := deps.Workbench.Summary(r.Context(), r.PathValue("tab"), body.Column)
	if err != nil {
		writeQueryError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func handleTabCancel(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := deps.Workbench.CancelQuery(r.PathValue("tab")); err != nil {
		writeQueryError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "cancel_requested"})
}
