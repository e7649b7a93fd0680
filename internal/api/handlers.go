package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zoravur/tablegate/internal/catalog"
	"github.com/zoravur/tablegate/internal/codec"
	"github.com/zoravur/tablegate/internal/errors"
	"github.com/zoravur/tablegate/internal/gateway"
	"github.com/zoravur/tablegate/internal/logutil"
	"github.com/zoravur/tablegate/internal/notify"
	"github.com/zoravur/tablegate/internal/resource"
	"github.com/zoravur/tablegate/internal/write"
)

// Request options carried in the query string next to the identifier
// params.
const (
	optProjection = "projection"
	optSelection  = "selection"
	optArg        = "arg"
	optSort       = "sort"
)

type Handlers struct {
	gw     *gateway.Gateway
	codecs *codec.Registry
	hub    *notify.Hub
}

// identifier builds the resource identifier a request addresses. Every
// query string param except the request options becomes an identifier
// param.
func (h *Handlers) identifier(r *http.Request) resource.Identifier {
	params := url.Values{}
	for k, v := range r.URL.Query() {
		switch k {
		case optProjection, optSelection, optArg, optSort:
			continue
		}
		params[k] = v
	}
	if len(params) == 0 {
		params = nil
	}
	return resource.Identifier{
		Authority: h.gw.Router().Authority(),
		Table:     chi.URLParam(r, "table"),
		Key:       chi.URLParam(r, "key"),
		Params:    params,
	}
}

func (h *Handlers) route(r *http.Request) (resource.Routed, error) {
	return h.gw.Router().Route(h.identifier(r))
}

func args(q url.Values) []any {
	raw := q[optArg]
	if len(raw) == 0 {
		return nil
	}
	out := make([]any, len(raw))
	for i, a := range raw {
		out[i] = a
	}
	return out
}

func (h *Handlers) handleQuery(w http.ResponseWriter, r *http.Request) {
	routed, err := h.route(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	var projection []string
	if p := q.Get(optProjection); p != "" {
		projection = strings.Split(p, ",")
	}

	rows, err := h.gw.Query(r.Context(), routed.ID.String(), gateway.Query{
		Projection:    projection,
		Selection:     q.Get(optSelection),
		SelectionArgs: args(q),
		SortOrder:     q.Get(optSort),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		row, err := h.codecs.DecodeRow(routed.Table, rows.Row())
		if err != nil {
			writeError(w, r, err)
			return
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("X-Resource-Type", h.gw.Router().Type(routed))
	if routed.Mode == resource.SingleItem {
		if len(out) == 0 {
			writeError(w, r, errors.Newf(errors.ErrUnknownResource, "no row %s", routed.ID))
			return
		}
		writeJSON(w, http.StatusOK, out[0])
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) handleInsert(w http.ResponseWriter, r *http.Request) {
	routed, err := h.route(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body map[string]any
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	vals, err := h.values(routed.Table, body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := h.gw.Insert(r.Context(), routed.ID.String(), vals)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/resources/"+url.PathEscape(id.Table)+"/"+url.PathEscape(id.Key))
	writeJSON(w, http.StatusCreated, map[string]any{"uri": id.String(), "key": id.Key})
}

type updateRequest struct {
	Values    map[string]any `json:"values"`
	Selection string         `json:"selection,omitempty"`
	Args      []any          `json:"args,omitempty"`
}

func (h *Handlers) handleUpdate(w http.ResponseWriter, r *http.Request) {
	routed, err := h.route(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	vals, err := h.values(routed.Table, req.Values)
	if err != nil {
		writeError(w, r, err)
		return
	}

	n, err := h.gw.Update(r.Context(), routed.ID.String(), vals, req.Selection, normalizeAll(req.Args))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": n})
}

func (h *Handlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	routed, err := h.route(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	n, err := h.gw.Delete(r.Context(), routed.ID.String(), q.Get(optSelection), args(q))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": n})
}

type bulkRequest struct {
	Rows []map[string]any `json:"rows"`
}

func (h *Handlers) handleBulkInsert(w http.ResponseWriter, r *http.Request) {
	routed, err := h.route(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req bulkRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rows := make([]write.Values, len(req.Rows))
	for i, row := range req.Rows {
		if rows[i], err = h.values(routed.Table, row); err != nil {
			writeError(w, r, errors.Wrapf(err, "row %d", i))
			return
		}
	}

	n, err := h.gw.BulkInsert(r.Context(), routed.ID.String(), rows)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"count": n})
}

type batchRequest struct {
	Operations []gateway.Operation `json:"operations"`
}

// handleBatch accepts identifiers in operations either in full form
// (authority/table[/key]) or relative to the gateway authority
// (table[/key]).
func (h *Handlers) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	router := h.gw.Router()
	for i := range req.Operations {
		op := &req.Operations[i]
		if !strings.HasPrefix(op.URI, router.Authority()+"/") {
			op.URI = router.Authority() + "/" + strings.TrimPrefix(op.URI, "/")
		}
		routed, err := router.RouteString(op.URI)
		if err != nil {
			writeError(w, r, errors.Wrapf(err, "batch operation %d", i))
			return
		}
		if op.Values, err = h.values(routed.Table, op.Values); err != nil {
			writeError(w, r, errors.Wrapf(err, "batch operation %d", i))
			return
		}
		op.Args = normalizeAll(op.Args)
	}

	results, err := h.gw.ApplyBatch(r.Context(), req.Operations)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type tableView struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Type       string           `json:"type"`
	PrimaryKey string           `json:"primary_key"`
	AutoInc    bool             `json:"auto_increment,omitempty"`
	Columns    []catalog.Column `json:"columns"`
	Dependents []string         `json:"dependents,omitempty"`
	View       bool             `json:"view,omitempty"`
}

func (h *Handlers) handleCatalog(w http.ResponseWriter, r *http.Request) {
	router := h.gw.Router()
	out := []tableView{}
	for _, td := range h.gw.Catalog().Tables() {
		out = append(out, tableView{
			ID:         td.ID,
			Name:       td.Name,
			Type:       router.Type(resource.Routed{Table: td, Mode: resource.Collection}),
			PrimaryKey: td.PrimaryKey.Column,
			AutoInc:    td.PrimaryKey.AutoIncrement,
			Columns:    td.Columns,
			Dependents: td.Dependents,
			View:       td.View != "",
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// values encodes a JSON object into column values for td.
func (h *Handlers) values(td *catalog.TableDetails, body map[string]any) (write.Values, error) {
	enc, err := h.codecs.EncodeRow(td, body)
	if err != nil {
		return nil, err
	}
	out := make(write.Values, len(enc))
	for k, v := range enc {
		out[k] = normalize(v)
	}
	return out, nil
}

// normalize turns the json.Number values left by untyped columns into
// int64 or float64.
func normalize(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func normalizeAll(vs []any) []any {
	for i, v := range vs {
		vs[i] = normalize(v)
	}
	return vs
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errors.Coded(err, errors.ErrInvalidQuery, "invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error code to an HTTP status.
func statusFor(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrUnknownResource:
		return http.StatusNotFound
	case errors.ErrInvalidQuery:
		return http.StatusBadRequest
	case errors.ErrInsertFailed:
		return http.StatusUnprocessableEntity
	case errors.ErrWriteConflict, errors.ErrExpectedCountMismatch:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logutil.L(r.Context()).Error("request failed", zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(errors.MarshalJSON(err)))
}
