package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/roach88/pivot/internal/engine"
	"github.com/roach88/pivot/internal/essence"
	"github.com/roach88/pivot/internal/expr"
	"github.com/roach88/pivot/internal/store"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Error codes of failures outside query execution.
const (
	codeBadRequest = "BAD_REQUEST"
	codeNotFound   = "NOT_FOUND"
	codeSuperseded = "SUPERSEDED"
	codeInternal   = "INTERNAL"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type plywoodRequest struct {
	DataCube string `json:"dataCube"`
	// Expression is the JSON form of an expression, or its text.
	Expression json.RawMessage `json:"expression"`
	Timezone   string          `json:"timezone,omitempty"`
}

type queryRequest struct {
	View json.RawMessage `json:"view"`
	// Tile names the panel the result is for. A newer request for the
	// same tile supersedes an older one still running.
	Tile string `json:"tile,omitempty"`
}

type queryResponse struct {
	Query  string        `json:"query,omitempty"`
	Result *expr.Dataset `json:"result"`
}

type saveViewRequest struct {
	Title      string          `json:"title,omitempty"`
	Definition json.RawMessage `json:"definition"`
}

func (s *Server) handlePlywood(w http.ResponseWriter, r *http.Request) {
	var req plywoodRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DataCube == "" {
		writeError(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Message: "dataCube is required"})
		return
	}
	q, err := decodeExpression(req.Expression)
	if err != nil {
		writeError(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Message: err.Error()})
		return
	}

	ds, err := s.engine.Execute(r.Context(), req.DataCube, q, req.Timezone)
	if err != nil {
		s.writeQueryError(w, r, err, req.DataCube)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Result: ds})
}

func decodeExpression(raw json.RawMessage) (expr.Expression, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errors.New("expression is required")
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
		return expr.Parse(text)
	}
	return expr.Unmarshal(raw)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	def, err := essence.ParseViewDefinition(req.View)
	if err != nil {
		writeError(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Message: err.Error()})
		return
	}
	es, err := essence.FromViewDefinition(def, s.engine.Settings())
	if err != nil {
		writeError(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Message: err.Error()})
		return
	}

	tk := s.engine.Timekeeper(r.Context(), s.now())
	var q expr.Expression
	fetch := func(ctx context.Context) (*expr.Dataset, error) {
		var ds *expr.Dataset
		var err error
		q, ds, err = s.engine.ExecuteEssence(ctx, es, tk)
		return ds, err
	}

	var ds *expr.Dataset
	if req.Tile != "" {
		ds, err = s.fetcher.Fetch(r.Context(), req.Tile, fetch)
	} else {
		ds, err = fetch(r.Context())
	}
	switch {
	case errors.Is(err, engine.ErrSuperseded):
		writeError(w, http.StatusConflict, apiError{Code: codeSuperseded, Message: fmt.Sprintf("tile %q: %v", req.Tile, err)})
		return
	case err != nil:
		s.writeQueryError(w, r, err, def.DataCube)
		return
	}

	resp := queryResponse{Result: ds}
	if q != nil {
		resp.Query = expr.String(q)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Settings())
}

func (s *Server) handleSaveView(w http.ResponseWriter, r *http.Request) {
	var req saveViewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	def, err := essence.ParseViewDefinition(req.Definition)
	if err != nil {
		writeError(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Message: err.Error()})
		return
	}
	es, err := essence.FromViewDefinition(def, s.engine.Settings())
	if err != nil {
		writeError(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Message: err.Error()})
		return
	}

	// store the completed view, so equivalent definitions share an id
	normalized, err := json.Marshal(es.ToViewDefinition())
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	id, err := s.store.SaveView(r.Context(), def.DataCube, req.Title, normalized)
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleListViews(w http.ResponseWriter, r *http.Request) {
	views, err := s.store.ListViews(r.Context(), r.URL.Query().Get("dataCube"))
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	if views == nil {
		views = []store.View{}
	}
	writeJSON(w, http.StatusOK, map[string][]store.View{"views": views})
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	v, err := s.store.GetView(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, apiError{Code: codeNotFound, Message: err.Error()})
		return
	}
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Message: fmt.Sprintf("read body: %v", err)})
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Message: fmt.Sprintf("decode body: %v", err)})
		return false
	}
	return true
}

// statusFor maps a query error code to its HTTP status.
func statusFor(code engine.QueryErrorCode) int {
	switch code {
	case engine.ErrCodeInvalidQuery, engine.ErrCodeTooManySplits, engine.ErrCodeUnsupported:
		return http.StatusBadRequest
	case engine.ErrCodeQuotaExceeded:
		return http.StatusUnprocessableEntity
	case engine.ErrCodeCancelled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, err error, dataCube string) {
	qe := engine.AsQueryError(err, dataCube)
	if qe.Code == engine.ErrCodeExecutionFailed {
		slog.Error("query execution failed", "request_id", RequestID(r.Context()), "data_cube", dataCube, "error", err)
	}
	writeError(w, statusFor(qe.Code), qe)
}

func (s *Server) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("request failed", "request_id", RequestID(r.Context()), "error", err)
	writeError(w, http.StatusInternalServerError, apiError{Code: codeInternal, Message: err.Error()})
}

func writeError(w http.ResponseWriter, status int, body any) {
	writeJSON(w, status, map[string]any{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}
