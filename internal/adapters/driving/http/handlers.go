package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driving"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse represents a simple status response
type StatusResponse struct {
	Status string `json:"status"`
}

// VersionResponse represents the API version response
type VersionResponse struct {
	Version string `json:"version"`
}

// ReadyResponse reports readiness with the outcome of each dependency check
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

const readyCheckTimeout = 5 * time.Second

// Health endpoints

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady pings every registered dependency. Any failure makes the
// instance unready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	resp := ReadyResponse{Status: "ready"}
	status := http.StatusOK
	for name, p := range s.checks {
		if p == nil {
			continue
		}
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(s.checks))
		}
		if err := p.Ping(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

// Pool endpoints

type expandRequest struct {
	Paths []string `json:"paths"`
}

type expandResponse struct {
	Files []string `json:"files"`
}

type uploadResponse struct {
	Path string `json:"path"`
}

func (s *Server) handleListPool(w http.ResponseWriter, r *http.Request) {
	listing, err := s.poolService.List(r.Context())
	if err != nil {
		writeServiceError(w, err, "failed to list pool")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// handleExpandPool resolves files and folders into the sorted set of files
// a turn with that scope would search.
func (s *Server) handleExpandPool(w http.ResponseWriter, r *http.Request) {
	var req expandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	files, err := s.poolService.Expand(r.Context(), req.Paths)
	if err != nil {
		writeServiceError(w, err, "failed to expand paths")
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, expandResponse{Files: files})
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20) // Room for multipart framing
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > s.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	path, err := s.poolService.Upload(r.Context(), data, header.Filename)
	if err != nil {
		writeServiceError(w, err, "failed to save upload")
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{Path: path})
}

// Search endpoints

type searchRequest struct {
	Query         string            `json:"query"`
	TopK          int               `json:"top_k,omitempty"`
	Scope         []string          `json:"scope,omitempty"`
	Credentials   map[string]string `json:"credentials,omitempty"`
	DocumentsOnly bool              `json:"documents_only,omitempty"`
}

// handleSearch searches the whole pool, or runs an isolated turn over the
// requested scope when one is given.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK < 0 {
		writeError(w, http.StatusBadRequest, "top_k must not be negative")
		return
	}

	if req.TopK == 0 {
		req.TopK = s.defaultTopK
	}

	var result *domain.SearchResult
	var err error
	if len(req.Scope) == 0 {
		result, err = s.poolSearch(r.Context(), req)
	} else {
		result, err = s.scopedSearch(r.Context(), req)
	}
	if err != nil {
		writeServiceError(w, err, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// poolSearch queries the whole-pool index. Credentials in the request apply
// to this search alone and replace the ambient ones.
func (s *Server) poolSearch(ctx context.Context, req searchRequest) (*domain.SearchResult, error) {
	if req.Credentials == nil {
		return s.retrievalService.Search(ctx, req.Query, req.TopK)
	}

	ctx, rc := domain.WithRequestContext(ctx, "pool-search")
	defer rc.Clear()
	if err := rc.SetCredentials(domain.NewCredentialSet(req.Credentials)); err != nil {
		return nil, err
	}
	return s.retrievalService.Search(ctx, req.Query, req.TopK)
}

func (s *Server) scopedSearch(ctx context.Context, req searchRequest) (*domain.SearchResult, error) {
	start := time.Now()
	opts := driving.TurnOptions{
		Scope:         req.Scope,
		DocumentsOnly: req.DocumentsOnly,
	}
	if req.Credentials != nil {
		opts.Credentials = domain.NewCredentialSet(req.Credentials)
	}

	result := &domain.SearchResult{Query: req.Query}
	err := s.turnService.Run(ctx, opts, func(turn *domain.TurnSession) error {
		result.Scope = turn.Scope().State()
		result.Chunks = s.turnService.SearchDocuments(turn.Context(), req.Query, req.TopK)
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Took = time.Since(start)
	return result, nil
}

// Index endpoints

func (s *Server) handleRebuildIndex(w http.ResponseWriter, r *http.Request) {
	if !s.rebuildLimiter.Allow() {
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusTooManyRequests, "rebuild requested too often")
		return
	}

	status, err := s.retrievalService.Rebuild(r.Context())
	if err != nil {
		writeServiceError(w, err, "rebuild failed")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.retrievalService.Status())
}

// Memory endpoints

type recentTurnsResponse struct {
	Turns []*domain.Turn `json:"turns"`
}

type recordExchangeRequest struct {
	Input    string `json:"input"`
	Output   string `json:"output"`
	Critique string `json:"critique,omitempty"`
}

func (s *Server) handleRecentTurns(w http.ResponseWriter, r *http.Request) {
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
		n = parsed
	}

	turns, err := s.memoryService.LoadRecent(r.Context(), n)
	if err != nil {
		writeServiceError(w, err, "failed to load conversation")
		return
	}
	if turns == nil {
		turns = []*domain.Turn{}
	}
	writeJSON(w, http.StatusOK, recentTurnsResponse{Turns: turns})
}

func (s *Server) handleRecordExchange(w http.ResponseWriter, r *http.Request) {
	var req recordExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Input == "" && req.Output == "" {
		writeError(w, http.StatusBadRequest, "input or output is required")
		return
	}

	if err := s.memoryService.RecordExchange(r.Context(), req.Input, req.Output, req.Critique); err != nil {
		writeServiceError(w, err, "failed to record exchange")
		return
	}
	writeJSON(w, http.StatusCreated, StatusResponse{Status: "recorded"})
}

// Trace endpoints

type extractToolsRequest struct {
	Records []map[string]any `json:"records"`
}

type extractToolsResponse struct {
	Tools []string `json:"tools"`
}

func (s *Server) handleExtractTools(w http.ResponseWriter, r *http.Request) {
	var req extractToolsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tools := domain.ExtractToolsUsed(domain.ParseTraceRecords(req.Records))
	if tools == nil {
		tools = []string{}
	}
	writeJSON(w, http.StatusOK, extractToolsResponse{Tools: tools})
}

// Helpers

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrCredentialMissing),
		errors.Is(err, domain.ErrInvalidProvider):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRebuildInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, domain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err's mapped status. Client errors carry the
// error text; server errors carry only fallback.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, fallback)
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
