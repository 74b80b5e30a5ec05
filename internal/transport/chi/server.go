package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/deepfield-io/zoomdex/internal/domain"
	"github.com/deepfield-io/zoomdex/internal/domain/build"
	domquery "github.com/deepfield-io/zoomdex/internal/domain/query"
	"github.com/deepfield-io/zoomdex/internal/domain/region"
	healthuc "github.com/deepfield-io/zoomdex/internal/usecase/health"
)

// Error kinds of the {kind, message} JSON error body.
const (
	kindInvalidInput       = "invalid_input"
	kindUnauthorized       = "unauthorized"
	kindNotFound           = "not_found"
	kindNotReady           = "not_ready"
	kindAlreadyIndexing    = "already_indexing"
	kindBudgetExceeded     = "budget_exceeded"
	kindEncoderUnavailable = "encoder_unavailable"
	kindInternal           = "internal"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server exposes the dataset, index, and query operations over HTTP.
type Server struct {
	datasets      datasets
	pixels        pixels
	search        searcher
	detect        detector
	classify      classifier
	indexes       indexer
	health        checker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	ds datasets,
	pix pixels,
	search searcher,
	detect detector,
	classify classifier,
	indexes indexer,
	health checker,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		datasets: ds,
		pixels:   pix,
		search:   search,
		detect:   detect,
		classify: classify,
		indexes:  indexes,
		health:   health,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		clientGoneHandler,
		notReadyHandler,
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, kindNotFound),
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, kindInvalidInput),
		sentinelHandler(domain.ErrAlreadyIndexing, http.StatusConflict, kindAlreadyIndexing),
		sentinelHandler(domain.ErrBudgetExceeded, http.StatusPaymentRequired, kindBudgetExceeded),
		sentinelHandler(domain.ErrEncoderUnavailable, http.StatusBadGateway, kindEncoderUnavailable),
	}
	return s
}

// Mount registers all routes on the router.
func (s *Server) Mount(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Route("/v1/datasets", func(r chi.Router) {
		r.Get("/", s.ListDatasets)
		r.Route("/{dataset}", func(r chi.Router) {
			r.Get("/", s.GetDataset)
			r.Post("/index", s.BuildIndex)
			r.Get("/index", s.IndexStatus)
			r.Delete("/index", s.InvalidateIndex)
			r.Post("/search", s.Search)
			r.Post("/detect", s.Detect)
			r.Post("/classify", s.Classify)
			r.Get("/region", s.GetRegion)
			r.Post("/reconstruct", s.Reconstruct)
		})
	})
}

// ListDatasets handles GET /v1/datasets.
func (s *Server) ListDatasets(w http.ResponseWriter, r *http.Request) {
	ids, err := s.datasets.List(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]datasetSummary, len(ids))
	for i, id := range ids {
		items[i] = datasetSummary{ID: id, IndexState: string(s.indexes.IndexState(id))}
	}

	writeJSON(w, http.StatusOK, datasetListResponse{Items: items, Total: len(items)})
}

// GetDataset handles GET /v1/datasets/{dataset}.
func (s *Server) GetDataset(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("dataset")

	desc, err := s.datasets.Descriptor(r.Context(), datasetID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, datasetResponse{
		ID:         desc.ID(),
		Width:      desc.Width(),
		Height:     desc.Height(),
		TileSize:   desc.TileSize(),
		Levels:     desc.LevelCount(),
		Format:     desc.Format(),
		IndexState: string(s.indexes.IndexState(datasetID)),
	})
}

// BuildIndex handles POST /v1/datasets/{dataset}/index.
func (s *Server) BuildIndex(w http.ResponseWriter, r *http.Request) {
	job, err := s.indexes.BuildIndex(r.Context(), r.PathValue("dataset"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, jobToDTO(job))
}

// IndexStatus handles GET /v1/datasets/{dataset}/index.
func (s *Server) IndexStatus(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("dataset")

	if _, err := s.datasets.Descriptor(r.Context(), datasetID); err != nil {
		s.handleDomainError(w, err)
		return
	}

	resp := indexStatusResponse{State: string(s.indexes.IndexState(datasetID))}
	if job, ok := s.indexes.Status(datasetID); ok {
		dto := jobToDTO(job)
		resp.Job = &dto
	}

	writeJSON(w, http.StatusOK, resp)
}

// InvalidateIndex handles DELETE /v1/datasets/{dataset}/index.
func (s *Server) InvalidateIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.indexes.Invalidate(r.Context(), r.PathValue("dataset")); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Search handles POST /v1/datasets/{dataset}/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "invalid request body: "+err.Error())
		return
	}

	f := domquery.NoFilter()
	if req.Level != nil {
		f.Level = *req.Level
	}
	if req.Within != nil {
		b, err := region.New(req.Within.X, req.Within.Y, req.Within.Width, req.Within.Height)
		if err != nil {
			writeError(w, http.StatusBadRequest, kindInvalidInput, err.Error())
			return
		}
		f.Within = &b
	}

	sr, err := domquery.NewSearchRequest(req.Query, req.TopK, req.MinScore, req.Expand, f)
	if err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidInput, err.Error())
		return
	}

	out, err := s.search.Search(r.Context(), r.PathValue("dataset"), sr)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]searchHit, len(out.Hits))
	for i := range out.Hits {
		h := &out.Hits[i]
		items[i] = searchHit{
			Rank:    h.Rank(),
			PatchID: h.PatchID(),
			Score:   h.Score(),
			BBox:    bboxToDTO(h.BBox()),
			Level:   h.Level(),
		}
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Items:     items,
		Total:     len(items),
		Cancelled: out.Cancelled,
	})
}

// Detect handles POST /v1/datasets/{dataset}/detect.
func (s *Server) Detect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "invalid request body: "+err.Error())
		return
	}

	out, err := s.detect.Detect(r.Context(), r.PathValue("dataset"),
		req.Query, req.ConfidenceThreshold, req.MaxResults)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]detection, len(out.Detections))
	for i := range out.Detections {
		d := &out.Detections[i]
		items[i] = detection{
			Rank:       d.Rank(),
			Confidence: d.Confidence(),
			BBox:       bboxToDTO(d.BBox()),
		}
	}

	writeJSON(w, http.StatusOK, detectResponse{
		Items:     items,
		Total:     len(items),
		Cancelled: out.Cancelled,
	})
}

// Classify handles POST /v1/datasets/{dataset}/classify.
func (s *Server) Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "invalid request body: "+err.Error())
		return
	}

	bbox, err := region.New(req.BBox.X, req.BBox.Y, req.BBox.Width, req.BBox.Height)
	if err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidInput, err.Error())
		return
	}

	cls := s.classify.Classify(r.Context(), r.PathValue("dataset"), bbox)

	alts := make([]alternative, len(cls.Alternatives))
	for i, a := range cls.Alternatives {
		alts[i] = alternative{Label: a.Label, Confidence: a.Confidence}
	}

	writeJSON(w, http.StatusOK, classifyResponse{
		Primary:      cls.Primary,
		Confidence:   cls.Confidence,
		Alternatives: alts,
		Fallback:     cls.Fallback,
	})
}

// GetRegion handles GET /v1/datasets/{dataset}/region. The snippet is
// returned as PNG bytes with provenance headers.
func (s *Server) GetRegion(w http.ResponseWriter, r *http.Request) {
	var coords [4]int
	for i, name := range []string{"x", "y", "width", "height"} {
		v, err := queryInt(r, name)
		if err != nil {
			writeError(w, http.StatusBadRequest, kindInvalidInput, err.Error())
			return
		}
		coords[i] = v
	}

	bbox, err := region.New(coords[0], coords[1], coords[2], coords[3])
	if err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidInput, err.Error())
		return
	}

	snip, err := s.pixels.Extract(r.Context(), r.PathValue("dataset"), bbox)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, snip.Image); err != nil {
		s.handleDomainError(w, fmt.Errorf("encode png: %w", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Zoomdex-Source", snip.Provenance.Source)
	w.Header().Set("X-Zoomdex-Level", strconv.Itoa(snip.Provenance.Level))
	w.Header().Set("X-Zoomdex-Tile-Count", strconv.Itoa(snip.Provenance.TileCount))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Reconstruct handles POST /v1/datasets/{dataset}/reconstruct.
func (s *Server) Reconstruct(w http.ResponseWriter, r *http.Request) {
	info, err := s.pixels.ReconstructFullImage(r.Context(), r.PathValue("dataset"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	status := http.StatusOK
	if info.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, reconstructResponse{
		DatasetID: info.DatasetID,
		Width:     info.Width,
		Height:    info.Height,
		SizeBytes: info.SizeBytes,
		Created:   info.Created,
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: checks,
		Indexes: indexSummary{
			Tracked: report.Indexes.Tracked,
			Ready:   report.Indexes.Ready,
		},
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{
		Kind:    kind,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals. Validation errors keep their field detail: the client
// caused them.
func safeDomainMessage(err error) string {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrNotReady,
		domain.ErrInvalidInput,
		domain.ErrAlreadyIndexing,
		domain.ErrBudgetExceeded,
		domain.ErrEncoderUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, kind string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, kind, msg)
		return true
	}
}

// clientGoneHandler swallows request-context cancellation: the client
// stopped listening, so there is no response to write.
func clientGoneHandler(_ http.ResponseWriter, err error, _ string) bool {
	return errors.Is(err, context.Canceled)
}

// notReadyHandler handles ErrNotReady with the dataset's index state as an
// extra field.
func notReadyHandler(w http.ResponseWriter, err error, msg string) bool {
	if !errors.Is(err, domain.ErrNotReady) {
		return false
	}
	var nre *domain.NotReadyError
	if errors.As(err, &nre) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"kind":    kindNotReady,
			"message": msg,
			"state":   nre.State,
		})
		return true
	}
	writeError(w, http.StatusConflict, kindNotReady, msg)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, kindInternal, "internal error")
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type bboxDTO struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func bboxToDTO(b region.BBox) bboxDTO {
	return bboxDTO{X: b.X(), Y: b.Y(), Width: b.Width(), Height: b.Height()}
}

type datasetSummary struct {
	ID         string `json:"id"`
	IndexState string `json:"index_state"`
}

type datasetListResponse struct {
	Items []datasetSummary `json:"items"`
	Total int              `json:"total"`
}

type datasetResponse struct {
	ID         string `json:"id"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	TileSize   int    `json:"tile_size"`
	Levels     int    `json:"levels"`
	Format     string `json:"format"`
	IndexState string `json:"index_state"`
}

type jobResponse struct {
	ID         string     `json:"id"`
	DatasetID  string     `json:"dataset_id"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Report     *reportDTO `json:"report,omitempty"`
}

type reportDTO struct {
	Sampled  int          `json:"sampled"`
	Encoded  int          `json:"encoded"`
	Indexed  int          `json:"indexed"`
	Skipped  int          `json:"skipped"`
	Failures []failureDTO `json:"failures,omitempty"`
}

type failureDTO struct {
	PatchID uint32 `json:"patch_id"`
	Reason  string `json:"reason"`
}

func jobToDTO(j build.Job) jobResponse {
	resp := jobResponse{
		ID:         j.ID,
		DatasetID:  j.DatasetID,
		Status:     string(j.Status),
		Error:      j.Error,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
	if j.Report != nil {
		rep := reportDTO{
			Sampled: j.Report.Sampled,
			Encoded: j.Report.Encoded,
			Indexed: j.Report.Indexed,
			Skipped: j.Report.Skipped,
		}
		for _, f := range j.Report.Failures {
			rep.Failures = append(rep.Failures, failureDTO{PatchID: f.PatchID(), Reason: f.Reason()})
		}
		resp.Report = &rep
	}
	return resp
}

type indexStatusResponse struct {
	State string       `json:"state"`
	Job   *jobResponse `json:"job,omitempty"`
}

type searchRequest struct {
	Query    string   `json:"query"`
	TopK     int      `json:"top_k"`
	MinScore float64  `json:"min_score"`
	Expand   bool     `json:"expand"`
	Level    *int     `json:"level,omitempty"`
	Within   *bboxDTO `json:"within,omitempty"`
}

type searchHit struct {
	Rank    int     `json:"rank"`
	PatchID uint32  `json:"patch_id"`
	Score   float64 `json:"score"`
	BBox    bboxDTO `json:"bbox"`
	Level   int     `json:"level"`
}

type searchResponse struct {
	Items     []searchHit `json:"items"`
	Total     int         `json:"total"`
	Cancelled bool        `json:"cancelled"`
}

type detectRequest struct {
	Query               string  `json:"query"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	MaxResults          int     `json:"max_results"`
}

type detection struct {
	Rank       int     `json:"rank"`
	Confidence float64 `json:"confidence"`
	BBox       bboxDTO `json:"bbox"`
}

type detectResponse struct {
	Items     []detection `json:"items"`
	Total     int         `json:"total"`
	Cancelled bool        `json:"cancelled"`
}

type classifyRequest struct {
	BBox bboxDTO `json:"bbox"`
}

type alternative struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type classifyResponse struct {
	Primary      string        `json:"primary"`
	Confidence   float64       `json:"confidence"`
	Alternatives []alternative `json:"alternatives,omitempty"`
	Fallback     bool          `json:"fallback"`
}

type reconstructResponse struct {
	DatasetID string `json:"dataset_id"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	SizeBytes int    `json:"size_bytes"`
	Created   bool   `json:"created"`
}

type healthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Indexes indexSummary      `json:"indexes"`
}

type indexSummary struct {
	Tracked int `json:"tracked"`
	Ready   int `json:"ready"`
}
