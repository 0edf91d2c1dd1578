package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dharsanguruparan/LabelDrop/internal/config"
	"github.com/dharsanguruparan/LabelDrop/internal/errs"
	"github.com/dharsanguruparan/LabelDrop/internal/layout"
	"github.com/dharsanguruparan/LabelDrop/internal/logger"
	"github.com/dharsanguruparan/LabelDrop/internal/model"
	"github.com/dharsanguruparan/LabelDrop/internal/pipeline"
	"github.com/dharsanguruparan/LabelDrop/internal/preflight"
	"github.com/dharsanguruparan/LabelDrop/internal/queue"
	"github.com/dharsanguruparan/LabelDrop/internal/repository"
	"github.com/dharsanguruparan/LabelDrop/internal/scanner"
	"github.com/dharsanguruparan/LabelDrop/internal/signing"
	"github.com/dharsanguruparan/LabelDrop/internal/storage"
)

// SubjectHeader carries the caller's entitlement subject.
const SubjectHeader = "X-Subject-ID"

// Previewer runs the synchronous dry run behind POST /preview.
type Previewer interface {
	Preview(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Deps are the collaborators of a Server.
type Deps struct {
	Config   *config.Config
	Repo     repository.Store
	Objects  storage.Objects
	Queue    queue.Dispatcher
	Preview  Previewer
	Registry *layout.Registry
	Signer   *signing.Signer
	Log      *logger.Logger
}

// Server exposes HTTP endpoints for generations, previews and templates.
type Server struct {
	Deps
	server *http.Server
	once   sync.Once
	now    func() time.Time
}

// New constructs a Server.
func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	return &Server{Deps: d, now: time.Now}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.Config.Address,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.Log.Info("api listening", "address", s.Config.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/templates", s.handleTemplates)
	mux.HandleFunc("/generations", s.handleGenerations)
	mux.HandleFunc("/generations/", s.handleGenerationRoute)
	mux.HandleFunc("/preview", s.handlePreview)
	mux.HandleFunc("/download", s.handleDownload)
	return corsMiddleware(s.loggingMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, http.StatusOK, s.Registry.Describe())
}

func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreate(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGenerationRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/generations/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		s.handleGeneration(w, r, id)
		return
	}
	if len(parts) == 2 && parts[1] == "download-url" {
		s.handleDownloadURL(w, r, id)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sub, ok := s.readSubmission(w, r)
	if !ok {
		return
	}
	id := uuid.NewString()
	gen := &model.Generation{
		ID:        id,
		OwnerID:   sub.owner,
		Layout:    sub.layout,
		Size:      sub.size,
		Mode:      sub.mode,
		Numbering: sub.numbering,
		ItemsKey:  fmt.Sprintf("%s/items.%s", id, sub.items.Kind),
		ItemsKind: sub.items.Kind,
		CodesKey:  fmt.Sprintf("%s/codes.%s", id, sub.codes.Kind),
		CodesKind: sub.codes.Kind,
	}
	if err := s.Objects.PutInput(ctx, gen.ItemsKey, sub.items.Data, contentType(sub.items.Kind)); err != nil {
		s.respondError(w, fmt.Errorf("store items: %w", err))
		return
	}
	if err := s.Objects.PutInput(ctx, gen.CodesKey, sub.codes.Data, contentType(sub.codes.Kind)); err != nil {
		s.respondError(w, fmt.Errorf("store codes: %w", err))
		return
	}
	if err := s.Repo.Create(ctx, gen); err != nil {
		s.respondError(w, fmt.Errorf("store metadata: %w", err))
		return
	}
	if err := s.Queue.Dispatch(ctx, queue.GeneratePayload{GenerationID: id}); err != nil {
		_ = s.Repo.MarkFailed(context.WithoutCancel(ctx), id, errs.KindInternal, err.Error())
		s.Log.Error("dispatch generation", "generation", id, "error", err)
		respondJSON(w, http.StatusServiceUnavailable, errorBody{Error: "failed to queue job", Kind: errs.KindInternal})
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": string(model.StatusQueued),
	})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sub, ok := s.readSubmission(w, r)
	if !ok {
		return
	}
	res, err := s.Preview.Preview(r.Context(), pipeline.Request{
		OwnerID:   sub.owner,
		Layout:    sub.layout,
		Size:      sub.size,
		Mode:      sub.mode,
		Numbering: sub.numbering,
		Items:     sub.items,
		Codes:     sub.codes,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, previewBody{
		Layout:    res.Template.Layout,
		Size:      res.Template.Size,
		Labels:    len(res.Labels),
		Skipped:   res.Skipped,
		Preflight: res.Preflight,
	})
}

func (s *Server) handleGeneration(w http.ResponseWriter, r *http.Request, id string) {
	gen, ok := s.ownedGeneration(w, r, id)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, gen)
}

// ownedGeneration loads a generation of the requesting subject. Generations of
// other owners are reported as not found. On false the response has been
// written.
func (s *Server) ownedGeneration(w http.ResponseWriter, r *http.Request, id string) (*model.Generation, bool) {
	owner, ok := subject(w, r)
	if !ok {
		return nil, false
	}
	gen, err := s.Repo.Get(r.Context(), id)
	if err == nil && gen.OwnerID != owner {
		err = errs.ErrNotFound
	}
	if err != nil {
		s.respondError(w, err)
		return nil, false
	}
	return gen, true
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request, id string) {
	gen, ok := s.ownedGeneration(w, r, id)
	if !ok {
		return
	}
	if gen.Status != model.StatusCompleted || gen.OutputKey == nil {
		respondJSON(w, http.StatusConflict, errorBody{Error: "generation not completed", Kind: string(gen.Status)})
		return
	}
	ttl := s.Config.SignedURLTTL
	expiry := s.now().Add(ttl)
	link, err := s.Objects.PresignOutput(r.Context(), *gen.OutputKey, ttl)
	if errors.Is(err, storage.ErrPresignUnsupported) {
		link, err = s.Signer.URL("/download", id, expiry), nil
	}
	if err != nil {
		s.Log.Error("presign output", "generation", id, "error", err)
		http.Error(w, "failed to generate url", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"url":     link,
		"expires": expiry.Unix(),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := s.Signer.Verify(r.URL.Query(), s.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	gen, err := s.Repo.Get(r.Context(), id)
	if err != nil || gen.OutputKey == nil {
		http.Error(w, "labels not found", http.StatusNotFound)
		return
	}
	data, err := s.Objects.GetOutput(r.Context(), *gen.OutputKey)
	if err != nil {
		s.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "labels-"+id+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// subject returns the requesting owner. On false a 401 has been written.
func subject(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.Header.Get(SubjectHeader))
	if owner == "" {
		respondJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + SubjectHeader, Kind: errs.KindNotEntitled})
		return "", false
	}
	return owner, true
}

// submission is a parsed multipart generation or preview request.
type submission struct {
	owner     string
	layout    string
	size      string
	mode      model.BatchMode
	numbering model.Numbering
	items     scanner.Document
	codes     scanner.Document
}

// readSubmission parses the multipart body, applying configured defaults.
// On false the response has been written.
func (s *Server) readSubmission(w http.ResponseWriter, r *http.Request) (*submission, bool) {
	owner, ok := subject(w, r)
	if !ok {
		return nil, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 2*s.Config.MaxFileSize+64*1024)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return nil, false
	}
	fields := map[string]string{}
	files := map[string]upload{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			http.Error(w, "failed to read upload", http.StatusBadRequest)
			return nil, false
		}
		name := part.FormName()
		switch name {
		case "items", "codes":
			up, err := s.readFile(part)
			if err != nil {
				http.Error(w, fmt.Sprintf("%s: %v", name, err), http.StatusBadRequest)
				return nil, false
			}
			files[name] = up
		default:
			v, err := io.ReadAll(io.LimitReader(part, 1024))
			part.Close()
			if err != nil {
				http.Error(w, "failed to read field", http.StatusBadRequest)
				return nil, false
			}
			fields[name] = strings.TrimSpace(string(v))
		}
	}

	sub := &submission{
		owner:     owner,
		layout:    orDefault(fields["layout"], s.Config.DefaultLayout),
		size:      orDefault(fields["size"], s.Config.DefaultSize),
		mode:      model.BatchMode(strings.ToLower(orDefault(fields["mode"], string(s.Config.BatchMode)))),
		numbering: model.Numbering(strings.ToLower(orDefault(fields["numbering"], string(s.Config.Numbering)))),
	}
	switch sub.mode {
	case model.ModeStrict, model.ModePartial:
	default:
		http.Error(w, "mode must be strict or partial", http.StatusBadRequest)
		return nil, false
	}
	switch sub.numbering {
	case model.NumberingNone, model.NumberingLocal, model.NumberingGlobal:
	default:
		http.Error(w, "numbering must be none, local or global", http.StatusBadRequest)
		return nil, false
	}
	if _, err := s.Registry.Resolve(sub.layout, sub.size); err != nil {
		s.respondError(w, err)
		return nil, false
	}
	for _, name := range []string{"items", "codes"} {
		up, ok := files[name]
		if !ok {
			http.Error(w, "missing "+name+" part", http.StatusBadRequest)
			return nil, false
		}
		kind, err := scanner.KindOf(fields[name+"_kind"], up.filename, up.data)
		if err != nil {
			s.respondError(w, fmt.Errorf("%s: %w", name, err))
			return nil, false
		}
		doc := scanner.Document{Name: up.filename, Kind: kind, Data: up.data}
		if name == "items" {
			sub.items = doc
		} else {
			sub.codes = doc
		}
	}
	return sub, true
}

type upload struct {
	filename string
	data     []byte
}

func (s *Server) readFile(part *multipart.Part) (upload, error) {
	defer part.Close()
	data, err := io.ReadAll(io.LimitReader(part, s.Config.MaxFileSize+1))
	if err != nil {
		return upload{}, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > s.Config.MaxFileSize {
		return upload{}, fmt.Errorf("file exceeds limit (%d bytes)", s.Config.MaxFileSize)
	}
	if len(data) == 0 {
		return upload{}, errors.New("empty file")
	}
	return upload{filename: part.FileName(), data: data}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func contentType(kind model.DocumentKind) string {
	switch kind {
	case model.KindPDF:
		return "application/pdf"
	case model.KindCSV:
		return "text/csv"
	case model.KindXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/plain; charset=utf-8"
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type previewBody struct {
	Layout    string                 `json:"layout"`
	Size      string                 `json:"size"`
	Labels    int                    `json:"labels"`
	Skipped   []pipeline.ItemFailure `json:"skipped,omitempty"`
	Preflight preflight.Result       `json:"preflight"`
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(kind string) int {
	switch kind {
	case errs.KindMalformedInput, errs.KindCountMismatch, errs.KindDecodeFailure,
		errs.KindMatrixTooSmall, errs.KindPreflight:
		return http.StatusUnprocessableEntity
	case errs.KindAlreadyUsed:
		return http.StatusConflict
	case errs.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case errs.KindNotEntitled:
		return http.StatusForbidden
	case errs.KindUnknownTemplate:
		return http.StatusNotFound
	case errs.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case errs.KindCanceled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, errs.ErrNotFound) {
		respondJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Kind: "not_found"})
		return
	}
	kind := errs.Kind(err)
	status := StatusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.Log.Error("request failed", "error", err)
		msg = "internal error"
	}
	respondJSON(w, status, errorBody{Error: msg, Kind: kind})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,"+SubjectHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.Log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
