package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"colabsfm/internal/api"
	"colabsfm/internal/config"
	"colabsfm/internal/ingest"
	"colabsfm/internal/logging"
	"colabsfm/internal/region"
	"colabsfm/internal/services"
)

const (
	multipartMemory = 32 << 20
	// multipartOverhead allows for form boundaries and headers on top of
	// the configured upload limit.
	multipartOverhead = 1 << 20
)

type apiServer struct {
	bind     string
	logger   *slog.Logger
	daemon   *Daemon
	service  *api.Service
	layout   *region.Layout
	validate *validator.Validate
	maxBody  int64
	handler  http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil, errors.New("api bind address is required")
	}
	srv := &apiServer{
		bind:     bind,
		logger:   logging.NewComponentLogger(logger, "api-server"),
		daemon:   d,
		service:  d.comps.Service,
		layout:   d.comps.Layout,
		validate: newValidator(d.comps.Layout),
	}
	if cfg.Ingest.MaxUploadBytes > 0 {
		srv.maxBody = cfg.Ingest.MaxUploadBytes + multipartOverhead
	}

	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, h)
		mux.HandleFunc(pattern+"/{$}", h)
	}
	route("POST /create_region", srv.handleCreateRegion)
	route("POST /upload_images/{region}", srv.handleUploadImages)
	route("POST /upload_folder/{region}", srv.handleUploadFolder)
	route("POST /upload_zip/{region}", srv.handleUploadZip)
	route("POST /reconstruct/{region}", srv.handleReconstruct)
	route("GET /uploads/{region}", srv.handleUploads)
	route("GET /regions", srv.handleRegions)
	route("GET /api/status", srv.handleStatus)
	mux.Handle("GET /metrics", d.comps.Metrics.Handler())

	srv.handler = srv.withRequestID(authMiddleware(cfg.API.Token, mux, "/metrics"))
	srv.server = &http.Server{
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func (s *apiServer) handleCreateRegion(w http.ResponseWriter, r *http.Request) {
	req := regionRequest{Region: strings.TrimSpace(r.FormValue("region_name"))}
	if err := validateRequest(s.validate, req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	ack, err := s.service.CreateRegion(r.Context(), req.Region)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ack)
}

func (s *apiServer) handleUploadImages(w http.ResponseWriter, r *http.Request) {
	s.handleMultiUpload(w, r, s.service.IngestFiles)
}

func (s *apiServer) handleUploadFolder(w http.ResponseWriter, r *http.Request) {
	s.handleMultiUpload(w, r, s.service.IngestFolder)
}

type multiIngest func(ctx context.Context, regionName, uploader string, payloads []ingest.Payload) (api.Ack, error)

func (s *apiServer) handleMultiUpload(w http.ResponseWriter, r *http.Request, ingestFn multiIngest) {
	req, ok := s.bindUpload(w, r)
	if !ok {
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.writeServiceError(w, r, services.Wrap(services.ErrValidation, "api", "bind", "files is required", nil))
		return
	}
	payloads, closeAll, err := openParts(headers)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer closeAll()

	ack, err := ingestFn(r.Context(), req.Region, req.UserID, payloads)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ack)
}

func (s *apiServer) handleUploadZip(w http.ResponseWriter, r *http.Request) {
	req, ok := s.bindUpload(w, r)
	if !ok {
		return
	}
	headers := r.MultipartForm.File["zip_file"]
	if len(headers) != 1 {
		s.writeServiceError(w, r, services.Wrap(services.ErrValidation, "api", "bind", "exactly one zip_file is required", nil))
		return
	}
	payloads, closeAll, err := openParts(headers)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer closeAll()

	ack, err := s.service.IngestArchive(r.Context(), req.Region, req.UserID, payloads[0])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ack)
}

// bindUpload resolves the target region before reading the body, so a
// missing region is reported as not found whatever the form holds.
func (s *apiServer) bindUpload(w http.ResponseWriter, r *http.Request) (uploadRequest, bool) {
	target := regionRequest{Region: r.PathValue("region")}
	if err := validateRequest(s.validate, target); err != nil {
		s.writeServiceError(w, r, err)
		return uploadRequest{}, false
	}
	if s.layout != nil {
		if _, err := s.layout.Require(target.Region); err != nil {
			s.writeServiceError(w, r, err)
			return uploadRequest{}, false
		}
	}
	if s.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeServiceError(w, r, services.Wrap(services.ErrValidation, "api", "bind", "upload exceeds max_upload_bytes", err))
			return uploadRequest{}, false
		}
		s.writeServiceError(w, r, services.Wrap(services.ErrValidation, "api", "bind", "expected multipart form data", err))
		return uploadRequest{}, false
	}
	req := uploadRequest{
		Region: target.Region,
		UserID: strings.TrimSpace(r.FormValue("user_id")),
	}
	if err := validateRequest(s.validate, req); err != nil {
		s.writeServiceError(w, r, err)
		return uploadRequest{}, false
	}
	return req, true
}

func openParts(headers []*multipart.FileHeader) ([]ingest.Payload, func(), error) {
	files := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	payloads := make([]ingest.Payload, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, services.Wrap(services.ErrValidation, "api", "bind", "open "+header.Filename, err)
		}
		files = append(files, f)
		payloads = append(payloads, ingest.Payload{Name: header.Filename, Reader: f})
	}
	return payloads, closeAll, nil
}

func (s *apiServer) handleReconstruct(w http.ResponseWriter, r *http.Request) {
	req := regionRequest{Region: r.PathValue("region")}
	if err := validateRequest(s.validate, req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	ack, err := s.service.TriggerReconstruction(r.Context(), req.Region)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ack)
}

func (s *apiServer) handleUploads(w http.ResponseWriter, r *http.Request) {
	uploads, err := s.service.ListUploads(r.Context(), r.PathValue("region"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, uploads)
}

func (s *apiServer) handleRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := s.service.Regions(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, regions)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

// statusFor maps a marked service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := logging.WithContext(r.Context(), s.logger).With(
		logging.String("method", r.Method),
		logging.String("path", r.URL.Path),
		logging.Int("status", status),
	)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logger, "request failed", "request_failed",
			logging.Error(err),
			logging.String("error_kind", services.Kind(err)),
		)
	} else {
		logger.Info("request rejected", logging.Error(err))
	}
	writeDetail(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func writeDetail(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": message})
}
