package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/donmikel/chunkup/applications/api"
	"github.com/donmikel/chunkup/applications/server"
	"github.com/donmikel/chunkup/applications/server/config"
	"github.com/donmikel/chunkup/applications/server/domain"
	"github.com/donmikel/chunkup/applications/server/signer"
)

const readHeaderTimeout = 10 * time.Second

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chunkup",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code",
		},
		[]string{"handler", "method", "code"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chunkup",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"handler", "method", "code"},
	)
)

func NewHTTPServer(conf config.Api, svc server.UploadService, urlSigner *signer.Signer, logger log.Logger) *http.Server {
	mux := NewRouter(svc, urlSigner, logger)
	return &http.Server{
		Addr:              conf.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func NewRouter(svc server.UploadService, urlSigner *signer.Signer, logger log.Logger) http.Handler {
	r := mux.NewRouter()

	handle := func(name, path string, h http.HandlerFunc, methods ...string) {
		r.Handle(path, instrument(name, h)).Methods(methods...)
	}

	handle("init", api.InitChunkedUploadPath, InitUploadHandler(svc, logger), http.MethodPost)
	handle("chunk", api.ChunkPath, PutChunkHandler(svc, urlSigner, logger), http.MethodPut)
	handle("complete", api.CompleteChunkedUploadPath, CompleteUploadHandler(svc, logger), http.MethodPost)
	handle("status", api.ChunkedUploadStatusPath, UploadStatusHandler(svc, logger), http.MethodGet)
	handle("abort", api.AbortChunkedUploadPath, AbortUploadHandler(svc, logger), http.MethodPost)
	handle("upload", api.DirectUploadPath, DirectUploadHandler(svc, logger), http.MethodPost)
	handle("artifact", api.ArtifactPath, GetArtifactHandler(svc, logger), http.MethodGet)
	r.PathPrefix(api.CDNPathPrefix).Handler(instrument("cdn", GetObjectHandler(svc, logger))).Methods(http.MethodGet, http.MethodHead)
	r.Handle(api.MetricsPath, promhttp.Handler()).Methods(http.MethodGet)

	return r
}

func instrument(name string, h http.Handler) http.Handler {
	labels := prometheus.Labels{"handler": name}
	return promhttp.InstrumentHandlerDuration(requestDuration.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(requestsTotal.MustCurryWith(labels), h))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(domain.ErrInvalidRequest, err)
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, logger log.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		level.Error(logger).Log("msg", "can't write response", "err", err)
	}
}

// errorStatus maps service errors to an http status and a stable error code.
func errorStatus(err error) (int, string) {
	var maxBytes *http.MaxBytesError

	switch {
	case errors.Is(err, domain.ErrIncompleteUpload):
		return http.StatusInternalServerError, api.CodeIncompleteUpload
	case errors.Is(err, domain.ErrFinalizeFailed):
		return http.StatusInternalServerError, api.CodeFinalizeFailed
	case errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict, api.CodeVersionConflict
	case errors.Is(err, domain.ErrUploadNotActive), errors.Is(err, domain.ErrUploadInProgress),
		errors.Is(err, domain.ErrArtifactBusy):
		return http.StatusConflict, api.CodeConflict
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrArtifactNotFound),
		errors.Is(err, domain.ErrObjectNotFound):
		return http.StatusNotFound, api.CodeNotFound
	case errors.Is(err, domain.ErrChunkTooLarge), errors.Is(err, domain.ErrFileTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, api.CodeTooLarge
	case errors.Is(err, signer.ErrMissingSignature), errors.Is(err, signer.ErrInvalidSignature),
		errors.Is(err, signer.ErrExpired):
		return http.StatusForbidden, api.CodeInvalidSignature
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrUnsupportedFileType),
		errors.Is(err, domain.ErrChunkOutOfRange):
		return http.StatusBadRequest, api.CodeInvalidRequest
	default:
		return http.StatusInternalServerError, api.CodeInternal
	}
}

func writeErr(w http.ResponseWriter, err error, logger log.Logger) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		level.Error(logger).Log("msg", "request failed", "code", code, "err", err)
	} else {
		level.Debug(logger).Log("msg", "request rejected", "code", code, "err", err)
	}

	writeJSON(w, status, api.ErrorResponse{Error: err.Error(), Code: code}, logger)
}
