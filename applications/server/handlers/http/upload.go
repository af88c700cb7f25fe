package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"github.com/donmikel/chunkup/applications/api"
	"github.com/donmikel/chunkup/applications/server"
	"github.com/donmikel/chunkup/applications/server/domain"
	"github.com/donmikel/chunkup/applications/server/signer"
)

func InitUploadHandler(svc server.UploadService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.InitChunkedUploadRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeErr(w, err, logger)
			return
		}

		session, urls, err := svc.InitUpload(r.Context(), domain.InitRequest{
			FileName:    req.FileName,
			FileType:    domain.FileType(req.FileType),
			AssetID:     req.AssetID,
			TotalChunks: req.TotalChunks,
			FileSize:    req.FileSize,
		})
		if err != nil {
			writeErr(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, api.InitChunkedUploadResponse{
			UploadID:  session.ID,
			ChunkURLs: urls,
			ExpiresAt: session.ExpiresAt,
		}, logger)
	}
}

func PutChunkHandler(svc server.UploadService, urlSigner *signer.Signer, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := urlSigner.Verify(http.MethodPut, r.URL.Path, r.URL.Query()); err != nil {
			writeErr(w, err, logger)
			return
		}

		vars := mux.Vars(r)
		index, err := strconv.Atoi(vars["index"])
		if err != nil {
			writeErr(w, fmt.Errorf("%w: chunk index %q", domain.ErrInvalidRequest, vars["index"]), logger)
			return
		}

		if r.ContentLength <= 0 {
			level.Error(logger).Log("msg", "wrong ContentLength", "content_length", r.ContentLength)
			writeErr(w, fmt.Errorf("%w: Content-Length is required", domain.ErrInvalidRequest), logger)
			return
		}

		slot, err := svc.UploadChunk(r.Context(), vars["uploadId"], index, r.Body, r.ContentLength)
		if err != nil {
			writeErr(w, err, logger)
			return
		}

		w.Header().Set("ETag", strconv.Quote(slot.ETag))
		writeJSON(w, http.StatusOK, api.ChunkResponse{
			Index: slot.Index,
			Size:  slot.Size,
			ETag:  slot.ETag,
		}, logger)
	}
}

func CompleteUploadHandler(svc server.UploadService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.CompleteChunkedUploadRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeErr(w, err, logger)
			return
		}

		artifact, err := svc.CompleteUpload(r.Context(), domain.CompleteRequest{
			UploadID: req.UploadID,
			AssetID:  req.AssetID,
			FileType: domain.FileType(req.FileType),
		})
		if err != nil {
			writeErr(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, api.CompleteChunkedUploadResponse{
			CDNURL:  artifact.URL,
			Version: artifact.Version,
		}, logger)
	}
}

func UploadStatusHandler(svc server.UploadService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := svc.ChunkStatus(r.Context(), mux.Vars(r)["uploadId"])
		if err != nil {
			writeErr(w, err, logger)
			return
		}

		session := status.Session
		writeJSON(w, http.StatusOK, api.UploadStatusResponse{
			UploadID:       session.ID,
			AssetID:        session.AssetID,
			FileType:       string(session.FileType),
			Status:         string(session.Status),
			TotalChunks:    session.TotalChunks,
			FileSize:       session.FileSize,
			ReceivedChunks: session.ReceivedChunks(),
			MissingChunks:  session.MissingChunks(),
			ChunkURLs:      status.ChunkURLs,
			CDNURL:         session.ArtifactURL,
			Version:        session.ArtifactVersion,
			ExpiresAt:      session.ExpiresAt,
		}, logger)
	}
}

func AbortUploadHandler(svc server.UploadService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.AbortChunkedUploadRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeErr(w, err, logger)
			return
		}

		if err := svc.AbortUpload(r.Context(), req.UploadID); err != nil {
			writeErr(w, err, logger)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
