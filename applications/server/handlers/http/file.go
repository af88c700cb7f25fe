package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"github.com/donmikel/chunkup/applications/api"
	"github.com/donmikel/chunkup/applications/server"
	"github.com/donmikel/chunkup/applications/server/domain"
)

// maxMultipartMemory is how much of a direct upload is buffered in memory
// before spilling to a temp file.
const maxMultipartMemory = 32 << 20

// multipartOverhead leaves room for form fields and boundaries on top of the
// largest allowed file.
const multipartOverhead = 1 << 20

func DirectUploadHandler(svc server.UploadService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, domain.FileTypeGLB.MaxDirectUploadSize()+multipartOverhead)

		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			level.Error(logger).Log("msg", "ParseMultipartForm error", "err", err)
			var maxBytes *http.MaxBytesError
			if !errors.As(err, &maxBytes) {
				err = errors.Join(domain.ErrInvalidRequest, err)
			}
			writeErr(w, err, logger)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			level.Error(logger).Log("msg", "FormFile error", "err", err)
			writeErr(w, errors.Join(domain.ErrInvalidRequest, err), logger)
			return
		}
		defer file.Close()

		fileType, err := domain.ParseFileType(r.FormValue("fileType"))
		if err != nil {
			writeErr(w, err, logger)
			return
		}

		artifact, err := svc.DirectUpload(r.Context(), domain.DirectUploadRequest{
			AssetID:  r.FormValue("assetId"),
			FileType: fileType,
			FileName: header.Filename,
			Size:     header.Size,
			Body:     file,
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

func GetArtifactHandler(svc server.UploadService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		fileType, err := domain.ParseFileType(vars["fileType"])
		if err != nil {
			writeErr(w, err, logger)
			return
		}

		artifact, err := svc.GetArtifact(r.Context(), vars["assetId"], fileType)
		if err != nil {
			writeErr(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, artifact, logger)
	}
}

// GetObjectHandler streams stored objects under the /cdn/ prefix.
func GetObjectHandler(svc server.UploadService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, api.CDNPathPrefix)
		if key == "" {
			writeErr(w, fmt.Errorf("%w: empty key", domain.ErrInvalidRequest), logger)
			return
		}

		obj, err := svc.OpenObject(r.Context(), key)
		if err != nil {
			writeErr(w, err, logger)
			return
		}
		defer obj.Body.Close()

		if obj.Info.ContentType != "" {
			w.Header().Set("Content-Type", obj.Info.ContentType)
		}
		if obj.Info.ETag != "" {
			w.Header().Set("ETag", strconv.Quote(obj.Info.ETag))
		}
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Info.ContentLength, 10))

		if r.Method == http.MethodHead {
			return
		}

		if _, err = io.Copy(w, obj.Body); err != nil {
			level.Error(logger).Log("msg", "error body copy", "key", key, "err", err)
			return
		}
	}
}
