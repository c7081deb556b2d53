// Package httpapi exposes the download pipeline over HTTP: one request in,
// the finished artifact out.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vm-affekt/mediafetch/internal/downloader"
	"github.com/vm-affekt/mediafetch/internal/logging"
	"github.com/vm-affekt/mediafetch/internal/media"
)

const (
	HeaderRequestID      = "X-Request-ID"
	HeaderItemsSucceeded = "X-Items-Succeeded"
	HeaderItemsSkipped   = "X-Items-Skipped"

	maxFormBytes = 64 << 10
)

type DownloadService interface {
	Download(ctx context.Context, req media.Request, observe downloader.Observer) (*downloader.Result, error)
}

type Server struct {
	service        DownloadService
	requestTimeout time.Duration
}

// New creates a Server. A zero requestTimeout bounds a download only by the
// client connection.
func New(service DownloadService, requestTimeout time.Duration) *Server {
	return &Server{service: service, requestTimeout: requestTimeout}
}

// Handler returns the routes wrapped with request ID, logging and recovery
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return Chain(mux, RequestID, AccessLog, Recover)
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/downloads", s.createDownload)
	mux.HandleFunc("GET /healthz", s.health)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, errorResponse{Error: message, Kind: kind})
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type downloadRequest struct {
	URL        string `json:"url"`
	Kind       string `json:"kind"`
	Collection bool   `json:"collection"`
}

func (s *Server) createDownload(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContextS(r.Context())

	body, err := decodeDownloadRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	kind, err := media.ParseOutputKind(body.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	mode := media.Single
	if body.Collection {
		mode = media.Collection
	}
	req, err := media.NewRequest(body.URL, kind, mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, media.KindOf(err), err.Error())
		return
	}

	ctx := r.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}
	res, err := s.service.Download(ctx, req, nil)
	if err != nil {
		kind := media.KindOf(err)
		log.Warnw("Download request failed", "reason", kind, "error", err)
		writeError(w, statusFor(err), kind, err.Error())
		return
	}
	defer func() {
		if err := res.Close(); err != nil {
			log.Warnf("Failed to clean up download workspace: %v", err)
		}
	}()

	if err := serveArtifact(w, r, res); err != nil {
		log.Errorf("Failed to serve artifact %q: %v", res.Artifact.FileName, err)
		writeError(w, http.StatusInternalServerError, media.KindWrite, "failed to read the finished artifact")
	}
}

func decodeDownloadRequest(w http.ResponseWriter, r *http.Request) (downloadRequest, error) {
	var body downloadRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/json":
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			return body, fmt.Errorf("invalid json body: %w", err)
		}
	default:
		var err error
		if ct == "multipart/form-data" {
			err = r.ParseMultipartForm(maxFormBytes)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			return body, fmt.Errorf("invalid form: %w", err)
		}
		body.URL = r.Form.Get("url")
		body.Kind = r.Form.Get("kind")
		if v := r.Form.Get("collection"); v != "" {
			collection, err := strconv.ParseBool(v)
			if err != nil {
				return body, fmt.Errorf("invalid collection flag %q: %w", v, err)
			}
			body.Collection = collection
		}
	}
	if strings.TrimSpace(body.URL) == "" {
		return body, errors.New("url is required")
	}
	if body.Kind == "" {
		body.Kind = media.Audio.String()
	}
	return body, nil
}

// serveArtifact writes the artifact body. Nothing is written when the file
// can't be opened, so the caller can still send an error.
func serveArtifact(w http.ResponseWriter, r *http.Request, res *downloader.Result) error {
	a := res.Artifact
	f, err := os.Open(a.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	h := w.Header()
	h.Set("Content-Type", a.ContentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.FileName}))
	h.Set(HeaderItemsSucceeded, strconv.Itoa(res.Succeeded()))
	h.Set(HeaderItemsSkipped, strconv.Itoa(res.Skipped()))
	http.ServeContent(w, r, a.FileName, info.ModTime(), f)
	return nil
}

func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch media.KindOf(err) {
	case media.KindInvalidURL:
		return http.StatusBadRequest
	case media.KindResolution, media.KindPackaging:
		return http.StatusUnprocessableEntity
	case media.KindUpstreamUnavailable, media.KindNetwork:
		return http.StatusBadGateway
	case media.KindCancelled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}
