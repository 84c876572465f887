// Package server is the HTTP companion service: it accepts MIDI uploads,
// encodes recorded notes, key-corrects files and forwards generation
// requests to the model service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"go-remi/debug"
	"go-remi/remote"
	"go-remi/smf"
)

// MaxUploadSize is the default limit on uploaded files.
const MaxUploadSize = 50 << 20

const uploadDir = "uploads"

// Options configures a Server.
type Options struct {
	Addr    string
	DataDir string // uploads and corrected files live here
	// Upstream is the generation service. Without one /generate answers
	// 501.
	Upstream  *remote.Client
	Encode    smf.EncodeOptions
	MaxUpload int64 // bytes; zero means MaxUploadSize
}

// Server serves the companion API.
type Server struct {
	opts   Options
	router *mux.Router
	now    func() time.Time
}

// New creates a server, making sure the data directory exists.
func New(opts Options) (*Server, error) {
	if opts.DataDir == "" {
		return nil, errors.New("server: no data directory")
	}
	if err := os.MkdirAll(filepath.Join(opts.DataDir, uploadDir), 0755); err != nil {
		return nil, err
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = MaxUploadSize
	}
	if opts.Encode.PPQ == 0 {
		opts.Encode = smf.DefaultEncodeOptions()
	}
	s := &Server{opts: opts, now: time.Now}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.HandleFunc("/hello", s.hello).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/upload_midi", s.uploadMIDI).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/encode", s.encode).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/sanitize_midi", s.sanitizeMIDI).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/generate", s.generate).Methods(http.MethodPost, http.MethodOptions)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "no route for "+r.URL.Path)
	})
	r.Use(mux.CORSMethodMiddleware(r))
	r.Use(allowOrigin)
	r.Use(logRequests)
	s.router = r
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		debug.Log("server", "listening on %s", s.opts.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func allowOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Expose-Headers", "X-Detected-Key, X-Output-Path")
		if r.Method == http.MethodOptions {
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

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		debug.Log("server", "%s %s %d %v", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeMIDI(w http.ResponseWriter, name string, data []byte) {
	w.Header().Set("Content-Type", "audio/midi")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write(data)
}
