package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go-remi/debug"
	"go-remi/midi"
	"go-remi/remote"
	"go-remi/smf"
	"go-remi/theory"
)

func (s *Server) hello(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello, world!"})
}

// uploadMIDI stores a multipart "file" under the data directory after
// checking it decodes.
func (s *Server) uploadMIDI(w http.ResponseWriter, r *http.Request) {
	limit := s.opts.MaxUpload
	// room for the multipart framing around the file
	r.Body = http.MaxBytesReader(w, r.Body, limit+64<<10)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "missing file: "+err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if int64(len(data)) > limit {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	f, err := smf.Decode(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "not a MIDI file: "+err.Error())
		return
	}
	if err := f.Err(); err != nil {
		debug.Log("server", "upload %s decoded partially: %v", hdr.Filename, err)
	}

	rel := filepath.Join(uploadDir, s.uploadName(hdr.Filename))
	if err := os.WriteFile(filepath.Join(s.opts.DataDir, rel), data, 0644); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": filepath.ToSlash(rel)})
}

func (s *Server) uploadName(original string) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(base))
	if ext != ".mid" && ext != ".midi" {
		ext = ".mid"
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ' || r == '.':
			return '-'
		}
		return -1
	}, stem)
	if stem == "" {
		stem = "upload"
	}
	return s.now().Format("20060102-150405.000") + "_" + stem + ext
}

type encodeRequest struct {
	Notes    []midi.Note `json:"notes"`
	Compress bool        `json:"compress"`
}

// encode turns a JSON note list, bare or as {"notes": [...]}, into a MIDI
// file.
func (s *Server) encode(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.opts.MaxUpload))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req encodeRequest
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(body, &req.Notes)
	} else {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad note list: "+err.Error())
		return
	}

	opts := s.opts.Encode
	opts.CompressLongNotes = opts.CompressLongNotes || req.Compress
	writeMIDI(w, "recording.mid", smf.Encode(req.Notes, opts))
}

type pathRequest struct {
	InPath string `json:"inpath"`
}

// resolve maps a path from a client onto a file inside the data directory.
func (s *Server) resolve(p string) (string, error) {
	if p == "" {
		return "", errors.New("missing inpath")
	}
	clean := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the data directory", p)
	}
	return filepath.Join(s.opts.DataDir, clean), nil
}

func (s *Server) readInput(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	var req pathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request: "+err.Error())
		return "", nil, false
	}
	full, err := s.resolve(req.InPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", nil, false
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "no such file: "+req.InPath)
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return "", nil, false
	}
	return req.InPath, data, true
}

// sanitizeMIDI key-corrects an uploaded file, stores the result next to it
// and returns it.
func (s *Server) sanitizeMIDI(w http.ResponseWriter, r *http.Request) {
	inpath, data, ok := s.readInput(w, r)
	if !ok {
		return
	}
	res, err := theory.CorrectFile(data, s.opts.Encode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := strings.TrimSuffix(inpath, filepath.Ext(inpath)) + "_sanitized.mid"
	full, _ := s.resolve(out)
	if err := os.WriteFile(full, res.Data, 0644); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	debug.Log("server", "sanitized %s: %s, %d of %d notes moved", inpath, res.Key, len(res.Corrections), res.Notes)

	w.Header().Set("X-Detected-Key", res.Key.String())
	w.Header().Set("X-Output-Path", out)
	writeMIDI(w, filepath.Base(out), res.Data)
}

// generate uploads the stored prompt to the generation service and returns
// what it produced.
func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	if s.opts.Upstream == nil {
		writeError(w, http.StatusNotImplemented, "no generation service configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := remote.NewGenerateRequest("")
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	full, err := s.resolve(req.InPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	prompt, err := os.ReadFile(full)
	if err != nil {
		writeError(w, http.StatusNotFound, "no such file: "+req.InPath)
		return
	}

	upPath, err := s.opts.Upstream.UploadMIDI(r.Context(), filepath.Base(full), prompt)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	req.InPath = upPath
	out, err := s.opts.Upstream.Generate(r.Context(), req)
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, remote.ErrGenerationFailed) {
			code = http.StatusInternalServerError
		}
		writeError(w, code, err.Error())
		return
	}
	writeMIDI(w, "generated.mid", out)
}
