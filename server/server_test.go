package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go-remi/midi"
	"go-remi/remote"
	"go-remi/smf"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	s, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func scaleFile(stray midi.Pitch) []byte {
	var notes []midi.Note
	for i, p := range []midi.Pitch{60, 62, 64, 65, 67, 69, 71, stray} {
		notes = append(notes, midi.Note{Pitch: p, StartMs: int64(i) * 500, DurationMs: 500, Velocity: 80})
	}
	return smf.Encode(notes, smf.DefaultEncodeOptions())
}

func upload(t *testing.T, url, name string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", name)
	fw.Write(data)
	mw.Close()
	resp, err := http.Post(url+"/upload_midi", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]string {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	return m
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(v)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHello(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	resp, err := http.Get(ts.URL + "/hello")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("no CORS header")
	}
	if m := decodeJSON(t, resp); m["message"] != "Hello, world!" {
		t.Errorf("body = %v", m)
	}
}

func TestUnknownRoute(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if m := decodeJSON(t, resp); m["error"] == "" {
		t.Error("no error message")
	}
}

func TestUpload(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	data := scaleFile(66)

	resp := upload(t, ts.URL, "my take.mid", data)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	path := decodeJSON(t, resp)["path"]
	if path != "uploads/20240301-120000.000_my-take.mid" {
		t.Errorf("path = %q", path)
	}
	stored, err := os.ReadFile(filepath.Join(s.opts.DataDir, filepath.FromSlash(path)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(stored, data) {
		t.Error("stored file differs")
	}
}

func TestUploadRejects(t *testing.T) {
	_, ts := newTestServer(t, Options{MaxUpload: 1024})

	resp := upload(t, ts.URL, "x.mid", []byte("definitely not midi"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("garbage: status %d", resp.StatusCode)
	}
	decodeJSON(t, resp)

	big := append(scaleFile(66), make([]byte, 4096)...)
	resp = upload(t, ts.URL, "big.mid", big)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("oversize: status %d", resp.StatusCode)
	}
	decodeJSON(t, resp)

	resp, err := http.Post(ts.URL+"/upload_midi", "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("no form: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestEncode(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	bodies := []string{
		`[{"pitch":"C4","startOffsetMs":1000,"durationMs":500},{"pitch":64,"startOffsetMs":1500,"durationMs":500}]`,
		`{"notes":[{"pitch":"C4","startOffsetMs":1000,"durationMs":500},{"pitch":"E4","startOffsetMs":1500,"durationMs":500}]}`,
	}
	for _, body := range bodies {
		resp, err := http.Post(ts.URL+"/encode", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "audio/midi" {
			t.Fatalf("status %d type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
		}
		f, err := smf.Decode(data)
		if err != nil {
			t.Fatal(err)
		}
		notes := f.Notes()
		if len(notes) != 2 || notes[0].StartMs != 0 || notes[1].Pitch != 64 {
			t.Errorf("notes = %+v", notes)
		}
	}

	resp, err := http.Post(ts.URL+"/encode", "application/json", strings.NewReader(`[{"pitch":"H9"}]`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad pitch: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSanitize(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	path := decodeJSON(t, upload(t, ts.URL, "scale.mid", scaleFile(66)))["path"]

	resp := postJSON(t, ts.URL+"/sanitize_midi", map[string]string{"inpath": path})
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	if got := resp.Header.Get("X-Detected-Key"); got != "C major" {
		t.Errorf("key = %q", got)
	}

	f, err := smf.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range f.Notes() {
		if n.Pitch == 66 {
			t.Error("F# survived correction")
		}
	}

	out := resp.Header.Get("X-Output-Path")
	if _, err := os.Stat(filepath.Join(s.opts.DataDir, filepath.FromSlash(out))); err != nil {
		t.Errorf("corrected file not stored: %v", err)
	}
}

func TestSanitizeBadPaths(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	tests := []struct {
		inpath string
		code   int
	}{
		{"", http.StatusBadRequest},
		{"../etc/passwd", http.StatusBadRequest},
		{"/etc/passwd", http.StatusBadRequest},
		{"uploads/missing.mid", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp := postJSON(t, ts.URL+"/sanitize_midi", map[string]string{"inpath": tt.inpath})
		if resp.StatusCode != tt.code {
			t.Errorf("%q: status %d, want %d", tt.inpath, resp.StatusCode, tt.code)
		}
		if m := decodeJSON(t, resp); m["error"] == "" {
			t.Errorf("%q: no error message", tt.inpath)
		}
	}
}

func TestGenerateWithoutUpstream(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	resp := postJSON(t, ts.URL+"/generate", map[string]string{"inpath": "uploads/a.mid"})
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status %d", resp.StatusCode)
	}
	decodeJSON(t, resp)
}

func TestGenerateProxies(t *testing.T) {
	generated := scaleFile(67)
	var seen remote.GenerateRequest
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/upload_midi":
			json.NewEncoder(w).Encode(map[string]string{"path": "/srv/prompt.mid"})
		case "/generate":
			json.NewDecoder(r.Body).Decode(&seen)
			w.Write(generated)
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	_, ts := newTestServer(t, Options{Upstream: remote.NewClient(upstream.URL, 5*time.Second)})
	path := decodeJSON(t, upload(t, ts.URL, "prompt.mid", scaleFile(66)))["path"]

	resp := postJSON(t, ts.URL+"/generate", map[string]any{"inpath": path, "n_target_bar": 4})
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	if !bytes.Equal(data, generated) {
		t.Error("generated file not passed through")
	}
	want := remote.GenerateRequest{InPath: "/srv/prompt.mid", Temperature: 0.9, NTargetBar: 4, TopK: 5}
	if seen != want {
		t.Errorf("upstream saw %+v", seen)
	}

	resp = postJSON(t, ts.URL+"/generate", map[string]any{"inpath": path, "topk": 500})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad params: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}
