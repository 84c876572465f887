package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

var fakeMIDI = []byte("MThd\x00\x00\x00\x06\x00\x00\x00\x01\x01\xe0")

func testClient(url string) *Client {
	c := NewClient(url, 5*time.Second)
	c.Backoff = time.Millisecond
	return c
}

func TestValidate(t *testing.T) {
	ok := NewGenerateRequest("uploads/a.mid")
	if err := ok.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	tests := []func(*GenerateRequest){
		func(r *GenerateRequest) { r.InPath = "" },
		func(r *GenerateRequest) { r.NTargetBar = 0 },
		func(r *GenerateRequest) { r.NTargetBar = 17 },
		func(r *GenerateRequest) { r.Temperature = 0.05 },
		func(r *GenerateRequest) { r.Temperature = 1.6 },
		func(r *GenerateRequest) { r.TopK = 0 },
		func(r *GenerateRequest) { r.TopK = 51 },
	}
	for i, mutate := range tests {
		r := ok
		mutate(&r)
		if err := r.Validate(); !errors.Is(err, ErrInvalidParams) {
			t.Errorf("case %d: %+v validated: %v", i, r, err)
		}
	}

	edge := GenerateRequest{InPath: "x", NTargetBar: 16, Temperature: 1.5, TopK: 50}
	if err := edge.Validate(); err != nil {
		t.Errorf("upper bounds rejected: %v", err)
	}
}

func TestUploadMIDI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload_midi" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if hdr.Filename != "take.mid" || string(data) != string(fakeMIDI) {
			http.Error(w, "wrong file", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"path": "uploads/take.mid"})
	}))
	defer srv.Close()

	path, err := testClient(srv.URL).UploadMIDI(context.Background(), "take.mid", fakeMIDI)
	if err != nil {
		t.Fatal(err)
	}
	if path != "uploads/take.mid" {
		t.Errorf("path = %q", path)
	}
}

func TestGenerate(t *testing.T) {
	var got GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type %q", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "audio/midi")
		w.Write(fakeMIDI)
	}))
	defer srv.Close()

	req := GenerateRequest{InPath: "uploads/take.mid", Temperature: 1.2, NTargetBar: 4, TopK: 10}
	data, err := testClient(srv.URL).Generate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(fakeMIDI) {
		t.Errorf("body = %q", data)
	}
	if got != req {
		t.Errorf("server saw %+v", got)
	}
}

func TestGenerateErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "model not loaded"})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), NewGenerateRequest("a.mid"))
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("err = %v", err)
	}
	if want := "remote: generation failed: model not loaded"; err.Error() != want {
		t.Errorf("err = %q, want %q", err, want)
	}
}

func TestGenerateClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "no such file"})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), NewGenerateRequest("a.mid"))
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("%d calls for a 400", calls.Load())
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(fakeMIDI)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.Retries = 2
	if _, err := c.Generate(context.Background(), NewGenerateRequest("a.mid")); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d", calls.Load())
	}

	calls.Store(0)
	c.Retries = 1
	if _, err := c.Generate(context.Background(), NewGenerateRequest("a.mid")); !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("err = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d", calls.Load())
	}
}

func TestInvalidParamsNotSent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	req := NewGenerateRequest("a.mid")
	req.TopK = 99
	if _, err := testClient(srv.URL).Generate(context.Background(), req); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("err = %v", err)
	}
	if calls.Load() != 0 {
		t.Error("invalid request reached the server")
	}
}

func TestContextCancelStopsRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.Retries = 5
	c.Backoff = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.UploadMIDI(ctx, "a.mid", fakeMIDI)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("waited out the backoff")
	}
}
