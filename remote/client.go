// Package remote talks to the music generation service: upload a MIDI
// prompt, then ask for a continuation of it.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go-remi/debug"
)

var (
	ErrGenerationFailed = errors.New("remote: generation failed")
	ErrInvalidParams    = errors.New("remote: invalid generation parameters")
)

// Generation parameter ranges accepted by the service.
const (
	MinBars, MaxBars               = 1, 16
	MinTemperature, MaxTemperature = 0.1, 1.5
	MinTopK, MaxTopK               = 1, 50

	DefaultBars        = 8
	DefaultTemperature = 0.9
	DefaultTopK        = 5
)

// GenerateRequest asks the service to continue the uploaded file at InPath.
type GenerateRequest struct {
	InPath      string  `json:"inpath"`
	Temperature float64 `json:"temperature"`
	NTargetBar  int     `json:"n_target_bar"`
	TopK        int     `json:"topk"`
}

// NewGenerateRequest returns a request for inpath with the default
// parameters.
func NewGenerateRequest(inpath string) GenerateRequest {
	return GenerateRequest{
		InPath:      inpath,
		Temperature: DefaultTemperature,
		NTargetBar:  DefaultBars,
		TopK:        DefaultTopK,
	}
}

// Validate checks every parameter is inside the range the service accepts.
func (r GenerateRequest) Validate() error {
	switch {
	case r.InPath == "":
		return fmt.Errorf("%w: missing input path", ErrInvalidParams)
	case r.NTargetBar < MinBars || r.NTargetBar > MaxBars:
		return fmt.Errorf("%w: bars %d not in %d-%d", ErrInvalidParams, r.NTargetBar, MinBars, MaxBars)
	case r.Temperature < MinTemperature || r.Temperature > MaxTemperature:
		return fmt.Errorf("%w: temperature %.2f not in %.1f-%.1f", ErrInvalidParams, r.Temperature, MinTemperature, MaxTemperature)
	case r.TopK < MinTopK || r.TopK > MaxTopK:
		return fmt.Errorf("%w: top-k %d not in %d-%d", ErrInvalidParams, r.TopK, MinTopK, MaxTopK)
	}
	return nil
}

// Client calls the generation service. The zero value is not usable; use
// NewClient.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Retries    int           // extra attempts after a transient failure
	Backoff    time.Duration // wait before retry n is n*Backoff
}

// NewClient returns a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		Retries:    2,
		Backoff:    500 * time.Millisecond,
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// statusError is a non-2xx reply. 5xx replies are worth retrying.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("status %d: %s", e.code, e.msg)
	}
	return fmt.Sprintf("status %d", e.code)
}

// UploadMIDI sends data as a multipart file and returns the path the
// service stored it under.
func (c *Client) UploadMIDI(ctx context.Context, filename string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	resp, err := c.do(ctx, "/upload_midi", mw.FormDataContentType(), body.Bytes())
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}

	var out struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("upload %s: bad response: %w", filename, err)
	}
	if out.Path == "" {
		return "", fmt.Errorf("upload %s: response has no path", filename)
	}
	debug.Log("remote", "uploaded %s (%d bytes) as %s", filename, len(data), out.Path)
	return out.Path, nil
}

// Generate runs the model and returns the generated MIDI file. Any reply
// that is not a MIDI file is reported as ErrGenerationFailed with the
// service's message.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, "/generate", "application/json", payload)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, se.Error())
		}
		return nil, fmt.Errorf("generate: %w", err)
	}

	if !bytes.HasPrefix(resp, []byte("MThd")) {
		var e errorBody
		if json.Unmarshal(resp, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, e.Error)
		}
		return nil, fmt.Errorf("%w: response is not a MIDI file (%d bytes)", ErrGenerationFailed, len(resp))
	}
	debug.Log("remote", "generated %d bytes from %s (bars=%d temp=%.1f topk=%d)",
		len(resp), req.InPath, req.NTargetBar, req.Temperature, req.TopK)
	return resp, nil
}

// do POSTs body to path, retrying transport errors and 5xx replies.
func (c *Client) do(ctx context.Context, path, contentType string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * c.Backoff
			debug.Log("remote", "retry %d for %s in %v: %v", attempt, path, wait, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		data, err := c.post(ctx, path, contentType, body)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) post(ctx context.Context, path, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		se := &statusError{code: resp.StatusCode}
		var e errorBody
		if json.Unmarshal(data, &e) == nil {
			se.msg = e.Error
		}
		return nil, se
	}
	return data, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return true
}
