package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go-remi/remote"
	"go-remi/smf"
)

// OutputConfig is the MIDI port notes are played on
type OutputConfig struct {
	PortName string `json:"portName,omitempty"` // substring match, empty = first port
	Channel  uint8  `json:"channel"`
}

// KeyboardConfig is the MIDI input used for recording
type KeyboardConfig struct {
	PortName string `json:"portName,omitempty"`
	Monitor  bool   `json:"monitor"` // echo played notes to the output
}

// ServiceConfig points at the generation service
type ServiceConfig struct {
	BaseURL   string `json:"baseURL"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
	Retries   int    `json:"retries"`
}

// GenerationConfig holds the default model parameters
type GenerationConfig struct {
	Bars        int     `json:"bars"`
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"topk"`
}

// EncoderConfig controls how recordings are written
type EncoderConfig struct {
	PPQ               int     `json:"ppq"`
	MsPerBeat         float64 `json:"msPerBeat"`
	CompressLongNotes bool    `json:"compressLongNotes"`
	Velocity          uint8   `json:"velocity"`
	Program           uint8   `json:"program"`
}

// PlaybackConfig tunes the scheduler
type PlaybackConfig struct {
	PollIntervalMs int `json:"pollIntervalMs,omitempty"`
	SeekStepMs     int `json:"seekStepMs,omitempty"`
}

// ServerConfig configures `go-remi serve`
type ServerConfig struct {
	Addr     string `json:"addr"`
	DataDir  string `json:"dataDir,omitempty"` // empty = <config dir>/data
	Upstream string `json:"upstream,omitempty"`
}

// UIConfig stores UI preferences
type UIConfig struct {
	PalettePath string `json:"palettePath,omitempty"` // GIMP .gpl palette
	LastDeck    string `json:"lastDeck,omitempty"`
}

// Config is the main configuration structure
type Config struct {
	Output     OutputConfig     `json:"output"`
	Keyboard   KeyboardConfig   `json:"keyboard"`
	Service    ServiceConfig    `json:"service"`
	Generation GenerationConfig `json:"generation"`
	Encoder    EncoderConfig    `json:"encoder"`
	Playback   PlaybackConfig   `json:"playback"`
	Server     ServerConfig     `json:"server"`
	UI         UIConfig         `json:"ui,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	enc := smf.DefaultEncodeOptions()
	return &Config{
		Keyboard: KeyboardConfig{Monitor: true},
		Service: ServiceConfig{
			BaseURL:   "http://localhost:5000",
			TimeoutMs: 120000,
			Retries:   2,
		},
		Generation: GenerationConfig{
			Bars:        remote.DefaultBars,
			Temperature: remote.DefaultTemperature,
			TopK:        remote.DefaultTopK,
		},
		Encoder: EncoderConfig{
			PPQ:       enc.PPQ,
			MsPerBeat: enc.MsPerBeat,
			Velocity:  enc.Velocity,
		},
		Playback: PlaybackConfig{
			PollIntervalMs: 50,
			SeekStepMs:     5000,
		},
		Server: ServerConfig{
			Addr: "localhost:5000",
		},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-remi"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found.
// Settings missing from the file keep their defaults.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// EncodeOptions converts the encoder section for smf.Encode.
func (c *Config) EncodeOptions() smf.EncodeOptions {
	opts := smf.DefaultEncodeOptions()
	if c.Encoder.PPQ > 0 {
		opts.PPQ = c.Encoder.PPQ
	}
	if c.Encoder.MsPerBeat > 0 {
		opts.MsPerBeat = c.Encoder.MsPerBeat
	}
	if c.Encoder.Velocity > 0 {
		opts.Velocity = c.Encoder.Velocity
	}
	opts.CompressLongNotes = c.Encoder.CompressLongNotes
	opts.Program = c.Encoder.Program
	opts.Channel = c.Output.Channel
	return opts
}

// GenerateRequest builds a request for inpath from the generation section.
func (c *Config) GenerateRequest(inpath string) remote.GenerateRequest {
	return remote.GenerateRequest{
		InPath:      inpath,
		Temperature: c.Generation.Temperature,
		NTargetBar:  c.Generation.Bars,
		TopK:        c.Generation.TopK,
	}
}

// Client returns a generation service client for the service section.
func (c *Config) Client() *remote.Client {
	cl := remote.NewClient(c.Service.BaseURL, time.Duration(c.Service.TimeoutMs)*time.Millisecond)
	cl.Retries = c.Service.Retries
	return cl
}

// PollInterval is the scheduler progress interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Playback.PollIntervalMs) * time.Millisecond
}

// SeekStep is how far one seek key press moves.
func (c *Config) SeekStep() time.Duration {
	if c.Playback.SeekStepMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Playback.SeekStepMs) * time.Millisecond
}

// DataDir is where the companion service stores files.
func (c *Config) DataDir() (string, error) {
	if c.Server.DataDir != "" {
		return c.Server.DataDir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}
