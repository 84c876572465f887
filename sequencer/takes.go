package sequencer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go-remi/midi"
)

const takeTimeFormat = "2006-01-02_15-04-05"

// Take is a recorded performance as saved to disk.
type Take struct {
	Name     string      `json:"name,omitempty"`
	Recorded time.Time   `json:"recorded"`
	Notes    []midi.Note `json:"notes"`
}

// TakeInfo represents a saved take file (for listing)
type TakeInfo struct {
	Filename  string
	Name      string // parsed from filename (empty if unnamed)
	Timestamp time.Time
}

// TakesDir returns the takes directory path
func TakesDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-remi", "takes"), nil
}

// SaveTake writes notes to dir as a timestamped JSON file and returns its
// filename.
func SaveTake(dir, name string, notes []midi.Note) (string, error) {
	return saveTakeAt(dir, name, notes, time.Now())
}

func saveTakeAt(dir, name string, notes []midi.Note, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	take := Take{Name: name, Recorded: at, Notes: notes}
	if take.Notes == nil {
		take.Notes = []midi.Note{}
	}
	data, err := json.MarshalIndent(take, "", "  ")
	if err != nil {
		return "", err
	}

	filename := at.Format(takeTimeFormat)
	if safe := sanitizeFilename(name); safe != "" {
		filename += "_" + safe
	}
	filename += ".json"
	if err := os.WriteFile(filepath.Join(dir, filename), data, 0644); err != nil {
		return "", err
	}
	return filename, nil
}

// ListTakes returns timestamped takes in dir, newest first
func ListTakes(dir string) ([]TakeInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []TakeInfo{}, nil
		}
		return nil, err
	}

	var takes []TakeInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}

		// 2024-01-15_14-30-00.json or 2024-01-15_14-30-00_name.json
		baseName := strings.TrimSuffix(name, ".json")
		if len(baseName) < len(takeTimeFormat) {
			continue
		}
		ts, err := time.ParseInLocation(takeTimeFormat, baseName[:len(takeTimeFormat)], time.Local)
		if err != nil {
			continue
		}

		takeName := ""
		if n := len(takeTimeFormat); len(baseName) > n+1 && baseName[n] == '_' {
			takeName = baseName[n+1:]
		}

		takes = append(takes, TakeInfo{
			Filename:  name,
			Name:      takeName,
			Timestamp: ts,
		})
	}

	sort.Slice(takes, func(i, j int) bool {
		return takes[i].Timestamp.After(takes[j].Timestamp)
	})
	return takes, nil
}

// LoadTake reads a take from dir (the most recent if filename is empty).
func LoadTake(dir, filename string) (*Take, error) {
	if filename == "" {
		takes, err := ListTakes(dir)
		if err != nil {
			return nil, err
		}
		if len(takes) == 0 {
			return nil, fmt.Errorf("no takes found in %s", dir)
		}
		filename = takes[0].Filename
	}

	data, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		return nil, err
	}
	var take Take
	if err := json.Unmarshal(data, &take); err != nil {
		return nil, fmt.Errorf("take %s: %w", filename, err)
	}
	return &take, nil
}

// DeleteTake deletes a take file
func DeleteTake(dir, filename string) error {
	return os.Remove(filepath.Join(dir, filename))
}

// sanitizeFilename removes/replaces characters that are problematic in filenames
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer(
		" ", "-", "/", "-", "\\", "-", ":", "-",
		"*", "", "?", "", "\"", "", "<", "", ">", "", "|", "",
	).Replace(name)
	return name
}
