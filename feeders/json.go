package feeders

import (
	"encoding/json"
	"os"
)

// JSONFeeder reads JSON files, typically snapshots of policies written by
// the CLI.
type JSONFeeder struct {
	Path string
}

// NewJSONFeeder creates a new JSONFeeder that reads from the specified JSON file
func NewJSONFeeder(filePath string) JSONFeeder {
	return JSONFeeder{Path: filePath}
}

// Feed decodes the whole file into target.
func (j JSONFeeder) Feed(target any) error {
	data, err := os.ReadFile(j.Path)
	if err != nil {
		return wrapFileError("json", j.Path, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return wrapFileError("json", j.Path, err)
	}
	return nil
}

// FeedKey reads a JSON file and extracts a specific key
func (j JSONFeeder) FeedKey(key string, target any) error {
	var allData map[string]json.RawMessage
	if err := j.Feed(&allData); err != nil {
		return err
	}

	raw, exists := allData[key]
	if !exists {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return wrapKeyError("json", key, err)
	}
	return nil
}
