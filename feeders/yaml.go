package feeders

import (
	"os"

	"gopkg.in/yaml.v3"
)

// YamlFeeder reads YAML files.
type YamlFeeder struct {
	Path string
}

// NewYamlFeeder creates a new YamlFeeder that reads from the specified YAML file
func NewYamlFeeder(filePath string) YamlFeeder {
	return YamlFeeder{Path: filePath}
}

// Feed decodes the whole file into target.
func (y YamlFeeder) Feed(target any) error {
	data, err := os.ReadFile(y.Path)
	if err != nil {
		return wrapFileError("yaml", y.Path, err)
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return wrapFileError("yaml", y.Path, err)
	}
	return nil
}

// FeedKey reads a YAML file and extracts a specific key
func (y YamlFeeder) FeedKey(key string, target any) error {
	var allData map[string]yaml.Node
	if err := y.Feed(&allData); err != nil {
		return err
	}

	node, exists := allData[key]
	if !exists {
		return nil
	}
	if err := node.Decode(target); err != nil {
		return wrapKeyError("yaml", key, err)
	}
	return nil
}
