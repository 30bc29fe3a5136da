package feeders

import (
	"github.com/BurntSushi/toml"
)

// TomlFeeder reads TOML files.
type TomlFeeder struct {
	Path string
}

// NewTomlFeeder creates a new TomlFeeder that reads from the specified TOML file
func NewTomlFeeder(filePath string) TomlFeeder {
	return TomlFeeder{Path: filePath}
}

// Feed decodes the whole file into target.
func (t TomlFeeder) Feed(target any) error {
	if _, err := toml.DecodeFile(t.Path, target); err != nil {
		return wrapFileError("toml", t.Path, err)
	}
	return nil
}

// FeedKey reads a TOML file and extracts a specific key
func (t TomlFeeder) FeedKey(key string, target any) error {
	var allData map[string]toml.Primitive
	md, err := toml.DecodeFile(t.Path, &allData)
	if err != nil {
		return wrapFileError("toml", t.Path, err)
	}

	value, exists := allData[key]
	if !exists {
		return nil
	}
	if err := md.PrimitiveDecode(value, target); err != nil {
		return wrapKeyError("toml", key, err)
	}
	return nil
}
