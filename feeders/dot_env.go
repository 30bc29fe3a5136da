package feeders

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// DotEnvFeeder feeds `env` tagged fields from a .env file instead of the
// process environment. Names carry the same prefix as with EnvFeeder.
type DotEnvFeeder struct {
	Path   string
	Prefix string
}

// NewDotEnvFeeder creates a feeder for the .env file at filePath.
func NewDotEnvFeeder(filePath, prefix string) DotEnvFeeder {
	return DotEnvFeeder{Path: filePath, Prefix: prefix}
}

// Feed parses the file and fills the tagged fields of structure.
func (f DotEnvFeeder) Feed(structure any) error {
	vars, err := ParseDotEnv(f.Path)
	if err != nil {
		return err
	}
	env := EnvFeeder{Prefix: f.Prefix, Lookup: func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}}
	return env.Feed(structure)
}

// ParseDotEnv reads KEY=VALUE lines. Blank lines and # comments are skipped,
// and matching single or double quotes around a value are removed.
func ParseDotEnv(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, wrapFileError("dotenv", path, err)
	}
	defer file.Close()

	vars := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w at line %d: %s", ErrDotEnvInvalidLineFormat, lineNum, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		vars[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, wrapFileError("dotenv", path, err)
	}
	return vars, nil
}
