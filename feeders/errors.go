package feeders

import (
	"errors"
	"fmt"
)

// File feeder errors
var (
	ErrUnsupportedExtension = errors.New("unsupported configuration file extension")
	ErrFileRead             = errors.New("failed to read configuration file")
	ErrKeyDecode            = errors.New("failed to decode configuration key")
)

// Env feeder errors
var (
	ErrEnvInvalidStructure = errors.New("env: expected pointer to struct")
	ErrEnvFieldCannotBeSet = errors.New("env: field cannot be set")
	ErrEnvConversion       = errors.New("env: cannot convert value")
)

// DotEnv feeder errors
var (
	ErrDotEnvInvalidLineFormat = errors.New("invalid .env line format")
)

func wrapFileError(format, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrFileRead, format, path, err)
}

func wrapKeyError(format, key string, err error) error {
	return fmt.Errorf("%w: %s key %q: %w", ErrKeyDecode, format, key, err)
}

func wrapEnvConversionError(name, value, typeName string, err error) error {
	return fmt.Errorf("%w %s=%q to %s: %w", ErrEnvConversion, name, value, typeName, err)
}
