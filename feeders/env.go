package feeders

import (
	"encoding"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

// DefaultEnvPrefix is the prefix the CLI uses for environment overrides.
const DefaultEnvPrefix = "RULEFLOW"

var (
	durationType        = reflect.TypeFor[time.Duration]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
)

// EnvFeeder sets `env:"NAME"` tagged struct fields from environment
// variables named PREFIX_NAME. Unset or empty variables leave fields alone.
type EnvFeeder struct {
	Prefix string

	// Lookup replaces os.LookupEnv, e.g. with variables parsed from a .env file.
	Lookup func(name string) (string, bool)
}

// NewEnvFeeder creates an EnvFeeder reading the process environment.
func NewEnvFeeder(prefix string) EnvFeeder {
	return EnvFeeder{Prefix: prefix, Lookup: os.LookupEnv}
}

// Feed fills the tagged fields of structure, which must be a pointer to a struct.
func (f EnvFeeder) Feed(structure any) error {
	rv := reflect.ValueOf(structure)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return ErrEnvInvalidStructure
	}
	lookup := f.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return f.processStruct(rv.Elem(), lookup)
}

func (f EnvFeeder) processStruct(rv reflect.Value, lookup func(string) (string, bool)) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)
		if !fieldType.IsExported() {
			continue
		}

		tag, tagged := fieldType.Tag.Lookup("env")
		switch {
		case tagged:
			if err := f.setField(field, tag, lookup); err != nil {
				return err
			}
		case field.Kind() == reflect.Struct:
			if err := f.processStruct(field, lookup); err != nil {
				return err
			}
		case field.Kind() == reflect.Pointer && !field.IsNil() && field.Elem().Kind() == reflect.Struct:
			if err := f.processStruct(field.Elem(), lookup); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f EnvFeeder) envName(tag string) string {
	name := strings.ToUpper(tag)
	if f.Prefix != "" {
		name = strings.ToUpper(strings.TrimSuffix(f.Prefix, "_")) + "_" + name
	}
	return name
}

func (f EnvFeeder) setField(field reflect.Value, tag string, lookup func(string) (string, bool)) error {
	name := f.envName(tag)
	value, ok := lookup(name)
	if !ok || value == "" {
		return nil
	}
	if !field.CanSet() {
		return ErrEnvFieldCannotBeSet
	}

	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return wrapEnvConversionError(name, value, field.Type().String(), err)
		}
		field.SetInt(int64(d))
		return nil
	case reflect.PointerTo(field.Type()).Implements(textUnmarshalerType):
		if err := field.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(value)); err != nil {
			return wrapEnvConversionError(name, value, field.Type().String(), err)
		}
		return nil
	}

	converted, err := cast.FromType(value, field.Type())
	if err != nil {
		return wrapEnvConversionError(name, value, field.Type().String(), err)
	}
	field.Set(reflect.ValueOf(converted).Convert(field.Type()))
	return nil
}
