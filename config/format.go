// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"fmt"
	"io"

	"github.com/z5labs/anvil/internal/try"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

// InvalidFormatError is returned when a document source cannot be
// parsed in its declared format.
type InvalidFormatError struct {
	Format string
	Cause  error
}

// Error implements the error interface.
func (e InvalidFormatError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Format, e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e InvalidFormatError) Unwrap() error {
	return e.Cause
}

// Document is a [Source] reading a whole nested document from an
// [io.Reader]. The reader is closed once read if it is an [io.Closer].
type Document struct {
	format    string
	r         io.Reader
	unmarshal func([]byte, any) error
}

// FromYaml parses r as YAML.
func FromYaml(r io.Reader) Document {
	return Document{format: "yaml", r: r, unmarshal: yaml.Unmarshal}
}

// FromJson parses r as JSON.
func FromJson(r io.Reader) Document {
	return Document{format: "json", r: r, unmarshal: sonic.Unmarshal}
}

// Apply implements the [Source] interface.
func (src Document) Apply(store Store) (err error) {
	defer try.Close(&err, src.r)

	b, err := io.ReadAll(src.r)
	if err != nil {
		return err
	}

	var m map[string]any
	err = src.unmarshal(b, &m)
	if err != nil {
		return InvalidFormatError{Format: src.format, Cause: err}
	}
	return Map(m).Apply(store)
}
