// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"os"
	"strings"

	"github.com/z5labs/anvil/config/key"
)

// Env is a [Source] backed by environment variables.
type Env struct {
	prefix  string
	environ func() []string
}

// EnvOption configures an [Env] source.
type EnvOption func(*Env)

// EnvPrefix restricts the source to variables starting with prefix.
// The prefix is stripped and the remainder is split on "_" into
// nested keys, so ANVIL_SERVER_PORT sets server.port.
func EnvPrefix(prefix string) EnvOption {
	return func(e *Env) {
		e.prefix = prefix
	}
}

// FromEnv returns a [Source] reading from os.Environ.
func FromEnv(opts ...EnvOption) Env {
	e := Env{
		environ: os.Environ,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Apply implements the [Source] interface.
func (src Env) Apply(store Store) error {
	for _, pair := range src.environ() {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if src.prefix == "" {
			err := store.Set(key.Name(k), v)
			if err != nil {
				return err
			}
			continue
		}

		rest, found := strings.CutPrefix(k, src.prefix)
		if !found || rest == "" {
			continue
		}
		var chain key.Chain
		for _, part := range strings.Split(rest, "_") {
			if part == "" {
				continue
			}
			chain = append(chain, key.Name(strings.ToLower(part)))
		}
		if len(chain) == 0 {
			continue
		}
		err := store.Set(chain, v)
		if err != nil {
			return err
		}
	}
	return nil
}
