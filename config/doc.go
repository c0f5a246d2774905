// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config merges configuration from one or more sources and decodes it into structs.
//
// # Sources
//
// A [Source] writes key value pairs into a [Store]. Sources are applied in order
// by [Read], with later sources overriding earlier ones:
//
//	m, err := config.Read(
//	    config.Map{"server": map[string]any{"port": 8443}},
//	    config.FromYaml(config.RenderTextTemplate(
//	        config.NewFileReader(os.DirFS("."), "var/conf/install.yml"),
//	        config.TemplateFunc("env", os.Getenv),
//	    )),
//	    config.FromEnv(config.EnvPrefix("ANVIL_")),
//	)
//
// # Decoding
//
// [Manager.Unmarshal] decodes using the "config" struct tag. Keys match field
// tags case-insensitively, strings are coerced into numbers and bools, durations
// may be written as "30s" and any [encoding.TextUnmarshaler] field is decoded
// from its text form.
//
// # Environment variables
//
// With [EnvPrefix], ANVIL_SERVER_MAXCONNECTIONS=100 sets server.maxConnections.
// Underscores separate nesting levels, so camel cased keys are written without one.
package config
