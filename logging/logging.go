// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package logging builds the service logger and the request access logger.
//
// The service log is a [log/slog] logger. The access log is a separate
// [go.uber.org/zap] logger writing one JSON line per request so it can be
// shipped and sampled independently.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the logging section of the install config.
type Config struct {
	// Level is one of debug, info, warn or error. Defaults to info.
	Level string `config:"level"`

	// Format is either json or text. Defaults to json.
	Format string `config:"format"`

	AccessLog AccessLogConfig `config:"accessLog"`
}

// AccessLogConfig configures the per-request log.
type AccessLogConfig struct {
	Disabled bool `config:"disabled"`

	// Path is a file path, or "stdout"/"stderr". Defaults to stdout.
	Path string `config:"path"`
}

// UnknownLevelError is returned for an unrecognized log level.
type UnknownLevelError struct {
	Level string
}

// Error implements the error interface.
func (e UnknownLevelError) Error() string {
	return fmt.Sprintf("unknown log level: %s", e.Level)
}

// UnknownFormatError is returned for an unrecognized log format.
type UnknownFormatError struct {
	Format string
}

// Error implements the error interface.
func (e UnknownFormatError) Error() string {
	return fmt.Sprintf("unknown log format: %s", e.Format)
}

// NewHandler returns a trace correlating [slog.Handler] writing to w.
func NewHandler(w io.Writer, cfg Config) (slog.Handler, error) {
	var lvl slog.Level
	if cfg.Level != "" {
		err := lvl.UnmarshalText([]byte(cfg.Level))
		if err != nil {
			return nil, UnknownLevelError{Level: cfg.Level}
		}
	}

	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     lvl,
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, UnknownFormatError{Format: cfg.Format}
	}
	return NewTraceHandler(h), nil
}

// NewAccessLogger builds the zap logger used for request logs.
func NewAccessLogger(cfg AccessLogConfig) (*zap.Logger, error) {
	if cfg.Disabled {
		return zap.NewNop(), nil
	}

	path := cfg.Path
	if path == "" {
		path = "stdout"
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	zcfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding:          "json",
		EncoderConfig:     encCfg,
		OutputPaths:       []string{path},
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     true,
		DisableStacktrace: true,
	}
	return zcfg.Build(zap.Fields(zap.String("type", "request")))
}

// NewAccessLoggerTo is like [NewAccessLogger] but writes to w.
func NewAccessLoggerTo(w io.Writer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(w),
		zap.InfoLevel,
	)
	return zap.New(core, zap.Fields(zap.String("type", "request")))
}
