// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the install time configuration of a [Server].
type Config struct {
	Port    int    `config:"port"`
	Address string `config:"address"`

	// ContextPath prefixes every registered endpoint, e.g. "/my-service".
	ContextPath string `config:"contextPath"`

	MaxConnections        int           `config:"maxConnections"`
	IdleConnectionTimeout time.Duration `config:"idleConnectionTimeout"`
	HandshakeTimeout      time.Duration `config:"handshakeTimeout"`

	// Backlog is logged only. Go does not expose the listen backlog.
	Backlog int `config:"backlog"`

	// IOThreads sets GOMAXPROCS when greater than zero.
	IOThreads int `config:"ioThreads"`

	BlockingPool struct {
		Workers   int `config:"workers"`
		QueueSize int `config:"queueSize"`
	} `config:"blockingPool"`

	ShutdownTimeout time.Duration `config:"shutdownTimeout"`
	TrustRequestIDs bool          `config:"trustRequestIds"`

	TLS TLSConfig `config:"tls"`
}

// TLSConfig locates TLS key material. TLS is disabled unless
// both CertFile and KeyFile are set.
type TLSConfig struct {
	CertFile     string `config:"certFile"`
	KeyFile      string `config:"keyFile"`
	ClientCAFile string `config:"clientCAFile"`

	// ClientAuth is one of "none", "request" or "require".
	ClientAuth string `config:"clientAuth"`
}

// Enabled reports whether TLS key material is configured.
func (c TLSConfig) Enabled() bool {
	return c.CertFile != "" || c.KeyFile != ""
}

// DefaultConfig returns the configuration used for any unset value.
func DefaultConfig() Config {
	cfg := Config{
		Port:                  8443,
		MaxConnections:        10000,
		IdleConnectionTimeout: time.Minute,
		HandshakeTimeout:      10 * time.Second,
		ShutdownTimeout:       15 * time.Second,
	}
	cfg.BlockingPool.Workers = 64
	cfg.BlockingPool.QueueSize = 1024
	cfg.TLS.ClientAuth = "none"
	return cfg
}

// Addr is the host:port the server binds.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// InvalidConfigError is returned by [New] for values which can never work.
type InvalidConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid server config %s: %s", e.Field, e.Reason)
}

func (c Config) validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, InvalidConfigError{Field: "port", Reason: "must be between 0 and 65535"})
	}
	if c.MaxConnections < 1 {
		errs = append(errs, InvalidConfigError{Field: "maxConnections", Reason: "must be positive"})
	}
	if c.BlockingPool.Workers < 1 {
		errs = append(errs, InvalidConfigError{Field: "blockingPool.workers", Reason: "must be positive"})
	}
	if c.BlockingPool.QueueSize < 0 {
		errs = append(errs, InvalidConfigError{Field: "blockingPool.queueSize", Reason: "must not be negative"})
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, InvalidConfigError{Field: "shutdownTimeout", Reason: "must be positive"})
	}
	return errors.Join(errs...)
}

// TLSConfigError is returned for unusable TLS key material.
type TLSConfigError struct {
	File  string
	Cause error
}

// Error implements the error interface.
func (e TLSConfigError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("invalid tls config: %s", e.Cause)
	}
	return fmt.Sprintf("invalid tls config %s: %s", e.File, e.Cause)
}

// Unwrap implements the implicit interface for usage with errors.Is and errors.As.
func (e TLSConfigError) Unwrap() error {
	return e.Cause
}

var errNoClientCAs = errors.New("no certificates found")

func (c TLSConfig) load() (*tls.Config, error) {
	if c.CertFile == "" || c.KeyFile == "" {
		return nil, TLSConfigError{Cause: errors.New("certFile and keyFile must both be set")}
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, TLSConfigError{File: c.CertFile, Cause: err}
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	switch strings.ToLower(c.ClientAuth) {
	case "", "none":
		cfg.ClientAuth = tls.NoClientCert
	case "request":
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	case "require":
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	default:
		return nil, TLSConfigError{Cause: fmt.Errorf("unknown client auth mode: %s", c.ClientAuth)}
	}

	if c.ClientCAFile == "" {
		if cfg.ClientAuth != tls.NoClientCert {
			return nil, TLSConfigError{Cause: errors.New("clientCAFile is required to verify client certificates")}
		}
		return cfg, nil
	}

	pem, err := os.ReadFile(c.ClientCAFile)
	if err != nil {
		return nil, TLSConfigError{File: c.ClientCAFile, Cause: err}
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, TLSConfigError{File: c.ClientCAFile, Cause: errNoClientCAs}
	}
	cfg.ClientCAs = pool
	return cfg, nil
}
