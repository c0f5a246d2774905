// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package slogfield standardizes the attribute keys used across server logs.
package slogfield

import (
	"log/slog"
	"net"
	"os"
	"time"
)

// Any returns an slog.Attr for the supplied value.
func Any(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// Bool returns an slog.Attr for a bool.
func Bool(key string, value bool) slog.Attr {
	return slog.Bool(key, value)
}

// Duration returns an slog.Attr for a time.Duration.
func Duration(key string, d time.Duration) slog.Attr {
	return slog.Duration(key, d)
}

// Error returns an slog.Attr for a error.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// String returns an slog.Attr for a string.
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Strings returns an slog.Attr for a slice of strings.
func Strings(key string, values []string) slog.Attr {
	return slog.Any(key, values)
}

// Int returns an slog.Attr for a int.
func Int(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Int64 returns an slog.Attr for a int64.
func Int64(key string, n int64) slog.Attr {
	return slog.Int64(key, n)
}

// ConnID identifies a single accepted connection.
func ConnID(id string) slog.Attr {
	return slog.String("connection_id", id)
}

// PeerAddr is the remote address of a connection.
func PeerAddr(addr net.Addr) slog.Attr {
	if addr == nil {
		return slog.String("peer_addr", "")
	}
	return slog.String("peer_addr", addr.String())
}

// RequestID identifies a single HTTP request.
func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

// Endpoint names the registered endpoint a request was routed to.
func Endpoint(name string) slog.Attr {
	return slog.String("endpoint", name)
}

// Signal is an OS signal which was received.
func Signal(sig os.Signal) slog.Attr {
	return slog.String("signal", sig.String())
}
