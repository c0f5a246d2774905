// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/z5labs/anvil/conn"
	"github.com/z5labs/anvil/internal/noop"

	"github.com/stretchr/testify/require"
)

func TestNewEngine(t *testing.T) {
	t.Run("will return a HTTP2ConfigError", func(t *testing.T) {
		t.Run("if the cipher suites cannot serve http2", func(t *testing.T) {
			tlsConfig := &tls.Config{
				MinVersion:   tls.VersionTLS12,
				CipherSuites: []uint16{tls.TLS_RSA_WITH_AES_128_CBC_SHA},
			}

			_, err := newEngine(context.Background(), http.NotFoundHandler(), tlsConfig, noop.LogHandler{})

			var herr HTTP2ConfigError
			require.ErrorAs(t, err, &herr)
		})
	})

	t.Run("will not modify the given tls config", func(t *testing.T) {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

		_, err := newEngine(context.Background(), http.NotFoundHandler(), tlsConfig, noop.LogHandler{})
		require.Nil(t, err)
		require.Empty(t, tlsConfig.NextProtos)
	})
}

func TestEngine_ServeHTTP2(t *testing.T) {
	t.Run("will close connections arriving after shutdown started", func(t *testing.T) {
		e, err := newEngine(context.Background(), http.NotFoundHandler(), nil, noop.LogHandler{})
		require.Nil(t, err)
		require.Nil(t, e.shutdown(context.Background()))

		server, client := net.Pipe()
		defer client.Close()
		c := conn.New(server)

		served := make(chan struct{})
		go func() {
			defer close(served)
			e.serveHTTP2(c)
		}()

		select {
		case <-served:
		case <-time.After(time.Second):
			t.Fatal("connection was served after shutdown")
		}
		select {
		case <-c.Done():
		default:
			t.Fatal("connection was not closed")
		}
	})
}
