// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package echo

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/z5labs/anvil/endpoint"
	"github.com/z5labs/anvil/request"

	"github.com/bytedance/sonic"
)

const maxRequestBytes = 64 << 10

type Request struct {
	Msg string `json:"msg"`
}

type Response struct {
	Msg string `json:"msg"`
}

type Option func(*Service)

func Prefix(s string) Option {
	return func(svc *Service) {
		svc.prefix = s
	}
}

func LogHandler(h slog.Handler) Option {
	return func(s *Service) {
		s.log = slog.New(h)
	}
}

// Service echoes a JSON message back to the client.
type Service struct {
	log    *slog.Logger
	prefix string
}

func NewService(opts ...Option) *Service {
	s := &Service{
		log: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle implements the [endpoint.Handler] interface.
func (s *Service) Handle(ctx context.Context, r *http.Request) (*endpoint.Response, error) {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		return nil, request.Error(http.StatusUnsupportedMediaType, err)
	}

	b, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return nil, request.Error(http.StatusBadRequest, err)
	}

	var req Request
	err = sonic.Unmarshal(b, &req)
	if err != nil {
		return nil, request.Error(http.StatusBadRequest, err)
	}

	s.log.InfoContext(ctx, "echoing back to client", slog.String("msg", req.Msg))

	out, err := sonic.Marshal(Response{Msg: s.prefix + req.Msg})
	if err != nil {
		return nil, err
	}
	return request.Bytes(http.StatusOK, "application/json", out), nil
}
