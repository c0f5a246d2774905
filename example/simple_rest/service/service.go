// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package service

import (
	"context"
	"net/http"

	"github.com/z5labs/anvil"
	"github.com/z5labs/anvil/endpoint"
	"github.com/z5labs/anvil/example/simple_rest/echo"
	"github.com/z5labs/anvil/server"
)

type Config struct {
	anvil.InstallConfig `config:",squash"`

	Echo struct {
		Prefix string `config:"prefix"`
	} `config:"echo"`
}

func Init(ctx context.Context, cfg Config, srv *server.Server) error {
	echoService := echo.NewService(
		echo.Prefix(cfg.Echo.Prefix),
		echo.LogHandler(srv.LogHandler()),
	)

	return srv.API(endpoint.Endpoint{
		Name:    "echo",
		Method:  http.MethodPost,
		Pattern: "/echo",
		Handler: echoService,
	})
}
