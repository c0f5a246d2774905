// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/z5labs/anvil"
	"github.com/z5labs/anvil/config"
	"github.com/z5labs/anvil/endpoint"
	"github.com/z5labs/anvil/server"
)

func initService(ctx context.Context, cfg anvil.InstallConfig, srv *server.Server) error {
	return srv.API(endpoint.Endpoint{
		Method:  http.MethodGet,
		Pattern: "/",
		Handler: endpoint.HTTP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "Hello, world")
		})),
	})
}

func main() {
	anvil.Main(
		anvil.InitFunc[anvil.InstallConfig](initService),
		config.FromEnv(config.EnvPrefix("SIMPLE_HTTP_")),
	)
}
