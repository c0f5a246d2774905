// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/z5labs/anvil"
	"github.com/z5labs/anvil/config"
	"github.com/z5labs/anvil/server"

	"github.com/spf13/cobra"
)

const (
	handlerAsync    = "async"
	handlerBlocking = "blocking"
)

// UnknownHandlerTypeError is returned by serve for a --handler-type
// other than async or blocking.
type UnknownHandlerTypeError struct {
	Type string
}

// Error implements the error interface.
func (e UnknownHandlerTypeError) Error() string {
	return fmt.Sprintf("invalid handler type: %q", e.Type)
}

type serveConfig struct {
	anvil.InstallConfig `config:",squash"`
}

type serveOptions struct {
	configPath  string
	handlerType string
	envPrefix   string
	logOut      io.Writer
	serverOpts  []server.Option
}

func newServeCmd() *cobra.Command {
	o := &serveOptions{
		handlerType: os.Getenv("HANDLER_TYPE"),
		envPrefix:   "ANVIL_",
	}
	if o.handlerType == "" {
		o.handlerType = handlerAsync
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the test endpoints until signalled",
		RunE: func(cmd *cobra.Command, args []string) error {
			o.logOut = cmd.OutOrStdout()
			return serve(cmd.Context(), o)
		},
	}
	cmd.Flags().StringVar(&o.configPath, "config", "", "path to the YAML install config")
	cmd.Flags().StringVar(&o.handlerType, "handler-type", o.handlerType, "how test endpoints are dispatched: async or blocking")
	return cmd
}

func serve(ctx context.Context, o *serveOptions) error {
	var blocking bool
	switch o.handlerType {
	case handlerAsync:
	case handlerBlocking:
		blocking = true
	default:
		return UnknownHandlerTypeError{Type: o.handlerType}
	}

	var srcs []config.Source
	if o.configPath != "" {
		f := config.NewFileReader(os.DirFS(filepath.Dir(o.configPath)), filepath.Base(o.configPath))
		srcs = append(srcs, config.FromYaml(config.RenderTextTemplate(
			f,
			config.TemplateFunc("env", os.Getenv),
		)))
	}
	srcs = append(srcs, config.FromEnv(config.EnvPrefix(o.envPrefix)))

	tr := testResource{blocking: blocking}
	initFn := anvil.InitFunc[serveConfig](func(ctx context.Context, cfg serveConfig, srv *server.Server) error {
		if blocking {
			return srv.BlockingAPI(tr.endpoints()...)
		}
		return srv.API(tr.endpoints()...)
	})

	r := anvil.NewRunner[serveConfig](
		initFn,
		anvil.LogOutput(o.logOut),
		anvil.ServerOptions(o.serverOpts...),
	)
	return r.Run(ctx, srcs...)
}
