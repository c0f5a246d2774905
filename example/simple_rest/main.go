// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"embed"

	"github.com/z5labs/anvil"
	"github.com/z5labs/anvil/config"
	"github.com/z5labs/anvil/example/simple_rest/service"
)

//go:embed config.yaml
var configDir embed.FS

func main() {
	anvil.Main(
		anvil.InitFunc[service.Config](service.Init),
		config.FromYaml(
			config.NewFileReader(configDir, "config.yaml"),
		),
		config.FromEnv(config.EnvPrefix("ECHO_")),
	)
}
