// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package anvil runs HTTP services on an embedded application server.
//
// A service describes itself with a config type embedding [InstallConfig]
// and an [Initializer] registering its endpoints:
//
//	type Config struct {
//	    anvil.InstallConfig `config:",squash"`
//
//	    Greeting string `config:"greeting"`
//	}
//
//	func main() {
//	    anvil.Main(
//	        anvil.InitFunc[Config](func(ctx context.Context, cfg Config, srv *server.Server) error {
//	            return srv.API(endpoint.Endpoint{
//	                Method:  http.MethodGet,
//	                Pattern: "/greeting",
//	                Handler: greet(cfg.Greeting),
//	            })
//	        }),
//	        config.FromYaml(config.NewFileReader(os.DirFS("."), "var/conf/install.yml")),
//	        config.FromEnv(config.EnvPrefix("ANVIL_")),
//	    )
//	}
//
// [Run] reads and merges the config sources, builds logging, telemetry and
// the [server.Server], calls the initializer and then serves until SIGINT or
// SIGTERM triggers graceful shutdown.
package anvil
