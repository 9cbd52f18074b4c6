// Package autoload initializes the global logger from the environment when
// blank-imported.
package autoload

import (
	"github.com/kelseyhightower/envconfig"

	logx "github.com/vozavi/salesagent/pkg/logger"
)

func init() {
	cfg := *logx.DefaultConfig
	// Env errors fall back to the defaults; logging must never block startup.
	_ = envconfig.Process("LOG", &cfg)
	logx.Init(cfg)
}
