// Package logx configures the process-wide zerolog logger. The chat REPL
// owns stdout, so log output always goes to stderr.
package logx

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Level   string `split_words:"true" default:"info"`
	Pretty  bool   `split_words:"true" default:"false"`
	Service string `split_words:"true" default:"salesagent"`
}

var DefaultConfig = &Config{
	Level:   "info",
	Pretty:  false,
	Service: "salesagent",
}

func safe(opts ...Config) *Config {
	if len(opts) == 0 {
		return DefaultConfig
	}
	return &opts[0]
}

func Init(opts ...Config) {
	conf := safe(opts...)

	out := io.Writer(os.Stderr)
	if conf.Pretty {
		out = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stderr
		})
	}

	logger := zerolog.New(out).Level(levelFor(conf.Level)).With().Timestamp()
	if conf.Service != "" {
		logger = logger.Str("service", conf.Service)
	}
	log.Logger = logger.Logger()
}

// levelFor maps a level name to a zerolog level, falling back to info on
// anything unknown. Logging config must never fail startup.
func levelFor(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
