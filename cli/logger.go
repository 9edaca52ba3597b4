package cli

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"io"
	"os"
	"time"
)

// newLogger backs logr with zerolog. Format "auto" picks the console writer
// when out is a terminal and JSON otherwise.
func newLogger(cfg LogConfig, out io.Writer) (logr.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return logr.Discard(), errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}

	switch cfg.Format {
	case "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "", "auto":
		if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		}
	default:
		return logr.Discard(), errors.Errorf("unknown log format %q, want auto, console or json", cfg.Format)
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return zerologr.New(&zl), nil
}
