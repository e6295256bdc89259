package symrt

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NewLogger returns a logger writing to w at the named level.
// Colors are enabled only when w is a terminal.
func NewLogger(level string, w io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}

	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors:    !isTerminal(w),
		DisableTimestamp: true,
	})
	return logger, nil
}

// isTerminal returns true if w is a file attached to a terminal.
func isTerminal(w interface{}) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
