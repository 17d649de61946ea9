// Package logging hands out component loggers that share one logrus base.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	base   = newBase()
	baseMu sync.Mutex
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// NewLogger returns an entry tagged with the component name. Entries stay
// bound to the shared base, so Configure affects loggers created earlier.
func NewLogger(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// Configure sets the level and output of every component logger. An empty
// or unknown level leaves the current level in place.
func Configure(level string, w io.Writer) {
	baseMu.Lock()
	defer baseMu.Unlock()
	if w != nil {
		base.SetOutput(w)
	}
	if lvl, err := logrus.ParseLevel(strings.TrimSpace(level)); err == nil {
		base.SetLevel(lvl)
	}
}

// SetJSON switches the shared formatter to JSON, for running under a supervisor.
func SetJSON(enabled bool) {
	baseMu.Lock()
	defer baseMu.Unlock()
	if enabled {
		base.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
