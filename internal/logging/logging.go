// Package logging wraps a single process-wide structured logger used for
// operator-facing diagnostics (GC cycle summaries, REPL session lifecycle,
// native-function failures). It is never used for script output — `print`
// always goes through vm.VM.Stdout, never through here.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.WarnLevel)
	return l
}

// SetLevel parses one of "debug", "info", "warn", "error" and applies it to
// the process-wide logger; an unrecognized level is ignored.
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	log.SetLevel(parsed)
}

// GCCycle reports one completed mark-sweep cycle at debug level.
func GCCycle(beforeBytes, afterBytes, freed int) {
	log.WithFields(logrus.Fields{
		"before_bytes": beforeBytes,
		"after_bytes":  afterBytes,
		"freed":        freed,
	}).Debug("gc cycle")
}

// ReplStart/ReplEnd bracket an interactive session at info level.
func ReplStart() { log.Info("repl session started") }
func ReplEnd()   { log.Info("repl session ended") }

// NativeFailure reports a native callable's internal (non-script-facing)
// failure at warn level — the script itself still gets the error through
// its own runtime-error channel; this is for operators tailing stderr.
func NativeFailure(name string, err error) {
	log.WithFields(logrus.Fields{"native": name, "error": err}).Warn("native call failed")
}
