package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is ready at package load so library code can log before InitLogger
// runs. The CLI calls InitLogger once flags are parsed.
var Log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	configure(l, false)
	return l
}

// InitLogger switches the shared logger between the human-readable debug
// format and the default JSON format. Logs go to stderr so command output
// on stdout stays clean.
func InitLogger(debug bool) {
	configure(Log, debug)
}

func configure(l *logrus.Logger, debug bool) {
	l.Out = os.Stderr

	if debug {
		l.SetLevel(logrus.DebugLevel)
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	} else {
		l.SetLevel(logrus.InfoLevel)
		l.SetFormatter(&logrus.JSONFormatter{})
	}
}
