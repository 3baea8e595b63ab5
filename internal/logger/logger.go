package logger

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
)

// Prefix is prepended to every line written by the default logger.
const Prefix = "CINDER"

// Init installs the default logger. Without debug only warnings and errors
// are shown. Caller locations are reported in debug mode only, where they
// point at the dispatch loop or compiler pass that logged.
func Init(debug, noColor bool) {
	log.SetDefault(log.NewWithOptions(os.Stderr,
		log.Options{
			ReportCaller:    debug,
			ReportTimestamp: false,
			TimeFormat:      time.RFC3339,
			Prefix:          Prefix,
		}))

	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.WarnLevel)
	}

	log.SetColorProfile(termenv.ANSI256)
	if noColor {
		log.SetColorProfile(termenv.Ascii)
	}
}

// For returns a child of the default logger whose prefix names component,
// e.g. "CINDER/vm".
func For(component string) *log.Logger {
	return log.Default().WithPrefix(Prefix + "/" + component)
}
