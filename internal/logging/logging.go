// Package logging builds the per-component loggers used across the
// daemon, following the teacher's log.New(os.Stdout, "<prefix>: ", ...)
// idiom and the EAM_TESTING/EAM_DEBUG_JOURNAL env-var routing rule.
package logging

import (
	"log"
	"os"

	"github.com/coreos/go-systemd/v22/journal"
)

// New returns a *log.Logger prefixed with component's name. When
// EAM_DEBUG_JOURNAL=1 is set (and journald is reachable), messages are
// routed to the systemd journal instead of stderr/stdout; otherwise,
// when EAM_TESTING=1 is set, messages go to stderr, and else to stdout.
func New(component string) *log.Logger {
	prefix := component + ": "

	if os.Getenv("EAM_DEBUG_JOURNAL") == "1" && journal.Enabled() {
		return log.New(&journalWriter{component: component}, prefix, 0)
	}

	if os.Getenv("EAM_TESTING") == "1" {
		return log.New(os.Stderr, prefix, log.Ldate|log.Ltime|log.LUTC)
	}

	return log.New(os.Stdout, prefix, log.Ldate|log.Ltime|log.LUTC)
}

// journalWriter adapts journal.Send to io.Writer so it can back a
// standard *log.Logger.
type journalWriter struct {
	component string
}

func (w *journalWriter) Write(p []byte) (int, error) {
	err := journal.Send(string(p), journal.PriInfo, map[string]string{
		"SYSLOG_IDENTIFIER": w.component,
	})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}
