package log_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/fhevm-go/log"
)

func TestInitLevels(t *testing.T) {
	c := qt.New(t)
	defer log.Init(log.LogLevelError, "stderr", nil)

	for _, level := range []string{log.LogLevelDebug, log.LogLevelInfo, log.LogLevelWarn, log.LogLevelError} {
		log.Init(level, "stderr", nil)
		c.Assert(log.Level(), qt.Equals, level)
	}
	c.Assert(func() { log.Init("verbose", "stderr", nil) }, qt.PanicMatches, `invalid log level: "verbose"`)
}

func TestFileAndErrorOutput(t *testing.T) {
	c := qt.New(t)
	defer log.Init(log.LogLevelError, "stderr", nil)

	logFile := filepath.Join(t.TempDir(), "fhevm.log")
	var errOut bytes.Buffer
	log.Init(log.LogLevelDebug, logFile, &errOut)

	log.Debugw("debug entry", "handles", 2)
	log.Warnw("warn entry", "reason", "fallback")

	data, err := os.ReadFile(logFile)
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Contains, "debug entry")
	c.Assert(string(data), qt.Contains, "warn entry")

	// only warnings and above reach the error output
	c.Assert(errOut.String(), qt.Contains, "warn entry")
	c.Assert(errOut.String(), qt.Not(qt.Contains), "debug entry")
}
