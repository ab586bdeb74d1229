package shutdown

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
)

// exit is swapped in tests.
var exit = os.Exit

// Abort logs a fatal startup error, writes a crash dump under dbPath and
// exits with status 2.
func Abort(contextMsg string, err error, dbPath string) {
	logger.Error("startup_fatal", "msg", contextMsg, "error", err)
	path, derr := WriteCrashDump(dbPath, contextMsg, err)
	if derr != nil {
		logger.Error("crash_dump_failed", "error", derr)
		fmt.Fprintf(os.Stderr, "%s: %v\n", contextMsg, err)
	} else {
		logger.Error("startup_fatal_crashdump", "path", path)
		fmt.Fprintf(os.Stderr, "%s: %v\ncrash dump: %s\n", contextMsg, err, path)
	}
	logger.Sync()
	exit(2)
}

// WriteCrashDump writes the reason, the error with its stack and every
// goroutine stack to <dbPath>/crash/crash-<unixnano>.log.
func WriteCrashDump(dbPath, reason string, err error) (string, error) {
	dir := "./crash"
	if dbPath != "" {
		dir = filepath.Join(dbPath, "crash")
	}
	if e := os.MkdirAll(dir, 0o700); e != nil {
		return "", errors.Wrap(e, "create crash dir")
	}
	f, ferr := os.CreateTemp(dir, ".crash-*.tmp")
	if ferr != nil {
		return "", errors.Wrap(ferr, "create crash file")
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	now := time.Now().UTC()
	fmt.Fprintf(f, "time: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(f, "reason: %s\n", reason)
	fmt.Fprintf(f, "error: %+v\n", err)
	fmt.Fprintf(f, "\n--- goroutine stacks ---\n")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	_, _ = f.Write(buf[:n])
	if e := f.Close(); e != nil {
		return "", errors.Wrap(e, "close crash file")
	}

	path := filepath.Join(dir, fmt.Sprintf("crash-%d.log", now.UnixNano()))
	if e := os.Rename(tmp, path); e != nil {
		return "", errors.Wrap(e, "rename crash file")
	}
	return path, nil
}
