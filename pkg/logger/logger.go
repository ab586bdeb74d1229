package logger

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var Log *slog.Logger

// Audit records administrative actions (resets, manual sync passes). When
// nil, audit events go to Log.
var Audit *slog.Logger

type asyncWriter struct {
	ch chan []byte
}

func (a *asyncWriter) Write(p []byte) (n int, err error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case a.ch <- cp:
	default:
		// queue full, drop the line rather than stall the caller
	}
	return len(p), nil
}

var (
	logCh     chan []byte
	logStopCh chan struct{}
	logWG     sync.WaitGroup
	initMu    sync.Mutex
)

// Init initializes the global logger using CHATSYNC_LOG_LEVEL.
func Init() {
	InitWithLevel("")
}

// InitWithLevel initializes the global logger at the given level ("debug",
// "info", "warn", "error"). An empty level falls back to CHATSYNC_LOG_LEVEL.
// The sink is stdout unless CHATSYNC_LOG_SINK is "stderr" or "file:<path>".
func InitWithLevel(level string) {
	InitWithSink(level, os.Getenv("CHATSYNC_LOG_SINK"))
}

// InitWithSink is InitWithLevel with an explicit sink.
func InitWithSink(level, sink string) {
	initMu.Lock()
	defer initMu.Unlock()
	if logStopCh != nil {
		close(logStopCh)
		logWG.Wait()
	}

	lvl := strings.TrimSpace(level)
	if lvl == "" {
		lvl = os.Getenv("CHATSYNC_LOG_LEVEL")
	}

	logCh = make(chan []byte, 10000)
	logStopCh = make(chan struct{})
	aw := &asyncWriter{ch: logCh}
	Log = slog.New(slog.NewTextHandler(aw, &slog.HandlerOptions{Level: ParseLevel(lvl)}))

	logWG.Add(1)
	go drain(sink, logCh, logStopCh)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func drain(sink string, ch <-chan []byte, stop <-chan struct{}) {
	defer logWG.Done()
	var f *os.File
	out := bufio.NewWriterSize(os.Stdout, 8192)
	if sink == "stderr" {
		out = bufio.NewWriterSize(os.Stderr, 8192)
	}
	if path, ok := strings.CutPrefix(sink, "file:"); ok {
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
		} else {
			out = bufio.NewWriterSize(f, 8192)
		}
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case b := <-ch:
			out.Write(b)
		case <-ticker.C:
			out.Flush()
		case <-stop:
			// drain what is already queued
			for {
				select {
				case b := <-ch:
					out.Write(b)
					continue
				default:
				}
				break
			}
			out.Flush()
			if f != nil {
				f.Close()
			}
			return
		}
	}
}

// AttachAuditFileSink writes audit records as JSON to <auditDir>/audit.log.
func AttachAuditFileSink(auditDir string) error {
	if auditDir == "" {
		return fmt.Errorf("empty audit dir")
	}
	if fi, err := os.Lstat(auditDir); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("audit path is a symlink: %s", auditDir)
		}
		if !fi.IsDir() {
			return fmt.Errorf("audit path exists and is not a directory: %s", auditDir)
		}
	}
	if err := os.MkdirAll(auditDir, 0o700); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	fname := filepath.Join(auditDir, "audit.log")
	if fi, err := os.Stat(fname); err == nil {
		const maxSize = 10 * 1024 * 1024
		if fi.Size() > maxSize {
			bak := fname + "." + fi.ModTime().UTC().Format("20060102T150405Z")
			_ = os.Rename(fname, bak)
		}
	}
	f, err := os.OpenFile(fname, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	Audit = slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo}))
	Audit.Info("audit_sink_attached", "path", fname)
	return nil
}

// AuditEvent writes to the audit sink, or to the main logger when no audit
// sink is attached.
func AuditEvent(msg string, args ...any) {
	if Audit != nil {
		Audit.Info(msg, args...)
		return
	}
	Info(msg, args...)
}

// Sync flushes any buffered logs and stops the writer.
func Sync() {
	initMu.Lock()
	defer initMu.Unlock()
	if logStopCh != nil {
		close(logStopCh)
		logWG.Wait()
		logStopCh = nil
	}
}

// Debug logs with slog-style key/value pairs.
func Debug(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Debug(msg, args...)
}

// Info logs with slog-style key/value pairs.
func Info(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Info(msg, args...)
}

// Warn logs with slog-style key/value pairs.
func Warn(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Warn(msg, args...)
}

// Error logs with slog-style key/value pairs.
func Error(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Error(msg, args...)
}

// LogConfigSummary prints a titled, hyphenated list to stdout so startup
// settings are easy to read in a terminal.
func LogConfigSummary(title string, items []string) {
	if len(items) == 0 {
		return
	}
	header := "== " + strings.ReplaceAll(title, "_", " ") + " "
	const width = 60
	if len(header) < width {
		header += strings.Repeat("=", width-len(header))
	}
	fmt.Fprintln(os.Stdout, header)
	for _, it := range items {
		fmt.Fprintln(os.Stdout, "- "+it)
	}
	fmt.Fprintln(os.Stdout)
}
