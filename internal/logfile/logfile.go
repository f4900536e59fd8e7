package logfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/willianmendesf/whatsapp-sender/internal/models"
	"github.com/willianmendesf/whatsapp-sender/internal/security"
)

// ErrNoLogFile is returned by Tail when file logging is disabled or the
// file has not been written yet.
var ErrNoLogFile = errors.New("no log file available")

// NewWriter returns a rotating writer for cfg.File, or nil when file
// logging is disabled.
func NewWriter(cfg models.LogConfig) (*lumberjack.Logger, error) {
	if cfg.File == "" {
		return nil, nil
	}
	if err := security.ValidateFilePath(cfg.File); err != nil {
		return nil, fmt.Errorf("invalid log file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}, nil
}

// Output combines stdout with the rotating file when one is configured.
func Output(stdout io.Writer, file *lumberjack.Logger) io.Writer {
	if file == nil {
		return stdout
	}
	return io.MultiWriter(stdout, file)
}

// Tail returns the last n lines of the active log file in order.
func Tail(path string, n int) ([]string, error) {
	if path == "" {
		return nil, ErrNoLogFile
	}
	if n <= 0 {
		return []string{}, nil
	}

	f, err := os.Open(path) // #nosec G304 - configured log file
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoLogFile
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	ring := make([]string, n)
	count := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring[count%n] = scanner.Text()
		count++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	if count <= n {
		return ring[:count], nil
	}
	start := count % n
	return append(ring[start:], ring[:start]...), nil
}
