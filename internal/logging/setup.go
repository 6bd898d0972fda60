package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig configures rotation for the gateway's on-disk log file.
type FileConfig struct {
	// Path is the log file location. Empty disables file output (stderr only).
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultFileConfig matches the teacher's rotation defaults: 100MB per file,
// 7 backups, 30 days retention, gzip-compressed.
func DefaultFileConfig(path string) FileConfig {
	return FileConfig{
		Path:       path,
		MaxSizeMB:  100,
		MaxBackups: 7,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// Configure sets logrus's formatter and output. When cfg.Path is non-empty,
// log lines are written to both stderr and a lumberjack-rotated file.
func Configure(cfg FileConfig) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if cfg.Path == "" {
		log.SetOutput(os.Stderr)
		return
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
}
