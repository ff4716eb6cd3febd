package supervisor

import (
	"path/filepath"

	"github.com/natefinch/lumberjack"
)

// rotatingWriter is the inference subprocess's stdout/stderr sink: a
// rolling file appender capped at 10 MiB per file with 5 files retained
// (§4.9), aliased so process.go doesn't need to know the concrete
// rotation library.
type rotatingWriter = lumberjack.Logger

// NewRotatingWriter builds the subprocess log sink under logDir.
func NewRotatingWriter(logDir string) *rotatingWriter {
	return &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "inference-engine.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		Compress:   false,
	}
}
