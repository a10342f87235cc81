package device

import (
	"log"
	"strings"
	_ "unsafe"

	"scanqr/logs"
)

//go:linkname gocamLogger github.com/svanichkin/gocam.camLog
var gocamLogger *log.Logger

// RouteCameraLogs sends gocam's internal log lines to the process logger at
// debug level. Call it once logging is configured.
func RouteCameraLogs() {
	if gocamLogger == nil {
		return
	}
	gocamLogger.SetOutput(gocamLogWriter{})
	gocamLogger.SetFlags(0)
	gocamLogger.SetPrefix("")
}

type gocamLogWriter struct{}

func (gocamLogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\r\n")
	if msg == "" {
		return len(p), nil
	}
	logs.L().Named("gocam").Debug(msg)
	return len(p), nil
}
