package common

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// dCRLogger implements the ILogger interface with custom formatting
type dCRLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *dCRLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *dCRLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *dCRLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *dCRLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *dCRLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *dCRLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

// log formats and writes a log message. this internal helper is used by the public methods
func (l *dCRLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger implements the Factory interface - note the error return value
func CreateLogger(pkgName string) logger.ILogger {
	// Create standard logger with custom flags
	stdLogger := log.New(os.Stdout, "", log.Ldate|log.Ltime)

	return &dCRLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: stdLogger,
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parseLogLevel converts a string level to logger.LogLevel
func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG
	case "info":
		return logger.INFO
	case "warning", "warn":
		return logger.WARNING
	case "error":
		return logger.ERROR
	default:
		panic(fmt.Sprintf("invalid log level: %s. must be one of debug, info, warn, error", level))
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// InitLoggers installs the custom logger factory and sets all known loggers
// to the given level. Called once by the serve command and by the client
// commands before anything else logs.
func InitLoggers(level string) {
	// Set as the global logger factory for Dragonboat
	logger.SetLoggerFactory(CreateLogger)

	parsed := parseLogLevel(level)

	// Configure Dragonboat loggers
	logger.GetLogger("raft").SetLevel(parsed)
	logger.GetLogger("raftdb").SetLevel(parsed)
	logger.GetLogger("rsm").SetLevel(parsed)
	logger.GetLogger("transport").SetLevel(parsed)
	logger.GetLogger("dragonboat").SetLevel(parsed)
	logger.GetLogger("grpc").SetLevel(parsed)
	logger.GetLogger("util").SetLevel(parsed)
	logger.GetLogger("logdb").SetLevel(parsed)

	// Configure dCR loggers
	logger.GetLogger("engine").SetLevel(parsed)
	logger.GetLogger("distro").SetLevel(parsed)
	logger.GetLogger("cluster").SetLevel(parsed)
	logger.GetLogger("rpc").SetLevel(parsed)
	logger.GetLogger("transport/rpc").SetLevel(parsed)
}
