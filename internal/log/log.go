// Package log provides centralized structured logging via zap, plus a bounded
// in-memory ring of recent entries for the health HTTP surface's /healthz/log
// endpoint.
//
// Adapted from internal/log: the zap-core/JSON-encoder
// setup and the package-level convenience functions are kept close to the
// original; the websocket-subscriber fan-out on LogBuffer is dropped since
// this core has no UI to push log entries to.
package log

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log        *zap.SugaredLogger
	baseLogger *zap.Logger
	logBuffer  *LogBuffer
)

// LogBuffer is a thread-safe circular buffer of recent structured log entries.
type LogBuffer struct {
	mutex   sync.RWMutex
	entries []LogEntry
	maxSize int
	index   int
}

// LogEntry is a single captured log line, parsed back out of its own JSON.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// NewLogBuffer creates a ring buffer holding up to maxSize entries.
func NewLogBuffer(maxSize int) *LogBuffer {
	return &LogBuffer{entries: make([]LogEntry, maxSize), maxSize: maxSize}
}

// Write implements zapcore.WriteSyncer, decoding the JSON line zap produced
// back into a LogEntry so the health API can serve it as structured data.
func (lb *LogBuffer) Write(data []byte) (int, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		lb.addEntry(LogEntry{Timestamp: time.Now(), Level: "unknown", Message: string(data)})
		return len(data), nil
	}

	entry := LogEntry{Timestamp: time.Now(), Fields: make(map[string]interface{})}
	for _, key := range []string{"ts", "time", "timestamp", "@timestamp"} {
		if v, ok := raw[key]; ok {
			if parsed := parseTimestamp(v); !parsed.IsZero() {
				entry.Timestamp = parsed
				break
			}
		}
	}
	if level, ok := raw["level"]; ok {
		entry.Level = fmt.Sprintf("%v", level)
	}
	if msg, ok := raw["message"]; ok {
		entry.Message = fmt.Sprintf("%v", msg)
	} else if msg, ok := raw["msg"]; ok {
		entry.Message = fmt.Sprintf("%v", msg)
	}
	if caller, ok := raw["caller"]; ok {
		entry.Caller = fmt.Sprintf("%v", caller)
	}

	exclude := map[string]bool{
		"ts": true, "time": true, "timestamp": true, "@timestamp": true,
		"level": true, "msg": true, "message": true, "caller": true,
	}
	for k, v := range raw {
		if !exclude[k] {
			entry.Fields[k] = v
		}
	}

	lb.addEntry(entry)
	return len(data), nil
}

func parseTimestamp(ts interface{}) time.Time {
	switch v := ts.(type) {
	case float64:
		if v > 1e10 {
			return time.Unix(0, int64(v))
		}
		return time.Unix(int64(v), 0)
	case string:
		formats := []string{time.RFC3339, time.RFC3339Nano, "2006-01-02 15:04:05"}
		for _, f := range formats {
			if parsed, err := time.Parse(f, v); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

// Sync implements zapcore.WriteSyncer.
func (lb *LogBuffer) Sync() error { return nil }

func (lb *LogBuffer) addEntry(entry LogEntry) {
	lb.mutex.Lock()
	defer lb.mutex.Unlock()
	lb.entries[lb.index] = entry
	lb.index = (lb.index + 1) % lb.maxSize
}

// Tail returns up to n of the most recent entries, oldest first.
func (lb *LogBuffer) Tail(n int) []LogEntry {
	lb.mutex.RLock()
	defer lb.mutex.RUnlock()

	var all []LogEntry
	for i := 0; i < lb.maxSize; i++ {
		idx := (lb.index + i) % lb.maxSize
		if !lb.entries[idx].Timestamp.IsZero() {
			all = append(all, lb.entries[idx])
		}
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Init initializes the package-level logger with a 500-entry buffer tee'd
// alongside stdout.
func Init(debug bool) error {
	logBuffer = NewLogBuffer(500)

	encoderConfig := zap.NewProductionEncoderConfig()
	if debug {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.LevelKey = "level"
	encoderConfig.MessageKey = "message"
	encoderConfig.CallerKey = "caller"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	jsonEncoder := zapcore.NewJSONEncoder(encoderConfig)

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stdout), level),
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(logBuffer), level),
	)

	baseLogger = zap.New(core, zap.AddCaller())
	log = baseLogger.Sugar()
	return nil
}

// GetLogBuffer returns the package-level ring buffer.
func GetLogBuffer() *LogBuffer { return logBuffer }

// GetZapLogger returns the base zap logger, e.g. for GORM's logger adapter.
func GetZapLogger() *zap.Logger {
	if baseLogger == nil {
		baseLogger, _ = zap.NewProduction()
		log = baseLogger.Sugar()
	}
	return baseLogger
}

// GetSugaredLogger returns the package-level sugared logger.
func GetSugaredLogger() *zap.SugaredLogger {
	if log == nil {
		baseLogger, _ = zap.NewProduction()
		log = baseLogger.Sugar()
	}
	return log
}

// Sync flushes buffered log entries.
func Sync() {
	if log != nil {
		log.Sync()
	}
}

func Debug(args ...interface{})                 { baseLogger.WithOptions(zap.AddCallerSkip(1)).Sugar().Debug(args...) }
func Debugf(tmpl string, args ...interface{})   { baseLogger.WithOptions(zap.AddCallerSkip(1)).Sugar().Debugf(tmpl, args...) }
func Info(args ...interface{})                  { baseLogger.WithOptions(zap.AddCallerSkip(1)).Sugar().Info(args...) }
func Infof(tmpl string, args ...interface{})    { baseLogger.WithOptions(zap.AddCallerSkip(1)).Sugar().Infof(tmpl, args...) }
func Warn(args ...interface{})                  { baseLogger.WithOptions(zap.AddCallerSkip(1)).Sugar().Warn(args...) }
func Warnf(tmpl string, args ...interface{})    { baseLogger.WithOptions(zap.AddCallerSkip(1)).Sugar().Warnf(tmpl, args...) }
func Error(args ...interface{})                 { baseLogger.WithOptions(zap.AddCallerSkip(1)).Sugar().Error(args...) }
func Errorf(tmpl string, args ...interface{})   { baseLogger.WithOptions(zap.AddCallerSkip(1)).Sugar().Errorf(tmpl, args...) }

func Fatal(args ...interface{}) {
	baseLogger.WithOptions(zap.AddCallerSkip(1)).Sugar().Fatal(args...)
	os.Exit(1)
}

func Fatalf(tmpl string, args ...interface{}) {
	baseLogger.WithOptions(zap.AddCallerSkip(1)).Sugar().Fatalf(tmpl, args...)
	os.Exit(1)
}
