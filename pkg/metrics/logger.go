package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sara-star-quant/qkdnet/pkg/crypto"
)

// Level is a logging level.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent // disables all output
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelSilent:
		return "SILENT"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name. Unknown names map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "SILENT", "OFF", "NONE":
		return LevelSilent
	default:
		return LevelInfo
	}
}

// Fields are structured log fields.
type Fields map[string]interface{}

// Format is the log output format.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat parses "text" or "json". Anything else is text.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// Logger writes leveled, structured entries.
//
// Loggers derived with With or Named share the parent's output lock, so a
// tree of loggers writing to one io.Writer never interleaves entries. Each
// derived logger keeps its own level.
type Logger struct {
	mu       *sync.Mutex
	out      io.Writer
	level    atomic.Int32
	format   Format
	fields   Fields
	name     string
	timeFunc func() time.Time
}

// LoggerOption configures a logger.
type LoggerOption func(*Logger)

// WithOutput sets the output writer.
func WithOutput(w io.Writer) LoggerOption {
	return func(l *Logger) {
		l.out = w
	}
}

// WithLevel sets the minimum level.
func WithLevel(level Level) LoggerOption {
	return func(l *Logger) {
		l.level.Store(int32(level))
	}
}

// WithFormat sets the output format.
func WithFormat(format Format) LoggerOption {
	return func(l *Logger) {
		l.format = format
	}
}

// WithFields sets fields attached to every entry.
func WithFields(fields Fields) LoggerOption {
	return func(l *Logger) {
		l.fields = fields
	}
}

// WithName sets the logger name.
func WithName(name string) LoggerOption {
	return func(l *Logger) {
		l.name = name
	}
}

// WithTimeFunc overrides the clock, for tests.
func WithTimeFunc(fn func() time.Time) LoggerOption {
	return func(l *Logger) {
		l.timeFunc = fn
	}
}

// NewLogger creates a logger. The default writes INFO and above as text to
// stderr, leaving stdout to command output.
func NewLogger(opts ...LoggerOption) *Logger {
	l := &Logger{
		mu:       new(sync.Mutex),
		out:      os.Stderr,
		format:   FormatText,
		fields:   make(Fields),
		timeFunc: time.Now,
	}
	l.level.Store(int32(LevelInfo))
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Logger) derive(name string, fields Fields) *Logger {
	d := &Logger{
		mu:       l.mu,
		out:      l.out,
		format:   l.format,
		fields:   fields,
		name:     name,
		timeFunc: l.timeFunc,
	}
	d.level.Store(l.level.Load())
	return d
}

// With returns a child logger carrying additional fields.
func (l *Logger) With(fields Fields) *Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return l.derive(l.name, merged)
}

// Named returns a child logger whose name is appended to the parent's.
func (l *Logger) Named(name string) *Logger {
	full := name
	if l.name != "" {
		full = l.name + "." + name
	}
	return l.derive(full, l.fields)
}

// SetLevel changes this logger's level.
func (l *Logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// Level returns the current level.
func (l *Logger) Level() Level {
	return Level(l.level.Load())
}

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level Level) bool {
	cur := l.Level()
	return cur != LevelSilent && level >= cur
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields ...Fields) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs at info level.
func (l *Logger) Info(msg string, fields ...Fields) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields ...Fields) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs at error level.
func (l *Logger) Error(msg string, fields ...Fields) {
	l.log(LevelError, msg, fields...)
}

func (l *Logger) log(level Level, msg string, extra ...Fields) {
	if !l.Enabled(level) {
		return
	}

	entry := make(Fields, len(l.fields)+len(extra))
	for k, v := range l.fields {
		entry[k] = loggable(v)
	}
	for _, f := range extra {
		for k, v := range f {
			entry[k] = loggable(v)
		}
	}

	var line []byte
	if l.format == FormatJSON {
		line = l.encodeJSON(level, msg, entry)
	} else {
		line = l.encodeText(level, msg, entry)
	}

	l.mu.Lock()
	_, _ = l.out.Write(line)
	l.mu.Unlock()
}

// loggable converts a field value to what the encoders write. Key material
// never reaches the output: bit strings become fingerprints and raw bytes
// become their length.
func loggable(v interface{}) interface{} {
	switch v := v.(type) {
	case error:
		return v.Error()
	case crypto.BitString:
		return "fp:" + crypto.Fingerprint(v)
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(v))
	case time.Duration:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return v
	}
}

func (l *Logger) encodeJSON(level Level, msg string, entry Fields) []byte {
	entry["time"] = l.timeFunc().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg
	if l.name != "" {
		entry["logger"] = l.name
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return []byte(fmt.Sprintf("LOG_ERROR: %v\n", err))
	}
	return append(data, '\n')
}

func (l *Logger) encodeText(level Level, msg string, entry Fields) []byte {
	var b strings.Builder
	b.WriteString(l.timeFunc().Format("15:04:05.000"))
	fmt.Fprintf(&b, " %s%-5s%s ", levelColor(level), level, colorReset)
	if l.name != "" {
		fmt.Fprintf(&b, "[%s] ", l.name)
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, textValue(entry[k]))
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// textValue quotes values that would otherwise split a key=value pair.
func textValue(v interface{}) string {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " =\"\t\n") {
		return strconv.Quote(s)
	}
	return s
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

func levelColor(level Level) string {
	switch level {
	case LevelDebug:
		return colorGray
	case LevelInfo:
		return colorBlue
	case LevelWarn:
		return colorYellow
	case LevelError:
		return colorRed
	default:
		return ""
	}
}

// NullLogger discards everything.
func NullLogger() *Logger {
	return NewLogger(WithOutput(io.Discard), WithLevel(LevelSilent))
}
