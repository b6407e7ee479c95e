package metrics

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sara-star-quant/qkdnet/pkg/crypto"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", LevelDebug},
		{"debug", LevelDebug},
		{" info ", LevelInfo},
		{"WARNING", LevelWarn},
		{"error", LevelError},
		{"off", LevelSilent},
		{"verbose", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("JSON") != FormatJSON {
		t.Error("expected JSON format")
	}
	if ParseFormat("logfmt") != FormatText {
		t.Error("unknown formats should fall back to text")
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	fixed := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	logger := NewLogger(
		WithOutput(&buf),
		WithLevel(LevelDebug),
		WithName("relay"),
		WithTimeFunc(func() time.Time { return fixed }),
	)

	logger.Info("link established", Fields{"hop": 1, "peer": "Arya", "error_rate": 2.5})

	out := buf.String()
	for _, want := range []string{"12:30:45.000", "INFO", "[relay]", "link established", "error_rate=2.5 hop=1 peer=Arya"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(
		WithOutput(&buf),
		WithLevel(LevelDebug),
		WithFormat(FormatJSON),
		WithFields(Fields{"run_id": "r1"}),
	)

	logger.Warn("link unsafe", Fields{"node": "Nayan", "err": errors.New("boom")})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if entry["level"] != "WARN" || entry["msg"] != "link unsafe" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["run_id"] != "r1" || entry["node"] != "Nayan" {
		t.Errorf("missing fields: %v", entry)
	}
	if entry["err"] != "boom" {
		t.Errorf("errors should be rendered as strings, got %v", entry["err"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected time field")
	}
}

func TestLoggerRedactsKeyMaterial(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithFormat(FormatJSON))

	key := crypto.MustParseBits("1011001110001111")
	logger.Info("sifted", Fields{"key": key, "ciphertext": []byte("secret"), "took": 1500 * time.Millisecond})

	out := buf.String()
	if strings.Contains(out, key.String()) || strings.Contains(out, "secret") {
		t.Fatalf("key material leaked: %s", out)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["key"] != "fp:"+crypto.Fingerprint(key) {
		t.Errorf("key = %v", entry["key"])
	}
	if entry["ciphertext"] != "<6 bytes>" {
		t.Errorf("ciphertext = %v", entry["ciphertext"])
	}
	if entry["took"] != "1.5s" {
		t.Errorf("took = %v", entry["took"])
	}
}

func TestLoggerTextQuotesValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf))

	logger.Warn("hop failed", Fields{"error": errors.New("link: peer aborted"), "path": "A -> B", "empty": ""})

	out := buf.String()
	for _, want := range []string{`empty=""`, `error="link: peer aborted"`, `path="A -> B"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestLoggerReservedKeysWin(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithFormat(FormatJSON))

	logger.Info("real message", Fields{"msg": "spoofed"})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["msg"] != "real message" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelWarn))

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Error("messages below WARN should be filtered")
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Error("WARN and ERROR should be written")
	}
}

func TestLoggerSilent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelSilent))

	logger.Error("error")
	if buf.Len() > 0 {
		t.Error("expected no output with silent level")
	}
	if logger.Enabled(LevelError) {
		t.Error("silent logger reports enabled")
	}
}

func TestLoggerDerived(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(
		WithOutput(&buf),
		WithFormat(FormatJSON),
		WithName("qkdnet"),
		WithFields(Fields{"run_id": "r1"}),
	)

	logger.Named("link").With(Fields{"hop": 0}).Info("start")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["logger"] != "qkdnet.link" {
		t.Errorf("logger = %v", entry["logger"])
	}
	if entry["run_id"] != "r1" || entry["hop"] != float64(0) {
		t.Errorf("fields not inherited: %v", entry)
	}
}

func TestLoggerSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelError))

	logger.Info("hidden")
	if buf.Len() > 0 {
		t.Error("info should be filtered")
	}

	logger.SetLevel(LevelInfo)
	logger.Info("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("info should now be logged")
	}
}

func TestDerivedLoggersShareLock(t *testing.T) {
	var buf bytes.Buffer
	root := NewLogger(WithOutput(&buf), WithFormat(FormatJSON))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		child := root.Named("hop").With(Fields{"i": i})
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				child.Info("tick")
			}
		}()
	}
	wg.Wait()

	lines := 0
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var entry map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("interleaved entry %q: %v", sc.Text(), err)
		}
		lines++
	}
	if lines != 400 {
		t.Errorf("got %d entries, want 400", lines)
	}
}

func TestNullLogger(t *testing.T) {
	logger := NullLogger()
	logger.Debug("test")
	logger.Error("test")
	logger.Named("x").With(Fields{"a": 1}).Warn("test")
}
