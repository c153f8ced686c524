package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Level
	}{
		{"trace", "trace", LevelTrace},
		{"trace upper", "TRACE", LevelTrace},
		{"debug", "debug", LevelDebug},
		{"info", "INFO", LevelInfo},
		{"warn", "warn", LevelWarn},
		{"error", "error", LevelError},
		{"offset", "info+2", Level(slog.LevelInfo + 2)},
		{"invalid", "loud", DefaultLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input string
		want  Format
	}{
		{"json", FormatJSON},
		{" Text ", FormatText},
		{"yaml", DefaultFormat},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseFormat(tt.input); got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLevels(t *testing.T) {
	var got []string
	for l := range Levels() {
		got = append(got, l)
	}

	want := "trace,debug,info,warn,error"
	if strings.Join(got, ",") != want {
		t.Errorf("Levels() = %v, want %s", got, want)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	tests := []struct {
		name  string
		level Level
		log   func(Logger)
		want  bool
	}{
		{
			name:  "info at info",
			level: LevelInfo,
			log:   func(l Logger) { l.Info("msg") },
			want:  true,
		},
		{
			name:  "debug at info",
			level: LevelInfo,
			log:   func(l Logger) { l.Debug("msg") },
			want:  false,
		},
		{
			name:  "trace at trace",
			level: LevelTrace,
			log:   func(l Logger) { l.Trace("msg") },
			want:  true,
		},
		{
			name:  "trace at debug",
			level: LevelDebug,
			log:   func(l Logger) { l.Trace("msg") },
			want:  false,
		},
		{
			name:  "error at warn",
			level: LevelWarn,
			log:   func(l Logger) { l.ErrorContext(context.Background(), "msg") },
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			tt.log(Make(&buf, WithLevel(tt.level)))

			if got := buf.Len() > 0; got != tt.want {
				t.Errorf("wrote output = %v, want %v (%q)", got, tt.want, buf.String())
			}
		})
	}
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer

	logger := Make(&buf, WithLevel(LevelTrace), WithTimeLayout("none"))
	logger.Trace("cache miss", slog.String("source", "index.tpl"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}

	if rec["level"] != "TRACE" {
		t.Errorf("level = %v, want TRACE", rec["level"])
	}

	if rec["source"] != "index.tpl" {
		t.Errorf("source = %v, want index.tpl", rec["source"])
	}

	if _, ok := rec[slog.TimeKey]; ok {
		t.Errorf("time present with layout none: %v", rec)
	}
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer

	logger := Make(&buf, WithFormat(FormatText)).
		With(slog.String("render", "r1"))
	logger.Info("done")

	out := buf.String()
	if !strings.Contains(out, "render=r1") || !strings.Contains(out, "msg=done") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestLoggerWrap(t *testing.T) {
	var first, second bytes.Buffer

	base := Make(&first, WithLevel(LevelError))
	wrapped := base.Wrap(WithOutput(&second), WithLevel(LevelDebug))

	base.Info("ignored")
	wrapped.Debug("kept")

	if first.Len() != 0 {
		t.Errorf("base logger wrote %q", first.String())
	}

	if !strings.Contains(second.String(), "kept") {
		t.Errorf("wrapped logger output %q", second.String())
	}

	if wrapped.Level() != LevelDebug || base.Level() != LevelError {
		t.Errorf("levels = %v/%v", base.Level(), wrapped.Level())
	}
}

func TestZeroLogger(t *testing.T) {
	var l Logger

	// Must not panic.
	l.Info("nothing")
	l.With(slog.Int("n", 1)).Error("nothing")

	if l.Enabled(context.Background(), LevelError) {
		t.Error("zero logger reports enabled")
	}
}

func TestConfigDefault(t *testing.T) {
	var buf bytes.Buffer

	prev := Default()
	t.Cleanup(func() {
		defaultMu.Lock()
		defaultLog = prev
		defaultMu.Unlock()
	})

	Config(WithOutput(&buf), WithFormat(FormatText), WithLevel(LevelWarn))
	Info("hidden")
	Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestZeroLoggerWrap(t *testing.T) {
	var (
		buf  bytes.Buffer
		zero Logger
	)

	zero.Wrap(WithLevel(LevelDebug)).Error("discarded")

	l := zero.Wrap(WithOutput(&buf), WithFormat(FormatText), WithTimeLayout("none"))
	l.Info("kept", slog.Int("n", 1))

	if got := buf.String(); got != "level=INFO msg=kept n=1\n" {
		t.Errorf("output = %q", got)
	}

	if l.Level() != DefaultLevel {
		t.Errorf("level = %v, want %v", l.Level(), DefaultLevel)
	}
}
