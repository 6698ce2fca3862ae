package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestConsoleLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLoggerTo(&buf, LevelInfo)

	log.Debug("hidden")
	log.Info("visible info")
	log.Warn("visible warn")
	log.Error("visible error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line emitted at info level")
	}
	for _, want := range []string{"visible info", "visible warn", "visible error"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConsoleLoggerDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLoggerTo(&buf, LevelDebug)
	log.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("debug line missing at debug level")
	}
}

func TestFormatArgs(t *testing.T) {
	if got := formatArgs(); got != "" {
		t.Errorf("formatArgs() = %q, want empty", got)
	}
	if got := formatArgs("found ", 3, " keys"); got != "found 3 keys" {
		t.Errorf("formatArgs = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{
		LevelDebug:  "DEBUG",
		LevelInfo:   "INFO",
		LevelWarn:   "WARN",
		LevelError:  "ERROR",
		"gibberish": "INFO",
	} {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
