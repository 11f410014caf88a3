package logging

import "testing"

func TestNewDefaultsUnknownLevelToInfo(t *testing.T) {
	logger, err := New(Config{Level: "not-a-level", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !logger.Core().Enabled(0) { // zapcore.InfoLevel == 0
		t.Fatal("expected info level to be enabled by default")
	}
}

func TestNewConsoleFormat(t *testing.T) {
	logger, err := New(Config{Level: "debug", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger == nil {
		t.Fatal("expected a non-nil logger")
	}
}
