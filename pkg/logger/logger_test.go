package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zapcore.Level
	}{
		{name: "debug", level: "debug", want: zapcore.DebugLevel},
		{name: "warn", level: "warn", want: zapcore.WarnLevel},
		{name: "unknown falls back to info", level: "verbose", want: zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.level, "json")
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if !log.Core().Enabled(tt.want) {
				t.Errorf("expected level %v to be enabled", tt.want)
			}
			if tt.want > zapcore.DebugLevel && log.Core().Enabled(tt.want-1) {
				t.Errorf("expected level %v to be disabled", tt.want-1)
			}
		})
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	if _, err := New("info", "console"); err != nil {
		t.Fatalf("New with console format failed: %v", err)
	}
}

func TestGet_InitializesOnce(t *testing.T) {
	first := Get()
	if first == nil {
		t.Fatal("expected global logger")
	}
	if err := Init("debug", "console"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if Get() != first {
		t.Error("expected Init after Get to keep the existing logger")
	}
	if Named("relay") == nil {
		t.Error("expected named logger")
	}
}
