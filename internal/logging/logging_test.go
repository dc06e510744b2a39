package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_DefaultsToInfo(t *testing.T) {
	logger := New()
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("New() level = %v, want %v", logger.GetLevel(), zerolog.InfoLevel)
	}
}

func TestNewWithLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"Error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"  debug  ", zerolog.DebugLevel},
		{"\twarn\n", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
		{"123", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			logger := NewWithLevel(tt.input)
			if logger.GetLevel() != tt.want {
				t.Fatalf("NewWithLevel(%q) level = %v, want %v", tt.input, logger.GetLevel(), tt.want)
			}
		})
	}
}
