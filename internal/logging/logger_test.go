package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/yuriy-kovalchuk/yk-acme-hook/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"DEBUG", zapcore.DebugLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"2", zapcore.Level(-2), false},
		{"-1", zapcore.InfoLevel, true},
		{"loud", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(config.LoggingConfig{Level: "info"}, &buf)
	require.NoError(t, err)

	log.Info("visible", "domain", "example.com")
	log.V(1).Info("hidden")

	out := buf.String()
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "example.com")
	assert.NotContains(t, out, "hidden")
}

func TestNew_DebugEnablesVerbosity(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(config.LoggingConfig{Level: "debug", Development: true}, &buf)
	require.NoError(t, err)

	log.V(1).Info("detail")
	assert.True(t, strings.Contains(buf.String(), "detail"))
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "chatty"}, &bytes.Buffer{})
	assert.Error(t, err)
}
