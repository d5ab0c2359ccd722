package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		" INFO ":  logrus.InfoLevel,
		"warning": logrus.WarnLevel,
		"off":     logrus.PanicLevel,
	}
	for in, want := range cases {
		got, ok := parseLevel(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := parseLevel("loud")
	assert.False(t, ok)
}

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvLogTimestamp, "false")

	var buf bytes.Buffer
	log := New(DefaultConfig(), &buf)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log.WithField("message_id", "m1").Debug("hello")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "m1", entry["message_id"])
	assert.Equal(t, "hello", entry["msg"])
	assert.NotContains(t, entry, "time")
}

func TestNew_InvalidEnvLevelIgnored(t *testing.T) {
	t.Setenv(EnvLogLevel, "loud")
	log := New(Config{Level: "error"}, &bytes.Buffer{})
	assert.Equal(t, logrus.ErrorLevel, log.GetLevel())
}
