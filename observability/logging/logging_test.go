package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, Options{Service: "stakingd", Env: "test", Level: "debug"})
	logger.Debug("staking: pool loaded", slog.String("operation", "bootstrap"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "staking: pool loaded", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "stakingd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "bootstrap", line["operation"])
	require.Contains(t, line, "timestamp")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelWarn, ParseLevel(" WARNING "))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestMaskHelpers(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("secret", "hunter2").Value.String())
	require.Equal(t, "0xabc", MaskField("addr", "0xabc").Value.String())
	require.Equal(t, RedactedValue+"wxyz", MaskToken("abcdefwxyz"))
	require.Equal(t, RedactedValue, MaskToken("abc"))
	require.Equal(t, "", MaskToken(""))
}

func TestMaskFieldKeepsEmptyValues(t *testing.T) {
	require.True(t, IsPlain(" Caller "))
	require.False(t, IsPlain("hmac_secret"))
	require.Equal(t, "", MaskField("hmac_secret", "  ").Value.String())
}
