package logger

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModuleConfigLevelForHierarchy(t *testing.T) {
	mc := NewModuleConfig(slog.LevelInfo)
	mc.SetModuleLevel("internal", slog.LevelWarn)
	mc.SetModuleLevel("internal.wsserver", slog.LevelDebug)

	assert.Equal(t, slog.LevelWarn, mc.LevelFor("internal"))
	assert.Equal(t, slog.LevelDebug, mc.LevelFor("internal.wsserver"))
	assert.Equal(t, slog.LevelDebug, mc.LevelFor("internal.wsserver.conn"))
	assert.Equal(t, slog.LevelWarn, mc.LevelFor("internal.dispatch"))
	assert.Equal(t, slog.LevelInfo, mc.LevelFor("cmd"))
	assert.Equal(t, slog.LevelInfo, mc.LevelFor(""))
}

func TestModuleConfigSetDefaultLevel(t *testing.T) {
	mc := NewModuleConfig(slog.LevelInfo)
	assert.Equal(t, slog.LevelInfo, mc.LevelFor("anything"))
	mc.SetDefaultLevel(slog.LevelDebug)
	assert.Equal(t, slog.LevelDebug, mc.LevelFor("anything"))
}
