package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSettingKey(t *testing.T) {
	cat, name, ok := splitSettingKey("retention.history_days")
	assert.True(t, ok)
	assert.Equal(t, "retention", cat)
	assert.Equal(t, "history_days", name)

	// only the first dot separates category from name
	cat, name, ok = splitSettingKey("scan.probe.timeout")
	assert.True(t, ok)
	assert.Equal(t, "scan", cat)
	assert.Equal(t, "probe.timeout", name)

	for _, bad := range []string{"", "noseparator", ".name", "category."} {
		_, _, ok := splitSettingKey(bad)
		assert.False(t, ok, bad)
	}
}

func TestToSettingString(t *testing.T) {
	assert.Equal(t, "30", toSettingString(30))
	assert.Equal(t, "true", toSettingString(true))
	assert.Equal(t, "1.5", toSettingString(1.5))
	assert.Equal(t, "plain", toSettingString("plain"))
}
