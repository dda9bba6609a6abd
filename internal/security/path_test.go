package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFilePath(t *testing.T) {
	assert.NoError(t, ValidateFilePath("config.json"))
	assert.NoError(t, ValidateFilePath("/etc/leadwire/config.yaml"))
	assert.NoError(t, ValidateFilePath("dir/file..name.json"))
	assert.Error(t, ValidateFilePath(""))
	assert.Error(t, ValidateFilePath("../secrets.json"))
	assert.Error(t, ValidateFilePath("a/../../b"))
}

func TestResolveWithin(t *testing.T) {
	base := filepath.Join("data", "media")

	full, err := ResolveWithin(base, "2026/10/tenant/1700000000000_ab12.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "2026", "10", "tenant", "1700000000000_ab12.jpg"), full)

	_, err = ResolveWithin(base, "../db.sqlite")
	assert.Error(t, err)
	_, err = ResolveWithin(base, "/etc/passwd")
	assert.Error(t, err)
	_, err = ResolveWithin(base, "")
	assert.Error(t, err)
}
