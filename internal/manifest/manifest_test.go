package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endlessm/eam/pkg/appid"
)

func writeInfo(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, InfoFileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFileBasic(t *testing.T) {
	dir := t.TempDir()
	writeInfo(t, dir, "[Bundle]\napp_id = com.endlessm.Foo\nversion = 1.2-3\n")

	m, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "com.endlessm.Foo", m.AppID.String())
	assert.Equal(t, "1.2", m.Version.Upstream)
	assert.Equal(t, "3", m.Version.Revision)
	assert.Nil(t, m.External)
}

func TestLoadFileExternal(t *testing.T) {
	dir := t.TempDir()
	writeInfo(t, dir, ""+
		"[Bundle]\n"+
		"app_id = com.endlessm.Foo\n"+
		"version = 1.0\n"+
		"[External]\n"+
		"url = https://example.com/asset.bin\n"+
		"filename = asset.bin\n"+
		"sha256sum = deadbeef\n")

	m, err := LoadDir(dir)
	require.NoError(t, err)
	require.NotNil(t, m.External)
	assert.Equal(t, "https://example.com/asset.bin", m.External.URL)
	assert.Equal(t, "asset.bin", m.External.Filename)
	assert.Equal(t, "deadbeef", m.External.SHA256)
}

func TestLoadFileMissingAppID(t *testing.T) {
	dir := t.TempDir()
	writeInfo(t, dir, "[Bundle]\nversion = 1.0\n")

	_, err := LoadDir(dir)
	assert.Error(t, err)
}

func TestLoadFileIncompleteExternal(t *testing.T) {
	dir := t.TempDir()
	writeInfo(t, dir, ""+
		"[Bundle]\napp_id = com.endlessm.Foo\nversion = 1.0\n"+
		"[External]\nurl = https://example.com/asset.bin\n")

	_, err := LoadDir(dir)
	assert.Error(t, err)
}

func TestVerifyAppID(t *testing.T) {
	dir := t.TempDir()
	writeInfo(t, dir, "[Bundle]\napp_id = com.endlessm.Foo\nversion = 1.0\n")
	m, err := LoadDir(dir)
	require.NoError(t, err)

	assert.NoError(t, m.VerifyAppID(mustParse(t, "com.endlessm.Foo")))
	assert.Error(t, m.VerifyAppID(mustParse(t, "com.endlessm.Bar")))
}

func mustParse(t *testing.T, s string) appid.AppID {
	t.Helper()
	id, err := appid.Parse(s)
	require.NoError(t, err)
	return id
}
