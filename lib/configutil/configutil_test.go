package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type journalConfig struct {
	BaseUrl string  `json:"baseUrl"`
	Rate    float64 `json:"rate"`
}

func TestReadConfigMergesLocalOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journals.json5")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{baseUrl: "https://portal.example.org", rate: 1}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "journals.local.json5"),
		[]byte(`{rate: 4}`), 0644))

	config, err := ReadConfig[journalConfig](path)
	require.NoError(t, err)
	// overridden field wins, untouched field survives the merge
	require.Equal(t, "https://portal.example.org", config.BaseUrl)
	require.Equal(t, 4.0, config.Rate)
}

func TestReadConfigLocalFileAlone(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "journals.local.json5"),
		[]byte(`{baseUrl: "https://local.example.org"}`), 0644))

	config, err := ReadConfig[journalConfig](filepath.Join(dir, "journals.json5"))
	require.NoError(t, err)
	require.Equal(t, "https://local.example.org", config.BaseUrl)
}

func TestReadConfigMissingReportsNotExist(t *testing.T) {
	_, err := ReadConfig[journalConfig](filepath.Join(t.TempDir(), "journals.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalPathKeepsExtension(t *testing.T) {
	require.Equal(t, "conf/journals.local.json5", localPath("conf/journals.json5"))
}
