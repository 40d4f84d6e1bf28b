package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
providers:
  bart:
    name: Bay Area Rapid Transit
    tripupdates_url: https://api.bart.gov/gtfsrt/tripupdate.aspx
    alerts_url: https://api.bart.gov/gtfsrt/alerts.aspx
    headers:
      X-API-Key: secret
  caltrain:
    name: Caltrain
    tripupdates_url: https://api.511.org/transit/tripupdates?agency=CT
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 2)

	bart := cfg.Providers["bart"]
	assert.Equal(t, "Bay Area Rapid Transit", bart.Name)
	assert.Equal(t, "https://api.bart.gov/gtfsrt/tripupdate.aspx", bart.TripUpdatesURL)
	assert.Equal(t, "secret", bart.Headers["X-API-Key"])

	// Alerts URL is optional.
	assert.Empty(t, cfg.Providers["caltrain"].AlertsURL)
}

func TestLoadRejectsMissingTripUpdatesURL(t *testing.T) {
	path := writeConfig(t, `
providers:
  bart:
    name: BART
    alerts_url: https://api.bart.gov/gtfsrt/alerts.aspx
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bart")
}

func TestLoadRejectsInvalidURL(t *testing.T) {
	path := writeConfig(t, `
providers:
  bart:
    name: BART
    tripupdates_url: not-a-url
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsEmptyRegistry(t *testing.T) {
	path := writeConfig(t, `providers: {}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
