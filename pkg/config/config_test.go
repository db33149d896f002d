package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("TEST_VAULT_KEY", "0123456789abcdef0123456789abcdef")

	path := writeFile(t, "engine.yaml", `
logging:
  level: debug
  encoding: console
vault:
  backend: local
  key: ${TEST_VAULT_KEY}
store:
  backend: memory
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Vault.Key)
	// Defaults survive where the file is silent.
	assert.Equal(t, "log", cfg.Audit.Backend)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadRejectsIncompleteBackends(t *testing.T) {
	cases := map[string]string{
		"missing local key": `
vault:
  backend: local
  key: ""
`,
		"unknown vault backend": `
vault:
  backend: s3
`,
		"kafka without brokers": `
vault:
  backend: local
  key: k
audit:
  backend: kafka
`,
		"postgres without dsn": `
vault:
  backend: local
  key: k
store:
  backend: postgres
`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "engine.yaml", content))
			assert.Error(t, err)
		})
	}
}

func TestLoadDefinitions(t *testing.T) {
	defPath := writeFile(t, "connector.yaml", `
id: nhs_gp_connect
name: NHS GP Connect
version: "1.0.0"
category: healthcare
base_url: https://gpconnect.example.nhs.uk
endpoints:
  - id: book_appointment
    name: Book appointment
    method: POST
    path: /appointments
    parameters:
      - name: patientId
        type: string
        required: true
`)

	cfg := Default()
	cfg.Vault.Key = "k"
	cfg.Definitions = []string{defPath}

	defs, err := cfg.LoadDefinitions()
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "nhs_gp_connect", defs[0].ID)
	require.Len(t, defs[0].Endpoints, 1)
	assert.True(t, defs[0].Endpoints[0].Parameters[0].Required)
}
