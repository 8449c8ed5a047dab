package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Rivalz-Swarm/internal/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSONAppliesDefaults(t *testing.T) {
	path := writeFile(t, "rivalz.json", `{"server":{"address":":9000"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	base := filepath.Dir(path)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, filepath.Join(base, "documents"), cfg.Setup.DocumentsDir)
	assert.Equal(t, "Multi-Agent RAG Knowledge Base", cfg.Setup.KnowledgeBaseName)
	assert.Equal(t, time.Second, cfg.Setup.PollInterval())
	assert.Equal(t, 60*time.Second, cfg.Setup.ReadyTimeout())
	assert.Equal(t, 3, cfg.Tools.TVLRetries)
	assert.Equal(t, "https://api.llama.fi/v2/chains", cfg.Tools.TVLURL)
	assert.Equal(t, "Rivalz AI", cfg.Tools.TopicPhrase)
	assert.Equal(t, "RIVALZ_SECRET_TOKEN", cfg.KnowledgeStore.SecretTokenEnv)
	assert.Equal(t, filepath.Join(base, "data"), cfg.Runtime.DataDir)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "rivalz.yaml", `
llm:
  provider: anthropic
setup:
  unbounded_wait: true
  documents_dir: /srv/docs
task_queue:
  driver: redis
  redis:
    address: 127.0.0.1:6379
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.True(t, cfg.Setup.UnboundedWait)
	assert.Equal(t, "/srv/docs", cfg.Setup.DocumentsDir)
	assert.Equal(t, "redis", cfg.TaskQueue.Driver)
	assert.Equal(t, "rivalz:setup", cfg.TaskQueue.Redis.Queue)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeFile(t, "rivalz.json", `{"task_queue":{"driver":"kafka"}}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeConfiguration, xerrors.CodeOf(err))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeConfiguration))
}

func TestTokenPrefersInlineValue(t *testing.T) {
	t.Setenv("TEST_RIVALZ_TOKEN", "from-env")

	cfg := KnowledgeStoreConfig{SecretTokenEnv: "TEST_RIVALZ_TOKEN"}
	assert.Equal(t, "from-env", cfg.Token())

	cfg.SecretToken = " inline "
	assert.Equal(t, "inline", cfg.Token())

	assert.Empty(t, KnowledgeStoreConfig{}.Token())
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default(t.TempDir())
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Setup.Enabled)
	assert.False(t, cfg.Web3.Enabled())
}

func TestAdminKeyValueFromEnv(t *testing.T) {
	t.Setenv("RIVALZ_TEST_ADMIN_KEY", " from-env ")
	path := writeFile(t, "rivalz.json", `{"server":{"admin_keys":[{"name":"ops","secret_env":"RIVALZ_TEST_ADMIN_KEY"},{"name":"ci","secret":"inline"}]}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Server.AdminKeys, 2)
	assert.Equal(t, "from-env", cfg.Server.AdminKeys[0].Value())
	assert.Equal(t, "inline", cfg.Server.AdminKeys[1].Value())
}
