package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadParsesTypedValues(t *testing.T) {
	p := writeConfig(t, `
server:
  address: 127.0.0.1
  port: 9090
  db_path: /tmp/cw
auth:
  jwt_secret: file-secret
  token_ttl: 12h
chat:
  backlog_limit: 75
  typing_ttl: 5s
  auth_timeout: 10
  max_attachment_size: 16MiB
  allowed_file_types: [image/png, application/pdf]
retention:
  enabled: true
  cron: "*/10 * * * *"
  idle_after: 48h
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, "/tmp/cw", cfg.Server.DBPath)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL.Duration())
	assert.Equal(t, 75, cfg.Chat.BacklogLimit)
	assert.Equal(t, 5*time.Second, cfg.Chat.TypingTTL.Duration())
	// bare numbers parse as seconds
	assert.Equal(t, 10*time.Second, cfg.Chat.AuthTimeout.Duration())
	assert.Equal(t, int64(16<<20), cfg.Chat.MaxAttachmentSize.Int64())
	assert.Equal(t, []string{"image/png", "application/pdf"}, cfg.Chat.AllowedFileTypes)
	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, 48*time.Hour, cfg.Retention.IdleAfter.Duration())
}

func TestLoadRejectsBadValues(t *testing.T) {
	var c ChatConfig
	err := yaml.Unmarshal([]byte("max_attachment_size: twelve parsecs"), &c)
	assert.Error(t, err)

	err = yaml.Unmarshal([]byte("typing_ttl: soonish"), &c)
	assert.Error(t, err)
}

func TestAddrDefaults(t *testing.T) {
	var c Config
	assert.Equal(t, "0.0.0.0:8080", c.Addr())

	c.Server.Address = "10.0.0.5"
	assert.Equal(t, "10.0.0.5:8080", c.Addr())
}

func TestResolveConfigPath(t *testing.T) {
	assert.Equal(t, "/flagged.yaml", ResolveConfigPath("/flagged.yaml", true))

	t.Setenv("CHATWIRE_CONFIG", "/from-env.yaml")
	assert.Equal(t, "/from-env.yaml", ResolveConfigPath("./config.yaml", false))

	t.Setenv("CHATWIRE_CONFIG", "")
	assert.Equal(t, "./config.yaml", ResolveConfigPath("./config.yaml", false))
}

func TestParseConfigEnvs(t *testing.T) {
	t.Setenv("CHATWIRE_ADDR", "0.0.0.0:9999")
	t.Setenv("CHATWIRE_DB_PATH", "/data/cw")
	t.Setenv("CHATWIRE_JWT_SECRET", "env-secret")
	t.Setenv("CHATWIRE_DEV_TOKENS", "true")
	t.Setenv("CHATWIRE_RETENTION_CRON", "*/5 * * * *")

	cfg, res := ParseConfigEnvs()
	assert.True(t, res.EnvUsed)
	assert.Equal(t, "env-secret", res.JWTSecret)
	assert.Equal(t, "0.0.0.0:9999", cfg.Addr())
	assert.Equal(t, "/data/cw", cfg.Server.DBPath)
	assert.True(t, cfg.Auth.DevTokens)
	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, "*/5 * * * *", cfg.Retention.Cron)
}

func TestLoadEffectiveConfigPrecedence(t *testing.T) {
	fileCfg := &Config{}
	fileCfg.Server.Address = "127.0.0.1"
	fileCfg.Server.Port = 7000
	fileCfg.Server.DBPath = "/file/db"

	envCfg := &Config{}
	envCfg.Server.Address = "127.0.0.1"
	envCfg.Server.Port = 7100
	envCfg.Server.DBPath = "/env/db"

	// explicit --config requires the file to exist
	_, err := LoadEffectiveConfig(Flags{Config: "/nope.yaml", Set: map[string]bool{"config": true}},
		&Config{}, false, envCfg, EnvResult{})
	assert.Error(t, err)

	// explicit --config wins over env
	eff, err := LoadEffectiveConfig(Flags{Config: "/cfg.yaml", Set: map[string]bool{"config": true}},
		fileCfg, true, envCfg, EnvResult{})
	require.NoError(t, err)
	assert.Equal(t, "config", eff.Source)
	assert.Equal(t, "127.0.0.1:7000", eff.Addr)
	assert.Equal(t, "/file/db", eff.DBPath)

	// addr/db flags switch to flag mode; unset db falls through env then file
	eff, err = LoadEffectiveConfig(Flags{Addr: ":6000", Set: map[string]bool{"addr": true}},
		fileCfg, true, envCfg, EnvResult{})
	require.NoError(t, err)
	assert.Equal(t, "flags", eff.Source)
	assert.Equal(t, ":6000", eff.Addr)
	assert.Equal(t, "/env/db", eff.DBPath)

	// no flags: file when present
	eff, err = LoadEffectiveConfig(Flags{Set: map[string]bool{}}, fileCfg, true, envCfg, EnvResult{})
	require.NoError(t, err)
	assert.Equal(t, "config", eff.Source)

	// otherwise env
	eff, err = LoadEffectiveConfig(Flags{Set: map[string]bool{}}, &Config{}, false, envCfg, EnvResult{})
	require.NoError(t, err)
	assert.Equal(t, "env", eff.Source)
	assert.Equal(t, "/env/db", eff.DBPath)
}

func TestSecretAlwaysHonorsEnvironment(t *testing.T) {
	fileCfg := &Config{}
	fileCfg.Server.DBPath = "/file/db"

	eff, err := LoadEffectiveConfig(Flags{Set: map[string]bool{}}, fileCfg, true, &Config{},
		EnvResult{JWTSecret: "env-secret", EnvUsed: true})
	require.NoError(t, err)
	assert.Equal(t, "config", eff.Source)
	assert.Equal(t, "env-secret", eff.Config.Auth.JWTSecret)
}

func TestRuntimeAccessors(t *testing.T) {
	SetRuntime(nil)
	assert.Empty(t, GetJWTSecret())
	assert.False(t, DevTokensEnabled())

	SetRuntime(&RuntimeConfig{JWTSecret: "s3", DevTokens: true})
	t.Cleanup(func() { SetRuntime(nil) })
	assert.Equal(t, "s3", GetJWTSecret())
	assert.True(t, DevTokensEnabled())
}
