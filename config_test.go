package kgrader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/kgrader/model"
	"github.com/viant/kgrader/service/installer"
	_ "github.com/viant/kgrader/service/suite/devicecheck"
)

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		description string
		mutate      func(c *Config)
		expectErr   bool
	}{
		{description: "defaults", mutate: func(c *Config) {}},
		{description: "registered suite", mutate: func(c *Config) { c.Suite = "devicecheck" }},
		{description: "unknown suite", mutate: func(c *Config) { c.Suite = "nope" }, expectErr: true},
		{description: "no root", mutate: func(c *Config) { c.Root = "" }, expectErr: true},
		{description: "no boot attempts", mutate: func(c *Config) { c.MaxBootAttempts = 0 }, expectErr: true},
		{description: "bad level", mutate: func(c *Config) { c.LogLevel = "loud" }, expectErr: true},
		{description: "kernel without boot commands", mutate: func(c *Config) { c.Installer.TestBoot = "" }, expectErr: true},
		{
			description: "module installer",
			mutate:      func(c *Config) { c.Installer = installer.DefaultCommands(installer.KindModule) },
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			cfg := DefaultConfig()
			testCase.mutate(cfg)
			err := cfg.Validate()
			if testCase.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	location := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(location, []byte(`
root: /srv/grader
suite: devicecheck
abortWait: 2s
params:
  device: /dev/hw
installer:
  kind: module
  build: make -C {dir}
  reboot: systemctl reboot
`), 0o644))
	t.Setenv(EnvSubmissions, "/srv/incoming")
	t.Setenv(EnvBreak, "true")

	cfg, err := LoadConfig(context.Background(), location)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/srv/grader", cfg.Root)
	assert.Equal(t, "/srv/incoming", cfg.Submissions)
	assert.Equal(t, 2*time.Second, cfg.AbortWait)
	assert.Equal(t, 10*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, installer.KindModule, cfg.Installer.Kind)
	assert.Equal(t, "/dev/hw", cfg.Params["device"])
	assert.True(t, cfg.Break)

	state := cfg.GraderState()
	assert.Equal(t, "/srv/grader/queue", state.QueuePath)
	assert.Equal(t, "/srv/grader/grades", state.GradesPath)
	assert.Equal(t, model.ModeNormal, state.Mode)
	assert.True(t, state.Break)
	assert.NoError(t, state.Validate())
}

func TestConfig_ApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	env := map[string]string{EnvRoot: "/tmp/g", EnvSuite: "devicecheck", EnvLogLevel: "debug"}
	require.NoError(t, cfg.applyEnv(func(k string) string { return env[k] }))
	assert.Equal(t, "/tmp/g", cfg.Root)
	assert.Equal(t, "devicecheck", cfg.Suite)
	assert.Equal(t, "debug", cfg.LogLevel)

	env = map[string]string{EnvBreak: "maybe"}
	assert.Error(t, cfg.applyEnv(func(k string) string { return env[k] }))
}
