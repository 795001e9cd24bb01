package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	err := os.WriteFile(path, []byte(contents), 0644)
	if err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), `{
		// collected every hour
		schedule: "0 * * * *",
		topics: ["Bitcoin", "CD Projekt"],
		timezone: "Europe/Warsaw",
		reddit: {
			enabled: true,
			client_id: "from-file",
			client_secret: "file-secret",
			user_agent: "finscrape/1.0",
		},
		runlog: { file: "state/runs.db" },
	}`)
	writeFile(t, filepath.Join(dir, "config.local.json5"), `{
		max_results: 200,
		reddit: { client_secret: "local-secret" },
	}`)
	writeFile(t, filepath.Join(dir, ".env"), "REDDIT_USER_AGENT=from-dotenv\n")
	t.Setenv("REDDIT_CLIENT_ID", "from-env")
	t.Setenv("REDDIT_USER_AGENT", "")

	cfg, err := Load(filepath.Join(dir, FileName))
	require.NoError(t, err)

	require.Equal(t, []string{"Bitcoin", "CD Projekt"}, cfg.Topics)
	require.Equal(t, 200, cfg.MaxResults)
	require.Equal(t, "0 * * * *", cfg.Schedule)
	require.Equal(t, "from-env", cfg.Reddit.ClientId)
	require.Equal(t, "local-secret", cfg.Reddit.ClientSecret)
	require.Equal(t, "from-dotenv", cfg.Reddit.UserAgent)
	require.Equal(t, filepath.Join(dir, "data"), cfg.DataDir)
	require.Equal(t, filepath.Join(dir, "state", "runs.db"), cfg.Runlog.File)
	require.Equal(t, 500*time.Millisecond, cfg.RetryOptions().BaseDelay)
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), `{}`)

	cfg, err := Load(filepath.Join(dir, FileName))
	require.NoError(t, err)
	require.Equal(t, DefaultTopics, cfg.Topics)
	require.Equal(t, 1000, cfg.MaxResults)
	require.Equal(t, filepath.Join(dir, "finscrape.db"), cfg.Runlog.File)
	require.Equal(t, 3, cfg.RetryOptions().MaxRetries)
	require.True(t, cfg.Vocabulary().Matches("giełda"))
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), FileName))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(c *Config)
		valid  bool
	}{
		{name: "default", modify: func(c *Config) {}, valid: true},
		{name: "no topics", modify: func(c *Config) { c.Topics = nil }},
		{name: "blank topic", modify: func(c *Config) { c.Topics = []string{"  "} }},
		{name: "path in topic", modify: func(c *Config) { c.Topics = []string{"../etc"} }},
		{name: "parent directory topic", modify: func(c *Config) { c.Topics = []string{".."} }},
		{name: "bad timezone", modify: func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{name: "bad schedule", modify: func(c *Config) { c.Schedule = "every day" }},
		{name: "reddit without credentials", modify: func(c *Config) { c.Reddit.Enabled = true }},
		{name: "x without credentials", modify: func(c *Config) { c.X.Enabled = true }},
		{
			name: "x with bearer token",
			modify: func(c *Config) {
				c.X.Enabled = true
				c.X.BearerToken = "token"
			},
			valid: true,
		},
	}
	for _, test := range cases {
		cfg := Default()
		test.modify(&cfg)
		err := cfg.Validate()
		if test.valid {
			require.NoError(t, err, test.name)
		} else {
			require.Error(t, err, test.name)
		}
	}
}

func TestCustomKeywords(t *testing.T) {
	cfg := Default()
	cfg.Keywords = []string{"Obligacje"}
	vocab := cfg.Vocabulary()
	require.True(t, vocab.Matches("OBLIGACJE skarbowe"))
	require.False(t, vocab.Matches("giełda"))
}

func TestValidateTopics(t *testing.T) {
	cases := []struct {
		topics []string
		valid  bool
	}{
		{topics: []string{"Bitcoin", "CD Projekt", "Żabka"}, valid: true},
		{topics: []string{"...and more"}, valid: true},
		{topics: nil},
		{topics: []string{"Bitcoin", " "}},
		{topics: []string{"../../etc"}},
		{topics: []string{`..\windows`}},
		{topics: []string{"."}},
	}
	for _, test := range cases {
		err := ValidateTopics(test.topics)
		if test.valid {
			require.NoError(t, err, test.topics)
		} else {
			require.Error(t, err, test.topics)
		}
	}
}
