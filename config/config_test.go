package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.json")
	require.Nil(t, ioutil.WriteFile(path, []byte(content), 0600))
	return path
}

func Test_LoadConfigDefaults(t *testing.T) {
	conf := LoadConfig(writeConfig(t, `{}`))

	require.Equal(t, 80, conf.Server.Port)
	require.Equal(t, "memory", conf.Nonce.Store)
	require.Equal(t, 300, conf.Nonce.LifeTimeSec)
	require.Equal(t, 100, conf.Ledger.PageSize)
	require.Equal(t, 50, conf.Ledger.MaxPages)
	require.Equal(t, "emperor.club.agi.eth", conf.Ownership.ParentSuffix)
	require.Equal(t, "https://discord.com/api/v10", conf.Discord.ApiUrl)
	require.Equal(t, []string{"*"}, conf.Server.CorsOrigins)
}

func Test_LoadConfigFile(t *testing.T) {
	conf := LoadConfig(writeConfig(t, `{
		"Server": {"Port": 5000, "MaxConcurrentVerifications": 8, "TrustedProxies": ["10.0.0.0/8"]},
		"Nonce": {"Store": "redis", "LifeTimeSec": 60},
		"Redis": {"Addr": "redis:6379"},
		"Ownership": {"ParentSuffix": ".club.agi.eth"},
		"Discord": {"RoleId": "42"},
		"BaseUrl": "https://verify.example"
	}`))

	require.Equal(t, 5000, conf.Server.Port)
	require.Equal(t, 8, conf.Server.MaxConcurrentVerifications)
	require.Equal(t, []string{"10.0.0.0/8"}, conf.Server.TrustedProxies)
	require.Equal(t, "redis", conf.Nonce.Store)
	require.Equal(t, 60, conf.Nonce.LifeTimeSec)
	require.Equal(t, "redis:6379", conf.Redis.Addr)
	require.Equal(t, ".club.agi.eth", conf.Ownership.ParentSuffix)
	require.Equal(t, "42", conf.Discord.RoleId)
	require.Equal(t, "https://verify.example", conf.BaseUrl)
}

func Test_LoadConfigEnvOverride(t *testing.T) {
	t.Setenv("DISCORD_BOTTOKEN", "bot-token")
	t.Setenv("LEDGER_APIKEY", "alchemy-key")
	t.Setenv("SERVER_PORT", "8080")

	conf := LoadConfig(writeConfig(t, `{"Server": {"Port": 5000}}`))

	require.Equal(t, "bot-token", conf.Discord.BotToken)
	require.Equal(t, "alchemy-key", conf.Ledger.ApiKey)
	require.Equal(t, 8080, conf.Server.Port)
}

func Test_LoadConfigMissingFile(t *testing.T) {
	require.Panics(t, func() {
		LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	})
}

func Test_LoadConfigWithoutFile(t *testing.T) {
	conf := LoadConfig("")
	require.Equal(t, 80, conf.Server.Port)
}

func Test_Secret(t *testing.T) {
	secret := NewSecret("token")
	value, err := secret.Reveal()
	require.Nil(t, err)
	require.Equal(t, "token", value)

	empty := NewSecret("")
	require.Nil(t, empty)
	value, err = empty.Reveal()
	require.Nil(t, err)
	require.Equal(t, "", value)
}

func Test_TakeSecret(t *testing.T) {
	t.Setenv("LEDGER_APIKEY", "alchemy-key")
	t.Setenv("DISCORD_BOTTOKEN", "")
	conf := LoadConfig("")

	// When
	secret := TakeSecret(&conf.Ledger.ApiKey)
	// Then
	require.Equal(t, "", conf.Ledger.ApiKey)
	value, err := secret.Reveal()
	require.Nil(t, err)
	require.Equal(t, "alchemy-key", value)

	// When
	secret = TakeSecret(&conf.Discord.BotToken)
	// Then
	require.Nil(t, secret)
}
