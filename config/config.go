package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Nonce     NonceConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Ledger    LedgerConfig
	Ownership OwnershipConfig
	Discord   DiscordConfig
	// BaseUrl is where the verification page is served; deep links point to it.
	BaseUrl   string
	Verbosity int
}

type ServerConfig struct {
	Port                       int
	CorsOrigins                []string
	RateLimitRps               int
	MaxConcurrentVerifications int
	// TrustedProxies may set X-Forwarded-For; addresses or CIDR ranges.
	TrustedProxies []string
}

type NonceConfig struct {
	// Store is one of "memory", "postgres" or "redis".
	Store            string
	LifeTimeSec      int
	ClearIntervalSec int
}

type PostgresConfig struct {
	ConnStr    string
	ScriptsDir string
}

type RedisConfig struct {
	Addr      string
	Password  string
	Db        int
	KeyPrefix string
}

type LedgerConfig struct {
	Url        string
	ApiKey     string
	Contract   string
	PageSize   int
	MaxPages   int
	TimeoutSec int
}

type OwnershipConfig struct {
	ParentSuffix string
	SampleSize   int
}

type DiscordConfig struct {
	ApiUrl        string
	BotToken      string
	RoleId        string
	ApplicationId string
	GuildId       string
	PublicKey     string
	TimeoutSec    int
}

// LoadConfig reads a JSON config file; any key can be overridden by an environment
// variable named after its path, e.g. DISCORD_BOTTOKEN. An empty path means defaults and environment only.
func LoadConfig(configPath string) *Config {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			panic(errors.Errorf("Config file can't be found, path: %v", configPath))
		}
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			panic(errors.Errorf("Cannot parse JSON config, path: %v", configPath))
		}
	}
	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		panic(errors.Wrapf(err, "Cannot decode config, path: %v", configPath))
	}
	return conf
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 80)
	v.SetDefault("server.corsorigins", []string{"*"})
	v.SetDefault("server.ratelimitrps", 10)
	v.SetDefault("server.trustedproxies", []string{})
	v.SetDefault("server.maxconcurrentverifications", 64)

	v.SetDefault("nonce.store", "memory")
	v.SetDefault("nonce.lifetimesec", 300)
	v.SetDefault("nonce.clearintervalsec", 60)

	v.SetDefault("postgres.connstr", "")
	v.SetDefault("postgres.scriptsdir", filepath.Join("resources"))

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.keyprefix", "ens-verify:nonce:")

	v.SetDefault("ledger.url", "https://eth-mainnet.g.alchemy.com/nft/v3")
	v.SetDefault("ledger.apikey", "")
	v.SetDefault("ledger.contract", "0xD4416b13d2b3a9aBae7AcD5D6C2BbDBE25686401")
	v.SetDefault("ledger.pagesize", 100)
	v.SetDefault("ledger.maxpages", 50)
	v.SetDefault("ledger.timeoutsec", 10)

	v.SetDefault("ownership.parentsuffix", "emperor.club.agi.eth")
	v.SetDefault("ownership.samplesize", 5)

	v.SetDefault("discord.apiurl", "https://discord.com/api/v10")
	v.SetDefault("discord.bottoken", "")
	v.SetDefault("discord.roleid", "")
	v.SetDefault("discord.applicationid", "")
	v.SetDefault("discord.guildid", "")
	v.SetDefault("discord.publickey", "")
	v.SetDefault("discord.timeoutsec", 10)

	v.SetDefault("baseurl", "http://localhost")
	v.SetDefault("verbosity", 3)
}
