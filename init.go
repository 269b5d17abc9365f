package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/awnumar/memguard"
	"github.com/ensclub/ens-verify/config"
	"github.com/ensclub/ens-verify/core"
	"github.com/ensclub/ens-verify/db"
	"github.com/ensclub/ens-verify/db/memory"
	"github.com/ensclub/ens-verify/db/postgres"
	"github.com/ensclub/ens-verify/db/redis"
	"github.com/ensclub/ens-verify/discord"
	"github.com/ensclub/ens-verify/ledger"
	"github.com/ensclub/ens-verify/server"
	log "github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

func initLogger(verbosity int) {
	var handler log.Handler
	logLvl := log.Lvl(verbosity)
	if runtime.GOOS == "windows" {
		handler = log.LvlFilterHandler(logLvl, log.StreamHandler(os.Stdout, log.LogfmtFormat()))
	} else {
		handler = log.LvlFilterHandler(logLvl, log.StreamHandler(os.Stderr, log.TerminalFormat()))
	}
	log.Root().SetHandler(handler)
}

func startServer(appConfig *config.Config) {
	initLogger(appConfig.Verbosity)
	memguard.CatchInterrupt()
	defer memguard.Purge()

	ledgerKey := config.TakeSecret(&appConfig.Ledger.ApiKey)
	botToken := config.TakeSecret(&appConfig.Discord.BotToken)
	nonces := initNonceRegistry(context.Background(), appConfig)
	verifier := core.NewVerifier(
		nonces,
		core.NewSignatureVerifier(),
		initOwnershipResolver(appConfig, ledgerKey),
		initGrantService(appConfig, botToken),
		appConfig.Server.MaxConcurrentVerifications,
	)
	s := server.NewServer(appConfig.Server.Port, nonces, verifier)
	s.SetCorsOrigins(appConfig.Server.CorsOrigins)
	s.SetRateLimit(appConfig.Server.RateLimitRps)
	if err := s.SetTrustedProxies(appConfig.Server.TrustedProxies); err != nil {
		panic(errors.Wrap(err, "invalid Server.TrustedProxies"))
	}
	s.SetSampleSize(appConfig.Ownership.SampleSize)
	if appConfig.Discord.PublicKey != "" {
		publicKey, err := discord.ParsePublicKey(appConfig.Discord.PublicKey)
		if err != nil {
			panic(errors.Wrap(err, "invalid Discord.PublicKey"))
		}
		s.SetInteractions(publicKey, appConfig.BaseUrl)
	}
	log.Info(fmt.Sprintf("Expecting role %v, contract %v, parent %v",
		appConfig.Discord.RoleId, appConfig.Ledger.Contract, appConfig.Ownership.ParentSuffix))
	s.Start()
}

func initNonceRegistry(ctx context.Context, appConfig *config.Config) core.NonceRegistry {
	return core.NewNonceRegistry(ctx, initNonceStore(appConfig),
		time.Second*time.Duration(appConfig.Nonce.LifeTimeSec),
		time.Second*time.Duration(appConfig.Nonce.ClearIntervalSec))
}

func initNonceStore(appConfig *config.Config) db.NonceStore {
	switch appConfig.Nonce.Store {
	case "", "memory":
		return memory.NewStore()
	case "postgres":
		return postgres.NewStore(appConfig.Postgres.ConnStr, appConfig.Postgres.ScriptsDir)
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     appConfig.Redis.Addr,
			Password: appConfig.Redis.Password,
			DB:       appConfig.Redis.Db,
		})
		return redis.NewStore(client, appConfig.Redis.KeyPrefix)
	}
	panic(errors.Errorf("Unknown nonce store %q", appConfig.Nonce.Store))
}

func initOwnershipResolver(appConfig *config.Config, apiKey *config.Secret) core.OwnershipResolver {
	timeout := time.Second * time.Duration(appConfig.Ledger.TimeoutSec)
	client := ledger.NewClient(appConfig.Ledger.Url, apiKey, timeout)
	return core.NewOwnershipResolver(client, core.OwnershipConfig{
		Contract:     appConfig.Ledger.Contract,
		ParentSuffix: appConfig.Ownership.ParentSuffix,
		PageSize:     appConfig.Ledger.PageSize,
		MaxPages:     appConfig.Ledger.MaxPages,
		SampleSize:   appConfig.Ownership.SampleSize,
		Timeout:      timeout,
	})
}

func initDiscordClient(appConfig *config.Config, botToken *config.Secret) *discord.Client {
	return discord.NewClient(appConfig.Discord.ApiUrl, botToken,
		time.Second*time.Duration(appConfig.Discord.TimeoutSec))
}

func initGrantService(appConfig *config.Config, botToken *config.Secret) core.GrantService {
	return core.NewGrantService(initDiscordClient(appConfig, botToken), appConfig.Discord.RoleId,
		time.Second*time.Duration(appConfig.Discord.TimeoutSec))
}

func registerCommands(appConfig *config.Config) error {
	initLogger(appConfig.Verbosity)
	defer memguard.Purge()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	commands := []discord.Command{discord.VerifyCommand(appConfig.Ownership.ParentSuffix)}
	botToken := config.TakeSecret(&appConfig.Discord.BotToken)
	err := initDiscordClient(appConfig, botToken).RegisterGuildCommands(ctx,
		appConfig.Discord.ApplicationId, appConfig.Discord.GuildId, commands)
	if err != nil {
		return errors.Wrap(err, "unable to register commands")
	}
	log.Info(fmt.Sprintf("/%v registered to guild %v", discord.VerifyCommandName, appConfig.Discord.GuildId))
	return nil
}
