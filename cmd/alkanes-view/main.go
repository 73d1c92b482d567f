package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/kungfuflex/alkanes/core"
	"github.com/kungfuflex/alkanes/pkg/config"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	viper.AutomaticEnv()

	env := os.Getenv("ALKANES_ENV")
	cfg, err := config.Load(env)
	if err != nil {
		logrus.WithError(err).Warn("config load failed, using defaults")
		cfg = &config.AppConfig
	}

	dataDir := cfg.Storage.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	flavor := core.ChainBitcoin
	if cfg.Chain.Flavor == "zcash-transparent" {
		flavor = core.ChainZcashTransparent
	}
	if err := core.InitIndexer(dataDir, core.IndexerConfig{
		SnapshotInterval: cfg.Storage.SnapshotInterval,
		ChainFlavor:      flavor,
		FuelPerBlock:     cfg.VM.FuelPerBlock,
	}); err != nil {
		logrus.WithError(err).Fatal("indexer init")
	}
	core.InitView()

	addr := cfg.View.ListenAddr
	if addr == "" {
		addr = ":8081"
	}
	rps := cfg.View.RateLimitRPS
	if rps == 0 {
		rps = 50
	}
	burst := cfg.View.RateBurst
	if burst == 0 {
		burst = 100
	}

	srv := NewServer(addr, core.CurrentView(), rps, burst)
	logrus.WithField("addr", addr).Info("alkanes-view listening")
	if err := srv.Start(); err != nil {
		logrus.WithError(err).Fatal("server")
	}
}
