package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/talkincode/lanprobe/config"
	"github.com/talkincode/lanprobe/internal/app"
)

var (
	confFile  = flag.String("c", "/etc/lanprobe.yml", "config file path")
	initDb    = flag.Bool("initdb", false, "drop and recreate all tables, then exit")
	scanRange = flag.String("scan", "", "scan the given range once and exit")
	scanMode  = flag.String("mode", "full", "scan mode for -scan (full or quick)")
	refresh   = flag.Bool("refresh", false, "re-probe all known devices once and exit")
	ouiUpdate = flag.Bool("oui-update", false, "refresh the vendor registry once and exit")
)

func main() {
	flag.Parse()

	cfg := config.LoadConfig(*confFile)
	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initDb {
		application.InitDb()
		zap.L().Info("database initialized")
		return
	}

	ctx := context.Background()

	switch {
	case *scanRange != "":
		stats, err := application.RunScan(ctx, *scanRange, map[string]interface{}{"mode": *scanMode})
		if err != nil {
			zap.L().Error("scan failed", zap.String("range", *scanRange), zap.Error(err))
			os.Exit(1)
		}
		fmt.Printf("scanned %d addresses: %d online, %d offline, %d new, %d updated (%.1fs)\n",
			stats.Scanned, stats.Online, stats.Offline, stats.New, stats.Updated, stats.Duration.Seconds())
		return
	case *refresh:
		stats, err := application.RunRefresh(ctx)
		if err != nil {
			zap.L().Error("refresh failed", zap.Error(err))
			os.Exit(1)
		}
		fmt.Printf("refreshed %d devices: %d online, %d offline\n",
			stats.Scanned, stats.Online, stats.Offline)
		return
	case *ouiUpdate:
		n, err := application.RunOuiUpdate(ctx)
		if err != nil {
			zap.L().Error("oui update failed", zap.Error(err))
			os.Exit(1)
		}
		fmt.Printf("loaded %d vendor assignments\n", n)
		return
	}

	// daemon mode: scheduled tasks drive everything
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	application.StartBackgroundJobs(runCtx)
	zap.L().Info("lanprobe started", zap.String("appid", cfg.System.Appid))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	zap.L().Info("lanprobe shutting down")
}
