package main

import (
	"context"
	"embed"
	"os"

	"github.com/joho/godotenv"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"liveassist/internal/bootstrap"
	"liveassist/internal/config"
	"liveassist/internal/debug"
	"liveassist/internal/log"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	envErr := godotenv.Load()

	cfg, cfgErr := config.Load()
	log.Configure(log.Config{Level: cfg.Log.Level, Console: cfg.Log.Console})
	logger := log.WithComponent("app")
	if envErr != nil {
		logger.Debug().Msg("no .env file found, using environment variables")
	}

	app := NewApp(func(ctx context.Context) (bootstrap.Services, error) {
		if cfgErr != nil {
			return bootstrap.Services{}, cfgErr
		}
		services, err := bootstrap.Build(ctx, cfg, bootstrap.DefaultPlatform(cfg))
		if err != nil {
			return bootstrap.Services{}, err
		}
		if cfg.Debug.ListenAddr != "" {
			server := debug.NewServer(cfg.Debug.ListenAddr, services.Coordinator, log.WithComponent("debug"))
			go func() {
				if err := server.Run(ctx); err != nil {
					logger.Error().Err(err).Msg("debug server stopped")
				}
			}()
		}
		logger.Info().Str("backend", services.BackendURL).Msg("services ready")
		return services, nil
	})

	err := wails.Run(&options.App{
		Title:     "Live Assist",
		Width:     1024,
		Height:    720,
		MinWidth:  640,
		MinHeight: 480,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		OnStartup:  app.startup,
		OnShutdown: app.shutdown,
		Bind: []interface{}{
			app,
		},
	})
	if err != nil {
		logger.Error().Err(err).Msg("wails run failed")
		os.Exit(1)
	}
}
