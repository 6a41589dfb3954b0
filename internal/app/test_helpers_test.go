package app

import (
	"time"

	"github.com/vladislavdragonenkov/menusync/internal/config"
)

// testConfig возвращает валидную конфигурацию без внешних зависимостей.
func testConfig() config.Config {
	cfg := config.Default()
	cfg.Service.GRPCAddr = "127.0.0.1:0"
	cfg.Service.MetricsAddr = "127.0.0.1:0"
	cfg.Service.ShutdownTimeout = 2 * time.Second
	cfg.MenuSource.BaseURL = "http://127.0.0.1:1"
	cfg.Platforms.DoorDash.Enabled = true
	cfg.Platforms.DoorDash.ClientID = "dd-client"
	cfg.Platforms.DoorDash.ClientSecret = "dd-secret"
	cfg.Platforms.Grubhub.Enabled = true
	cfg.Platforms.Grubhub.APIKey = "gh-key"
	return cfg
}
