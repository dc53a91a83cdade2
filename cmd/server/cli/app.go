package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/viper"
	"gorm.io/gorm"

	"memoria/internal/config"
	"memoria/internal/db"
	"memoria/internal/events"
	"memoria/internal/logging"
	"memoria/internal/services"
	"memoria/internal/storage"
	"memoria/internal/utils"
)

// app holds what every subcommand needs: configuration, a logger and an
// open database.
type app struct {
	cfg *config.Config
	log *slog.Logger
	db  *gorm.DB
}

func openApp() (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logging.New(cfg.Log)

	gdb, err := db.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb, log); err != nil {
		db.Close(gdb)
		return nil, err
	}
	return &app{cfg: cfg, log: log, db: gdb}, nil
}

func (a *app) close() {
	if err := db.Close(a.db); err != nil {
		a.log.Warn("failed to close database", "error", err)
	}
}

// services wires the application container. The caller owns the returned
// dispatcher and must Close it.
func (a *app) services(pub events.Publisher) (*services.Services, *services.Dispatcher, storage.Provider, error) {
	store, err := storage.New(a.cfg.Storage)
	if err != nil {
		return nil, nil, nil, err
	}
	cache, err := utils.NewCountCache(a.cfg.Cache.Size, a.cfg.Cache.TTL)
	if err != nil {
		return nil, nil, nil, err
	}
	dispatcher := services.NewDispatcher(pub, a.log)

	svc := services.New(services.Deps{
		DB:      a.db,
		Cache:   cache,
		Storage: store,
		Events:  dispatcher,
		Log:     a.log,
	})
	return svc, dispatcher, store, nil
}
