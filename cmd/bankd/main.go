package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/selhaddad/paystream/internal/bankd"
	"github.com/selhaddad/paystream/internal/config"
	"github.com/selhaddad/paystream/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New(cfg.Logging)

	var store bankd.Store
	if cfg.Bankd.DBSource != "" {
		pg, err := bankd.NewPostgresStore(cfg.Bankd.DBSource)
		if err != nil {
			log.Fatalf("Unable to connect to database: %v", err)
		}
		store = pg
		logger.Info("using postgres store")
	} else {
		store = bankd.NewMemoryStore()
		logger.Info("using in-memory store")
	}
	defer store.Close()

	hub := bankd.NewHub(logger)
	defer hub.Close()

	opts := bankd.Options{
		OtpDelay: cfg.Bankd.OtpDelay.Duration,
		OtpTTL:   cfg.Bankd.OtpTTL.Duration,
	}
	router := bankd.NewRouter(store, hub, opts, logger)

	logger.Info("bankd starting", "listen", cfg.Bankd.Listen)
	if err := http.ListenAndServe(cfg.Bankd.Listen, router); err != nil {
		log.Fatal(err)
	}
}
