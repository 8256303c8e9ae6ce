package main

import (
	"context"
	"net/http"
	"time"

	"matchbroker/internal/authclient"
	"matchbroker/internal/broker"
	"matchbroker/internal/config"
	"matchbroker/internal/ingest"
	"matchbroker/internal/logging"
	"matchbroker/internal/store"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	logCfg, err := config.LoadLog()
	if err != nil {
		panic(err)
	}
	logging.Init(logCfg)
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatal().Err(err).Msg("load server config failed")
	}

	st, err := store.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	if err := st.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}

	auth := authclient.New(cfg.AuthBaseURL)
	brk := broker.NewService(st, auth, broker.Config{
		TicketExpiry:    time.Duration(cfg.TicketExpirySecs) * time.Second,
		LoginHandleTTL:  time.Duration(cfg.LoginHandleTTLMin) * time.Minute,
		DefaultGamePort: cfg.DefaultGamePort,
		ProfileURL:      cfg.ProfileURL,
		ProfileURLRML:   cfg.ProfileURLRML,
		AuthCallbackURL: cfg.AuthCallbackURL,
	})
	stopJanitor, err := brk.StartJanitor(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("janitor start failed")
	}
	defer func() { _ = stopJanitor() }()

	ing := ingest.NewService(st, cfg.ReportDir)

	r := newRouter(st, brk, ing)
	logRoutes(r)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
	log.Fatal().Err(server.ListenAndServe()).Msg("server stopped")
}
