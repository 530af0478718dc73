package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/selhaddad/paystream/internal/backend"
	"github.com/selhaddad/paystream/internal/config"
	"github.com/selhaddad/paystream/internal/ledger"
	"github.com/selhaddad/paystream/internal/logging"
	"github.com/selhaddad/paystream/internal/notify"
	"github.com/selhaddad/paystream/internal/payment"
	"github.com/selhaddad/paystream/internal/session"
)

// app assembles the pipeline: session transport feeding the notification
// router, the reconciliation ledger, and the payment orchestrator on top.
type app struct {
	cfg    config.Config
	log    *slog.Logger
	sess   *session.Session
	store  ledger.Store
	ledger *ledger.Ledger
	router *notify.Router
	client *backend.Client
	orch   *payment.Orchestrator
}

func newApp(alerts notify.AlertSink) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Logging)

	if cfg.Client.Identity == "" {
		return nil, fmt.Errorf("client identity is required (config [client].identity or PAYSTREAM_IDENTITY)")
	}
	if cfg.Client.AccountID == "" {
		return nil, fmt.Errorf("client account id is required (config [client].account_id or PAYSTREAM_ACCOUNT_ID)")
	}

	sessCfg := session.DefaultConfig(cfg.Client.StreamURL)
	sessCfg.DialTimeout = cfg.Session.DialTimeout.Duration
	sessCfg.BackoffMin = cfg.Session.BackoffMin.Duration
	sessCfg.BackoffMax = cfg.Session.BackoffMax.Duration
	sess, err := session.New(sessCfg, cfg.Client.Identity, logger)
	if err != nil {
		return nil, err
	}

	var store ledger.Store
	if cfg.Ledger.StateDir != "" {
		store, err = ledger.OpenSQLite(cfg.Ledger.StateDir)
		if err != nil {
			return nil, err
		}
	}
	led, err := ledger.New(cfg.Client.AccountID, store, logger)
	if err != nil {
		return nil, err
	}

	client := backend.NewClient(cfg.Client.BackendURL, cfg.Client.AccountID, sess.Identity(), logger)
	orch := payment.New(client, sess, led, payment.Config{
		OtpWait:  cfg.Payment.OtpWait.Duration,
		Currency: cfg.Client.Currency,
	}, logger)

	return &app{
		cfg:    cfg,
		log:    logger,
		sess:   sess,
		store:  store,
		ledger: led,
		router: notify.NewRouter(led, alerts, logger),
		client: client,
		orch:   orch,
	}, nil
}

// start opens the session and begins routing its events.
func (a *app) start(ctx context.Context) error {
	if err := a.sess.Connect(ctx); err != nil {
		return err
	}
	go a.router.Run(ctx, a.sess.Events())
	return nil
}

// waitReady blocks until the stream is authenticated or the deadline
// passes.
func (a *app) waitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for !a.sess.IsReady() {
		if time.Now().After(deadline) {
			return fmt.Errorf("stream not ready after %s, try again later", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

func (a *app) shutdown() {
	a.sess.Disconnect()
	if a.store != nil {
		a.store.Close()
	}
}
