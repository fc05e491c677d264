package main

import (
	"context"
	"errors"
	"time"

	"github.com/energye/systray"
	"github.com/robfig/cron/v3"
	"github.com/voicetel/freescout-sla-tray/internal/config"
	"github.com/voicetel/freescout-sla-tray/internal/database"
	"github.com/voicetel/freescout-sla-tray/internal/logging"
	"github.com/voicetel/freescout-sla-tray/internal/notifier"
	"github.com/voicetel/freescout-sla-tray/internal/options"
	"github.com/voicetel/freescout-sla-tray/internal/session"
	"github.com/voicetel/freescout-sla-tray/internal/source"
	"github.com/voicetel/freescout-sla-tray/internal/tray"
	"golang.org/x/sync/errgroup"
)

// alertFlushSchedule re-checks queued breach alerts against business hours.
const alertFlushSchedule = "*/5 * * * *"

// runTray wires the tray together and blocks until the user quits.
func runTray(cfg *config.Config, db *database.DB, store *options.Store, logger *logging.Logger) error {
	fsDB, err := database.OpenFreeScout(cfg.FreeScout)
	if err != nil {
		return err
	}
	defer fsDB.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	routes := session.NewRoutes(cfg.FreeScout.URL)

	poller := source.NewPoller(fsDB, store, routes,
		cfg.Tray.PollInterval.Duration, cfg.FreeScout.Timeout.Or(30*time.Second), logger.Component("source"))
	alerts := notifier.New(db, cfg, logger.Component("notifier"))
	ui := tray.New(ctx, routes, logger.Component("tray"))

	machine := session.New(session.Config{
		Routes:        routes,
		TickInterval:  cfg.Tray.TickInterval.Duration,
		ProbeInterval: cfg.Tray.ProbeInterval.Duration,
		Location:      time.Local,
		Logger:        logger.Component("session"),
	}, store, ui, poller, poller, alerts)

	poller.SetSink(machine)
	ui.SetSink(machine)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.CleanupSchedule, func() {
		if err := performCleanup(db, cfg, logger); err != nil {
			logger.LogError("Scheduled cleanup failed", err)
		}
	}); err != nil {
		return err
	}
	if _, err := scheduler.AddFunc(alertFlushSchedule, func() { alerts.Tick(ctx) }); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	var runErr error

	onReady := func() {
		ui.Ready()

		g.Go(func() error { return machine.Run(gctx) })
		g.Go(func() error { return poller.Run(gctx) })
		g.Go(func() error { return alerts.Run(gctx) })
		g.Go(func() error {
			scheduler.Start()
			<-gctx.Done()
			<-scheduler.Stop().Done()
			return gctx.Err()
		})

		// A worker failing on its own takes the tray down with it.
		go func() {
			<-gctx.Done()
			systray.Quit()
		}()

		logger.Info("Tray started", "poll_interval", cfg.Tray.PollInterval.Duration.String())
	}

	onExit := func() {
		logger.Info("Shutting down tray")
		cancel()
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
		}
	}

	systray.Run(onReady, onExit)
	return runErr
}
