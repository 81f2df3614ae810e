package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	maxConnectAttempts = 10
	lockRetryDelay     = 50 * time.Millisecond
	connectRetryDelay  = time.Second
	watchdogTick       = time.Second
)

// daemon wires the session, the activity clock and the event source into the
// two long-lived loops: connect/poll and the idle watchdog. The loops share
// the session through its non-blocking lock and the clock through its atomic
// scalar; nothing else is shared.
type daemon struct {
	remote *Remote
	events EventSource
	clock  *ActivityClock
	log    *logrus.Logger

	idleTimeout time.Duration
	now         func() time.Time

	// Loop delays, overridable in tests.
	lockRetry    time.Duration
	connectRetry time.Duration
}

func newDaemon(remote *Remote, events EventSource, log *logrus.Logger, cfg *Config) *daemon {
	return &daemon{
		remote:       remote,
		events:       events,
		clock:        &ActivityClock{},
		log:          log,
		idleTimeout:  cfg.IdleTimeout(),
		now:          time.Now,
		lockRetry:    lockRetryDelay,
		connectRetry: connectRetryDelay,
	}
}

func runDaemon(cfg *Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting Wii Remote manager...")

	ctl := newExecBluetoothCtl(cfg.BluetoothctlPath)
	lister := newExecDeviceLister(cfg.XwiishowPath)
	remote := NewRemote(ctl, lister, log, cfg)
	d := newDaemon(remote, newEvdevSource(log), log, cfg)

	if err := d.events.Start(ctx); err != nil {
		return fmt.Errorf("initialize input event source: %w", err)
	}

	// Out-of-band disconnect watcher; optional, the connect loop's lazy
	// status queries cover its absence.
	if w, err := newBluezWatcher(remote, log); err != nil {
		log.WithError(err).Warn("BlueZ watcher unavailable, relying on status polling")
	} else {
		defer w.close()
		go w.watch(ctx)
	}

	go d.connectLoop(ctx)
	go d.watchdogLoop(ctx)

	<-ctx.Done()
	log.Info("Shutting down...")
	return nil
}

// connectLoop drives the session from disconnected to a live, path-resolved,
// event-monitored connection, retrying indefinitely across disconnects. The
// one terminal condition is the retry ceiling: when not even discovery turns
// up a candidate that many times in a row, the adapter is presumed absent
// and the loop stops for good.
func (d *daemon) connectLoop(ctx context.Context) {
	attempts := 0
	for ctx.Err() == nil {
		if attempts >= maxConnectAttempts {
			d.log.Errorf("failed to connect to Wii Remote after %d attempts, giving up", maxConnectAttempts)
			return
		}

		if !d.remote.TryLock() {
			d.log.Debug("session busy, retrying...")
			sleepCtx(ctx, d.lockRetry)
			continue
		}

		if !d.remote.TryConnect() {
			d.remote.Unlock()
			attempts++
			d.log.Warnf("failed to connect to Wii Remote, retrying... (attempt %d/%d)", attempts, maxConnectAttempts)
			sleepCtx(ctx, d.connectRetry)
			continue
		}
		attempts = 0
		d.log.Info("Wii Remote connected successfully")

		path, ok := d.remote.ResolveDevicePath()
		if !ok {
			// Expected right after connect; loop around without counting
			// this as a failed attempt.
			d.remote.Unlock()
			d.log.Warn("failed to get device path, retrying...")
			continue
		}
		d.log.WithFields(logrus.Fields{
			"path":  path,
			"state": d.remote.State(),
		}).Debug("monitoring input events")

		// Release before the dispatch phase: the watchdog must be able to
		// take the lock and disconnect while events idle. The path is
		// copied out and stays fixed for this connection epoch.
		d.remote.Unlock()

		if err := d.monitor(ctx, path); err != nil {
			if ctx.Err() != nil {
				return
			}
			d.log.WithError(err).Error("event dispatch failed, reconnecting")
		}
	}
}

// monitor consumes the event stream for one connection epoch, using events
// from devicePath purely as an activity signal. It returns only on a fatal
// dispatch error; a silently disconnected remote just stops producing events
// and the watchdog handles it.
func (d *daemon) monitor(ctx context.Context, devicePath string) error {
	for {
		if err := d.events.Dispatch(); err != nil {
			return fmt.Errorf("dispatch input events: %w", err)
		}
		for {
			ev, ok := d.events.NextEvent()
			if !ok {
				break
			}
			path, err := ev.DevicePath()
			if err != nil {
				d.log.WithError(err).Debug("cannot resolve event device, ignoring")
				continue
			}
			// Exact, case-sensitive comparison; both sides come from the
			// kernel and are never normalized.
			if path != devicePath {
				d.log.WithField("path", path).Debug("ignoring event from unrelated device")
				continue
			}
			now := d.now().Unix()
			if now < 0 {
				d.log.Error("system time error: clock went backwards")
				continue
			}
			if !d.clock.Touch(now) {
				d.log.Debug("stale activity timestamp, skipped")
				continue
			}
			d.log.WithField("time", now).Debug("updated activity clock")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// watchdogLoop enforces the idle-disconnect policy once per tick,
// independently of the connect loop's cadence.
func (d *daemon) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(watchdogTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkIdle(d.now())
		}
	}
}

// checkIdle runs one watchdog tick. A contended session lock skips the tick
// entirely; the next tick re-checks a second later. Split out from the loop
// so the idle boundary is testable without timers.
func (d *daemon) checkIdle(now time.Time) {
	if !d.remote.TryLock() {
		d.log.Debug("session busy, skipping idle check")
		return
	}
	defer d.remote.Unlock()

	sec := now.Unix()
	if sec < 0 {
		d.log.Error("system time error: clock went backwards")
		return
	}
	// A clock of 0 (no activity observed yet) counts as idle on purpose: a
	// connected remote that never produced events should not stay connected
	// forever.
	elapsed := sec - d.clock.Last()
	if elapsed < 0 {
		d.log.Debug("activity clock ahead of wall clock, skipping idle check")
		return
	}
	if time.Duration(elapsed)*time.Second >= d.idleTimeout {
		d.log.Infof("Wii Remote idle for %s, disconnecting...", d.idleTimeout)
		d.remote.Disconnect()
	}
}

// sleepCtx sleeps for the given duration or until ctx is done.
func sleepCtx(ctx context.Context, dur time.Duration) {
	if dur <= 0 {
		return
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
