package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/holoplot/go-evdev"
	"github.com/sirupsen/logrus"
)

// EventSource is the shared input-event bus. Dispatch blocks until at least
// one event is pending and returns an error only on transport failure;
// NextEvent drains the pending events without blocking.
type EventSource interface {
	Start(ctx context.Context) error
	Dispatch() error
	NextEvent() (Event, bool)
}

// Event is one raw input event. The payload is irrelevant here; only the
// originating device matters, and resolving it is an external lookup that
// can fail per event.
type Event interface {
	DevicePath() (string, error)
}

var errSourceClosed = errors.New("input event source closed")

const (
	devInputDir    = "/dev/input"
	sysInputClass  = "/sys/class/input"
	rescanInterval = 2 * time.Second
)

// evdevSource multiplexes all evdev nodes on the system into one event
// stream. The node set is re-enumerated periodically because the remote's
// input node only appears after it connects.
type evdevSource struct {
	log     *logrus.Logger
	events  chan Event
	pending []Event
}

func newEvdevSource(log *logrus.Logger) *evdevSource {
	return &evdevSource{
		log:    log,
		events: make(chan Event, 64),
	}
}

func (s *evdevSource) Start(ctx context.Context) error {
	if _, err := os.Stat(devInputDir); err != nil {
		return fmt.Errorf("input event bus unavailable: %w", err)
	}
	go s.scanLoop(ctx)
	return nil
}

func (s *evdevSource) scanLoop(ctx context.Context) {
	opened := make(map[string]bool)
	rescan := func() {
		paths, err := evdev.ListDevicePaths()
		if err != nil {
			s.log.WithError(err).Debug("cannot enumerate input devices")
			return
		}
		for _, p := range paths {
			if opened[p.Path] {
				continue
			}
			opened[p.Path] = true
			go s.readDevice(ctx, p.Path)
		}
	}

	rescan()
	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rescan()
		}
	}
}

// readDevice pumps events from one input node until the node goes away.
func (s *evdevSource) readDevice(ctx context.Context, node string) {
	dev, err := evdev.Open(node)
	if err != nil {
		s.log.WithError(err).WithField("node", node).Debug("cannot open input node")
		return
	}
	defer dev.Close()

	for {
		if _, err := dev.ReadOne(); err != nil {
			// Device unplugged or revoked; a reconnect re-adds it.
			s.log.WithField("node", node).Debug("input node gone")
			return
		}
		select {
		case s.events <- &evdevEvent{node: node}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *evdevSource) Dispatch() error {
	ev, ok := <-s.events
	if !ok {
		return errSourceClosed
	}
	s.pending = append(s.pending, ev)
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return nil
			}
			s.pending = append(s.pending, ev)
		default:
			return nil
		}
	}
}

func (s *evdevSource) NextEvent() (Event, bool) {
	if len(s.pending) == 0 {
		return nil, false
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, true
}

type evdevEvent struct {
	node string
}

// DevicePath resolves the sysfs path of the device backing this event's
// input node. Deliberately re-derived per event rather than cached: the
// mapping is an external lookup and correctness beats the marginal cost.
func (e *evdevEvent) DevicePath() (string, error) {
	base := filepath.Base(e.node)
	resolved, err := filepath.EvalSymlinks(filepath.Join(sysInputClass, base, "device"))
	if err != nil {
		return "", fmt.Errorf("resolve device path for %s: %w", e.node, err)
	}
	// resolved points at .../<backing device>/input/inputN; strip the input
	// layer so the path compares against what xwiishow reports.
	return filepath.Dir(filepath.Dir(resolved)), nil
}
