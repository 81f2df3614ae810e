package main

import (
	"bufio"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// deviceMarker identifies Wii Remote family devices in bluetoothctl
	// output (device names like "Nintendo RVL-CNT-01" or "RVL-036").
	deviceMarker = "RVL"
	// listMarker identifies the first device entry in xwiishow output.
	listMarker = "Found device #1"
)

// Remote is the authoritative record of the managed Wii Remote: its hardware
// address and, while connected, the sysfs path of its input device. The
// record is shared by the connection loop and the idle watchdog; every read
// or mutation requires holding the session lock, which is only ever acquired
// non-blocking (TryLock) so that neither loop can starve the other.
type Remote struct {
	mu sync.Mutex

	ctl    BluetoothCtl
	lister DeviceLister
	log    *logrus.Logger

	scanTimeout time.Duration
	debug       bool

	address    string
	devicePath string
}

func NewRemote(ctl BluetoothCtl, lister DeviceLister, log *logrus.Logger, cfg *Config) *Remote {
	return &Remote{
		ctl:         ctl,
		lister:      lister,
		log:         log,
		scanTimeout: cfg.ScanTimeout(),
		debug:       cfg.Debug,
	}
}

// TryLock attempts to acquire the session lock without blocking.
func (r *Remote) TryLock() bool {
	return r.mu.TryLock()
}

func (r *Remote) Unlock() {
	r.mu.Unlock()
}

// Address returns the recorded hardware address. Caller must hold the lock.
func (r *Remote) Address() string {
	return r.address
}

// DevicePath returns the device path resolved for the current connection
// epoch, or "". Caller must hold the lock.
func (r *Remote) DevicePath() string {
	return r.devicePath
}

// InvalidatePath discards the resolved device path. Called when the remote
// is known to have disconnected; a path is only valid within the connection
// epoch that resolved it. Caller must hold the lock.
func (r *Remote) InvalidatePath() {
	r.devicePath = ""
}

// State derives the session state from the record. Caller must hold the
// lock. Note this does not query the controller; the true device state can
// still diverge out-of-band and is re-checked lazily on the next connect.
func (r *Remote) State() SessionState {
	switch {
	case r.address == "":
		return StateUnknown
	case r.devicePath != "":
		return StateConnectedWithPath
	default:
		return StateConnectedNoPath
	}
}

// IsConnected reports whether a Wii Remote is already paired with the
// controller, recording its address on the first match. It performs no
// discovery and no connect attempt. Caller must hold the lock.
func (r *Remote) IsConnected() bool {
	out, err := r.ctl.Devices()
	if err != nil {
		r.execFail(err)
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, deviceMarker) {
			continue
		}
		addr := identityFromLine(line)
		if addr == "" {
			continue
		}
		r.address = addr
		return true
	}
	return false
}

// TryConnect brings the remote to a connected state. Already-connected is an
// idempotent no-op. Otherwise a bounded discovery scan runs; the first
// discovered Wii Remote has its address recorded and a connect issued for
// it. The return value reports whether a candidate was found, not whether
// the connect command succeeded - a failed connect surfaces on the caller's
// next retry, a scan with no candidate is the hard "not found". Caller must
// hold the lock.
func (r *Remote) TryConnect() bool {
	if r.IsConnected() {
		return true
	}

	stream, err := r.ctl.Scan(r.scanTimeout)
	if err != nil {
		r.execFail(err)
		return false
	}
	defer stream.Close()

	r.address = ""
	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, deviceMarker) {
			continue
		}
		addr := identityFromLine(line)
		if addr == "" {
			continue
		}
		r.address = addr
		break
	}
	if err := scanner.Err(); err != nil {
		r.log.WithError(err).Warn("discovery stream ended early")
	}

	if r.address == "" {
		return false
	}

	if err := r.ctl.Connect(r.address); err != nil {
		// Not a failure at this layer: the next loop iteration will find
		// the device paired or scan again.
		r.log.WithError(err).Debug("connect attempt failed, will retry")
	}
	return true
}

// Disconnect issues a best-effort disconnect for the recorded address and
// invalidates the resolved device path. The result is logged, not
// propagated. Caller must hold the lock.
func (r *Remote) Disconnect() {
	if r.address == "" {
		return
	}
	if err := r.ctl.Disconnect(r.address); err != nil {
		r.log.WithError(err).Warn("disconnect failed")
	} else {
		r.log.WithField("state", StateDisconnected).Debugf("disconnected %s", r.address)
	}
	r.devicePath = ""
}

// ResolveDevicePath queries the device lister for the sysfs path of the
// connected remote's input device and records it for this connection epoch.
// Immediately after a connect the listing is often still empty; that is a
// transient condition, not an error. Caller must hold the lock.
func (r *Remote) ResolveDevicePath() (string, bool) {
	out, err := r.lister.List()
	if err != nil {
		r.execFail(err)
		return "", false
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, listMarker) {
			continue
		}
		_, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		path := strings.TrimSpace(rest)
		if path == "" {
			continue
		}
		r.devicePath = path
		return path, true
	}
	return "", false
}

// execFail reports a failure to invoke an external tool at all. In debug
// mode this is loud and immediate; in production it is logged and the
// process exits non-zero.
func (r *Remote) execFail(err error) {
	if r.debug {
		r.log.Panicf("external tool failure: %v", err)
	}
	r.log.Fatalf("external tool failure: %v", err)
}

// identityFromLine extracts the hardware address from a bluetoothctl device
// line: the field immediately following the "Device" token. This anchors on
// the token because scan lines carry a [NEW]/[CHG] prefix while the paired
// listing does not.
func identityFromLine(line string) string {
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "Device" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}
