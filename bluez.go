package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

const (
	busName     = "org.bluez"
	adapterPath = "/org/bluez/hci0"
	deviceIface = "org.bluez.Device1"
	propsIface  = "org.freedesktop.DBus.Properties"
	propsSignal = "org.freedesktop.DBus.Properties.PropertiesChanged"
)

// macFromPath extracts a MAC address from a BlueZ device object path like
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func macFromPath(path dbus.ObjectPath) string {
	s := string(path)
	prefix := adapterPath + "/dev_"
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	return strings.ReplaceAll(s[len(prefix):], "_", ":")
}

// bluezWatcher observes BlueZ property changes on the system bus to catch
// the remote disconnecting out-of-band (battery died, user pressed the power
// button). The watcher only invalidates the session's resolved device path
// early; the connect loop's status queries remain the source of truth.
type bluezWatcher struct {
	conn    *dbus.Conn
	remote  *Remote
	log     *logrus.Logger
	signals chan *dbus.Signal
}

func newBluezWatcher(remote *Remote, log *logrus.Logger) (*bluezWatcher, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	call := conn.BusObject().Call(
		"org.freedesktop.DBus.AddMatch", 0,
		"type='signal',interface='"+propsIface+"',member='PropertiesChanged',path_namespace='/org/bluez'",
	)
	if call.Err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to BlueZ signals: %w", call.Err)
	}
	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)
	return &bluezWatcher{conn: conn, remote: remote, log: log, signals: ch}, nil
}

func (w *bluezWatcher) close() {
	w.conn.Close()
}

func (w *bluezWatcher) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-w.signals:
			if !ok {
				return
			}
			w.handle(sig)
		}
	}
}

func (w *bluezWatcher) handle(sig *dbus.Signal) {
	if sig.Name != propsSignal || len(sig.Body) < 2 {
		return
	}
	// Body: [interface_name string, changed_props map[string]Variant, invalidated []string]
	iface, ok := sig.Body[0].(string)
	if !ok || iface != deviceIface {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	connVar, ok := changed["Connected"]
	if !ok {
		return
	}
	connected, ok := connVar.Value().(bool)
	if !ok || connected {
		return
	}

	mac := macFromPath(sig.Path)
	if mac == "" {
		return
	}
	if !w.remote.TryLock() {
		// A loop is mid-transition; lazy detection covers this.
		w.log.Debug("session busy, skipping out-of-band disconnect check")
		return
	}
	defer w.remote.Unlock()
	if mac != w.remote.Address() {
		return
	}
	w.log.Infof("Wii Remote %s disconnected out-of-band", mac)
	w.remote.InvalidatePath()
}
