package main

import (
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBluetoothCtl is a canned-output BluetoothCtl with call counting.
// devicesQueue is consumed one entry per Devices call; once empty,
// devicesOut is returned.
type fakeBluetoothCtl struct {
	mu sync.Mutex

	devicesQueue  []string
	devicesOut    string
	devicesErr    error
	devicesCalls  int
	scanOut       string
	scanErr       error
	scanCalls     int
	connects      []string
	connectErr    error
	disconnects   []string
	disconnectErr error
}

func (f *fakeBluetoothCtl) Devices() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devicesCalls++
	if f.devicesErr != nil {
		return "", f.devicesErr
	}
	if len(f.devicesQueue) > 0 {
		out := f.devicesQueue[0]
		f.devicesQueue = f.devicesQueue[1:]
		return out, nil
	}
	return f.devicesOut, nil
}

func (f *fakeBluetoothCtl) Scan(time.Duration) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanCalls++
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return io.NopCloser(strings.NewReader(f.scanOut)), nil
}

func (f *fakeBluetoothCtl) Connect(addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, addr)
	return f.connectErr
}

func (f *fakeBluetoothCtl) Disconnect(addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, addr)
	return f.disconnectErr
}

func (f *fakeBluetoothCtl) counts() (devices, scans, connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devicesCalls, f.scanCalls, len(f.connects), len(f.disconnects)
}

type fakeLister struct {
	mu    sync.Mutex
	out   string
	err   error
	calls int
}

func (f *fakeLister) List() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.out, f.err
}

func newTestRemote(ctl BluetoothCtl, lister DeviceLister) (*Remote, *test.Hook) {
	logger, hook := test.NewNullLogger()
	cfg := defaultConfig()
	return NewRemote(ctl, lister, logger, cfg), hook
}

func TestIsConnectedRecordsIdentity(t *testing.T) {
	ctl := &fakeBluetoothCtl{
		devicesOut: "Device 00:1F:C5:12:34:56 Nintendo RVL-CNT-01\nDevice AA:AA:AA:AA:AA:AA Some Headphones\n",
	}
	r, _ := newTestRemote(ctl, &fakeLister{})

	assert.True(t, r.IsConnected())
	assert.Equal(t, "00:1F:C5:12:34:56", r.Address())
}

func TestIsConnectedIgnoresForeignDevices(t *testing.T) {
	ctl := &fakeBluetoothCtl{
		devicesOut: "Device AA:AA:AA:AA:AA:AA Some Headphones\n",
	}
	r, _ := newTestRemote(ctl, &fakeLister{})

	assert.False(t, r.IsConnected())
	assert.Empty(t, r.Address())
}

func TestTryConnectIdempotentWhenAlreadyConnected(t *testing.T) {
	ctl := &fakeBluetoothCtl{
		devicesOut: "Device 00:1F:C5:12:34:56 Nintendo RVL-CNT-01\n",
	}
	r, _ := newTestRemote(ctl, &fakeLister{})

	assert.True(t, r.TryConnect())

	// Already connected: no scan, no connect invocation.
	_, scans, connects, _ := ctl.counts()
	assert.Zero(t, scans)
	assert.Zero(t, connects)
}

func TestTryConnectEmptyDiscovery(t *testing.T) {
	ctl := &fakeBluetoothCtl{
		scanOut: "Discovery started\n[NEW] Device AA:AA:AA:AA:AA:AA Some Headphones\n",
	}
	r, _ := newTestRemote(ctl, &fakeLister{})

	assert.False(t, r.TryConnect())
	_, _, connects, _ := ctl.counts()
	assert.Zero(t, connects)
}

func TestTryConnectRecordsDiscoveredIdentity(t *testing.T) {
	tests := []struct {
		name    string
		scanOut string
		want    string
	}{
		{
			name:    "plain discovery line",
			scanOut: "Device XX:XX:XX:XX:XX:XX RVL-036\n",
			want:    "XX:XX:XX:XX:XX:XX",
		},
		{
			name:    "prefixed discovery line",
			scanOut: "[NEW] Device 00:1F:C5:AB:CD:EF Nintendo RVL-CNT-01\n",
			want:    "00:1F:C5:AB:CD:EF",
		},
		{
			name:    "first match wins",
			scanOut: "[NEW] Device 11:11:11:11:11:11 RVL-036\n[NEW] Device 22:22:22:22:22:22 RVL-036\n",
			want:    "11:11:11:11:11:11",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &fakeBluetoothCtl{scanOut: tt.scanOut}
			r, _ := newTestRemote(ctl, &fakeLister{})

			assert.True(t, r.TryConnect())
			assert.Equal(t, tt.want, r.Address())
			assert.Equal(t, []string{tt.want}, ctl.connects)
		})
	}
}

func TestTryConnectIgnoresConnectCommandFailure(t *testing.T) {
	ctl := &fakeBluetoothCtl{
		scanOut:    "[NEW] Device 00:1F:C5:AB:CD:EF RVL-036\n",
		connectErr: assert.AnError,
	}
	r, _ := newTestRemote(ctl, &fakeLister{})

	// A candidate was found, so this is still a success at this layer; the
	// failed connect surfaces on the caller's next retry.
	assert.True(t, r.TryConnect())
	assert.Equal(t, []string{"00:1F:C5:AB:CD:EF"}, ctl.connects)
}

func TestResolveDevicePath(t *testing.T) {
	lister := &fakeLister{
		out: "Listing connected Wii Remote devices:\n" +
			"  Found device #1: /sys/devices/virtual/misc/uhid/0005:057E:0306.0006\n" +
			"End of device list\n",
	}
	r, _ := newTestRemote(&fakeBluetoothCtl{}, lister)

	path, ok := r.ResolveDevicePath()
	require.True(t, ok)
	assert.Equal(t, "/sys/devices/virtual/misc/uhid/0005:057E:0306.0006", path)
	assert.Equal(t, path, r.DevicePath())
	assert.Equal(t, StateConnectedWithPath, r.State())
}

func TestResolveDevicePathEmptyListing(t *testing.T) {
	lister := &fakeLister{out: "Listing connected Wii Remote devices:\nEnd of device list\n"}
	r, _ := newTestRemote(&fakeBluetoothCtl{}, lister)

	_, ok := r.ResolveDevicePath()
	assert.False(t, ok)
	assert.Empty(t, r.DevicePath())
}

func TestDisconnectBestEffort(t *testing.T) {
	ctl := &fakeBluetoothCtl{disconnectErr: assert.AnError}
	r, hook := newTestRemote(ctl, &fakeLister{})
	r.address = "00:1F:C5:12:34:56"
	r.devicePath = "/sys/devices/virtual/misc/uhid/0005:057E:0306.0006"

	// Failure is logged, never propagated; the path is invalidated.
	r.Disconnect()
	assert.Equal(t, []string{"00:1F:C5:12:34:56"}, ctl.disconnects)
	assert.Empty(t, r.DevicePath())
	require.NotEmpty(t, hook.Entries)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestDisconnectWithoutIdentityIsNoop(t *testing.T) {
	ctl := &fakeBluetoothCtl{}
	r, _ := newTestRemote(ctl, &fakeLister{})

	r.Disconnect()
	_, _, _, disconnects := ctl.counts()
	assert.Zero(t, disconnects)
}

func TestExecFailPolicy(t *testing.T) {
	t.Run("production logs fatal and exits non-zero", func(t *testing.T) {
		ctl := &fakeBluetoothCtl{devicesErr: assert.AnError}
		r, hook := newTestRemote(ctl, &fakeLister{})

		exitCode := -1
		r.log.ExitFunc = func(code int) { exitCode = code }

		assert.False(t, r.IsConnected())
		assert.Equal(t, 1, exitCode)
		assert.Equal(t, logrus.FatalLevel, hook.LastEntry().Level)
	})

	t.Run("debug fails fast", func(t *testing.T) {
		ctl := &fakeBluetoothCtl{devicesErr: assert.AnError}
		r, _ := newTestRemote(ctl, &fakeLister{})
		r.debug = true

		assert.Panics(t, func() { r.IsConnected() })
	})
}

func TestIdentityFromLine(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"Device XX:XX:XX:XX:XX:XX RVL-036", "XX:XX:XX:XX:XX:XX"},
		{"[NEW] Device 00:11:22:33:44:55 Nintendo RVL-CNT-01", "00:11:22:33:44:55"},
		{"[CHG] Device 00:11:22:33:44:55 RSSI: -54", "00:11:22:33:44:55"},
		{"Device", ""},
		{"no token here", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, identityFromLine(tt.line), "line %q", tt.line)
	}
}
