package main

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"
	"unicode/utf8"
)

// BluetoothCtl is the narrow capability surface the daemon needs from the
// Bluetooth control tool. The production adapter shells out to bluetoothctl;
// tests substitute canned output.
type BluetoothCtl interface {
	// Devices returns the paired-devices listing, one device per line.
	Devices() (string, error)
	// Scan starts a time-bounded discovery scan and returns its live line
	// stream. Closing the stream ends the scan.
	Scan(timeout time.Duration) (io.ReadCloser, error)
	// Connect asks the controller to connect the device with the given
	// hardware address. A non-nil error means the attempt failed, never
	// that the daemon should stop.
	Connect(addr string) error
	// Disconnect asks the controller to disconnect the device.
	Disconnect(addr string) error
}

// DeviceLister lists the currently known remotes of the managed family. The
// production adapter shells out to xwiishow.
type DeviceLister interface {
	List() (string, error)
}

type execBluetoothCtl struct {
	path string
}

func newExecBluetoothCtl(path string) *execBluetoothCtl {
	return &execBluetoothCtl{path: path}
}

// runOutput executes the tool and returns its stdout. A non-zero exit is an
// ordinary failed attempt and yields whatever output was produced; only an
// unspawnable or non-text-producing tool is reported as an error.
func runOutput(path string, args ...string) (string, error) {
	out, err := exec.Command(path, args...).Output()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return "", fmt.Errorf("run %s %s: %w", path, args[0], err)
	}
	if !utf8.Valid(out) {
		return "", fmt.Errorf("%s %s: output is not valid text", path, args[0])
	}
	return string(out), nil
}

func (e *execBluetoothCtl) Devices() (string, error) {
	return runOutput(e.path, "devices")
}

func (e *execBluetoothCtl) Scan(timeout time.Duration) (io.ReadCloser, error) {
	secs := strconv.Itoa(int(timeout / time.Second))
	cmd := exec.Command(e.path, "--timeout", secs, "scan", "on")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe %s scan: %w", e.path, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("run %s scan: %w", e.path, err)
	}
	return &scanStream{ReadCloser: stdout, cmd: cmd}, nil
}

func (e *execBluetoothCtl) Connect(addr string) error {
	if err := exec.Command(e.path, "connect", addr).Run(); err != nil {
		return fmt.Errorf("%s connect %s: %w", e.path, addr, err)
	}
	return nil
}

func (e *execBluetoothCtl) Disconnect(addr string) error {
	if err := exec.Command(e.path, "disconnect", addr).Run(); err != nil {
		return fmt.Errorf("%s disconnect %s: %w", e.path, addr, err)
	}
	return nil
}

// scanStream wraps the scan's stdout pipe so that closing it also reaps the
// scan process, even when the reader stops before the scan timeout.
type scanStream struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (s *scanStream) Close() error {
	s.ReadCloser.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	// Exit status is irrelevant; the scan was either done or cut short.
	s.cmd.Wait()
	return nil
}

type execDeviceLister struct {
	path string
}

func newExecDeviceLister(path string) *execDeviceLister {
	return &execDeviceLister{path: path}
}

func (e *execDeviceLister) List() (string, error) {
	return runOutput(e.path, "list")
}
