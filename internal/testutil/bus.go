package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
)

// busConfigTemplate is the dbus-daemon config for integration tests. It is
// deliberately permissive: every connection may own names and exchange
// messages, so a test mock can claim org.freedesktop.systemd1 without
// mirroring the real system bus policy.
//
// Arg: sockPath
const busConfigTemplate = `<?xml version="1.0"?>
<!DOCTYPE busconfig PUBLIC "-//freedesktop//DTD D-BUS Bus Configuration 1.0//EN"
 "http://www.freedesktop.org/standards/dbus/1.0/busconfig.dtd">
<busconfig>
  <type>session</type>
  <listen>unix:path=%s</listen>
  <policy context="default">
    <allow user="*"/>
    <allow own="*"/>
    <allow send_destination="*" eavesdrop="true"/>
    <allow eavesdrop="true"/>
  </policy>
</busconfig>`

// StartBus starts a private dbus-daemon for the duration of the test and
// returns its address. Uses filesystem sockets (NOT abstract) to avoid
// cross-test collisions. Skips the test when no dbus-daemon binary is
// available.
func StartBus(t *testing.T) string {
	t.Helper()

	if _, err := exec.LookPath("dbus-daemon"); err != nil {
		t.Skip("dbus-daemon not available")
	}

	tmpDir := t.TempDir()
	sockPath := filepath.Join(tmpDir, "test.sock")
	confPath := filepath.Join(tmpDir, "bus.conf")

	conf := fmt.Sprintf(busConfigTemplate, sockPath)
	if err := os.WriteFile(confPath, []byte(conf), 0600); err != nil {
		t.Fatalf("write bus config: %v", err)
	}

	cmd := exec.Command("dbus-daemon", "--config-file="+confPath, "--nofork")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("start dbus-daemon: %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill() //nolint:errcheck
		cmd.Wait()         //nolint:errcheck
	})

	// Wait for socket file to appear (50 * 100ms = 5s max).
	for i := 0; i < 50; i++ {
		if _, err := os.Stat(sockPath); err == nil {
			return "unix:path=" + sockPath
		}
		time.Sleep(100 * time.Millisecond)
	}

	t.Fatal("dbus-daemon socket not created in time")
	return ""
}

// StartMockSystemd connects a MockSystemd to the given bus address and
// registers it. The connection is closed when the test ends.
func StartMockSystemd(t *testing.T, addr string) *MockSystemd {
	t.Helper()

	conn, err := dbus.Connect(addr)
	if err != nil {
		t.Fatalf("connect mock systemd: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	mock := NewMockSystemd()
	if err := mock.Register(conn); err != nil {
		t.Fatalf("register mock systemd: %v", err)
	}
	return mock
}
