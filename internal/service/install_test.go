package service

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// stubSystemctl replaces systemctlFunc for the test and records invocations.
func stubSystemctl(t *testing.T) *[][]string {
	t.Helper()
	var calls [][]string
	orig := systemctlFunc
	systemctlFunc = func(args ...string) error {
		calls = append(calls, args)
		return nil
	}
	t.Cleanup(func() { systemctlFunc = orig })
	return &calls
}

func TestInstallWritesUnitFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	calls := stubSystemctl(t)

	if err := Install(Options{}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	unitPath, err := UnitPath()
	if err != nil {
		t.Fatalf("UnitPath: %v", err)
	}
	data, err := os.ReadFile(unitPath)
	if err != nil {
		t.Fatalf("read unit file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "Type=notify") {
		t.Error("unit file missing Type=notify")
	}
	if !strings.Contains(content, " run\n") {
		t.Errorf("ExecStart missing run subcommand:\n%s", content)
	}

	want := [][]string{{"daemon-reload"}, {"enable", unitFileName}}
	if len(*calls) != len(want) {
		t.Fatalf("systemctl calls = %v, want %v", *calls, want)
	}
	for i, call := range want {
		if strings.Join((*calls)[i], " ") != strings.Join(call, " ") {
			t.Errorf("call %d = %v, want %v", i, (*calls)[i], call)
		}
	}
}

func TestInstallWithStartAndConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	calls := stubSystemctl(t)

	if err := Install(Options{ConfigPath: "/etc/unitbar.yaml", Start: true}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	unitPath, _ := UnitPath()
	data, _ := os.ReadFile(unitPath)
	if !strings.Contains(string(data), "--config /etc/unitbar.yaml") {
		t.Error("unit file missing --config flag")
	}

	last := (*calls)[len(*calls)-1]
	if last[0] != "start" {
		t.Errorf("last systemctl call = %v, want start", last)
	}
}

func TestUninstallRemovesUnitFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	stubSystemctl(t)

	if err := Install(Options{}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	unitPath, _ := UnitPath()

	if err := Uninstall(); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if _, err := os.Stat(unitPath); !os.IsNotExist(err) {
		t.Errorf("unit file still exists after Uninstall")
	}
}

func TestUnitPathUsesXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	got, err := UnitPath()
	if err != nil {
		t.Fatalf("UnitPath: %v", err)
	}
	want := filepath.Join("/tmp/xdg", "systemd", "user", unitFileName)
	if got != want {
		t.Errorf("UnitPath() = %q, want %q", got, want)
	}
}
