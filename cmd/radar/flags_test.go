package main

import (
	"os"
	"path/filepath"
	"testing"
)

// withFlags sets the command line flag values for one test.
func withFlags(t *testing.T, set func()) {
	t.Helper()
	saved := []string{*envFile, *listen, *dbPath, *port, *rideConfig}
	savedDisable := *disableSerial
	t.Cleanup(func() {
		*envFile, *listen, *dbPath, *port, *rideConfig = saved[0], saved[1], saved[2], saved[3], saved[4]
		*disableSerial = savedDisable
	})
	*envFile = filepath.Join(t.TempDir(), "missing.env")
	set()
}

func TestFlagDefaults(t *testing.T) {
	if *envFile != ".env" {
		t.Errorf("env default = %q, want .env", *envFile)
	}
	if *startPlan != 0 {
		t.Errorf("plan default = %d, want 0", *startPlan)
	}
	if *disableSerial {
		t.Errorf("disable-serial should default to false")
	}
}

func TestLoadSettingsOverrides(t *testing.T) {
	t.Setenv("RADAR_HTTP_ADDR", ":9000")
	t.Setenv("RADAR_SERIAL_ENABLE", "false")

	rideCfg := filepath.Join(t.TempDir(), "ride.json")
	if err := os.WriteFile(rideCfg, []byte(`{"off_track_alarm_distance": 80}`), 0o644); err != nil {
		t.Fatal(err)
	}

	withFlags(t, func() {
		*listen = ":7000"
		*dbPath = "/tmp/x.db"
		*port = "/dev/ttyUSB3"
		*rideConfig = rideCfg
	})

	svc, rc, err := loadSettings()
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if svc.HTTPAddr != ":7000" {
		t.Errorf("HTTPAddr = %q, want :7000", svc.HTTPAddr)
	}
	if svc.DBPath != "/tmp/x.db" {
		t.Errorf("DBPath = %q", svc.DBPath)
	}
	if !svc.SerialEnable || svc.SerialPort != "/dev/ttyUSB3" {
		t.Errorf("a -port flag should enable the serial link, got enable=%v port=%q", svc.SerialEnable, svc.SerialPort)
	}
	if got := rc.GetOffTrackAlarmDistance(); got != 80 {
		t.Errorf("OffTrackAlarmDistance = %v, want 80", got)
	}
}

func TestLoadSettingsDisableSerialWins(t *testing.T) {
	t.Setenv("RADAR_SERIAL_ENABLE", "true")
	withFlags(t, func() {
		*port = "/dev/ttyUSB0"
		*disableSerial = true
	})
	svc, rc, err := loadSettings()
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if svc.SerialEnable {
		t.Errorf("-disable-serial should win over the port and the environment")
	}
	if rc == nil {
		t.Fatalf("expected default ride config")
	}
}

func TestLoadSettingsBadRideConfig(t *testing.T) {
	withFlags(t, func() {
		*rideConfig = filepath.Join(t.TempDir(), "nope.json")
	})
	if _, _, err := loadSettings(); err == nil {
		t.Fatalf("expected an error for a missing ride config")
	}
}
