package robot

import (
	"path/filepath"
	"testing"
)

func TestConfig_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lekiwi.json")

	cfg := DefaultConfig()
	cfg.Port = "/dev/ttyACM0"
	cfg.Lift.SoftMaxMM = 450
	cfg.Base.MaxRaw = 2500

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}

	if loaded.Port != cfg.Port {
		t.Errorf("Port = %q, want %q", loaded.Port, cfg.Port)
	}
	if loaded.Lift.SoftMaxMM != 450 {
		t.Errorf("Lift.SoftMaxMM = %v, want 450", loaded.Lift.SoftMaxMM)
	}
	if loaded.Base.MaxRaw != 2500 {
		t.Errorf("Base.MaxRaw = %v, want 2500", loaded.Base.MaxRaw)
	}
	if loaded.Lift.Name != "lift_axis" {
		t.Errorf("Lift.Name = %q, want lift_axis", loaded.Lift.Name)
	}
}

func TestConfig_IsConfigured(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.IsConfigured() {
		t.Error("empty port should not count as configured")
	}
	cfg.Port = "/dev/ttyACM0"
	if !cfg.IsConfigured() {
		t.Error("port set should count as configured")
	}
}

func TestLoadConfigFrom_Missing(t *testing.T) {
	if _, err := LoadConfigFrom(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing config file should fail to load")
	}
}

func TestDefaultConfig_LeKiwiDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Base.LeftID != 8 || cfg.Base.BackID != 9 || cfg.Base.RightID != 10 {
		t.Errorf("wheel IDs = %d/%d/%d, want 8/9/10", cfg.Base.LeftID, cfg.Base.BackID, cfg.Base.RightID)
	}
	if cfg.Lift.MotorID != 11 {
		t.Errorf("lift motor ID = %d, want 11", cfg.Lift.MotorID)
	}
	if cfg.Lift.LeadMMPerRev != 84 {
		t.Errorf("lead = %v, want 84 mm/rev", cfg.Lift.LeadMMPerRev)
	}
}
