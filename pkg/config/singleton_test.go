package config

import "testing"

// TestSingleton tests SetConfig, GetConfig and ReloadConfig.
func TestSingleton(t *testing.T) {
	original := GetConfig()
	t.Cleanup(func() { SetConfig(original) })

	cfg := Default()
	cfg.Retention.WindowSize = 7
	SetConfig(cfg)

	if got := MustGetConfig(); got.Retention.WindowSize != 7 {
		t.Errorf("MustGetConfig().Retention.WindowSize = %d, want 7", got.Retention.WindowSize)
	}

	// A failed reload keeps the current configuration.
	bad := writeConfig(t, "retention:\n  window_size: -1\n")
	if _, err := ReloadConfig(bad); err == nil {
		t.Fatal("ReloadConfig() error = nil, want error")
	}
	if got := GetConfig(); got.Retention.WindowSize != 7 {
		t.Errorf("WindowSize after failed reload = %d, want 7", got.Retention.WindowSize)
	}

	good := writeConfig(t, "storage:\n  backend: memory\nretention:\n  window_size: 3\n")
	reloaded, err := ReloadConfig(good)
	if err != nil {
		t.Fatalf("ReloadConfig() error = %v", err)
	}
	if reloaded.Retention.WindowSize != 3 || GetConfig().Retention.WindowSize != 3 {
		t.Errorf("WindowSize after reload = %d/%d, want 3", reloaded.Retention.WindowSize, GetConfig().Retention.WindowSize)
	}
}

// TestMustGetConfig_Panics tests the uninitialized case.
func TestMustGetConfig_Panics(t *testing.T) {
	original := GetConfig()
	t.Cleanup(func() { SetConfig(original) })
	SetConfig(nil)

	defer func() {
		if recover() == nil {
			t.Error("MustGetConfig() did not panic")
		}
	}()
	MustGetConfig()
}
