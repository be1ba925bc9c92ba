package config

import "testing"

func TestNewBuildInfoDefaults(t *testing.T) {
	info := NewBuildInfo()
	want := BuildInfo{Version: "dev", Commit: "none", BuildTime: "unknown"}
	if info != want {
		t.Errorf("NewBuildInfo() = %+v, want %+v", info, want)
	}
}
