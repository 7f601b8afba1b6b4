package version

import (
	"runtime"
	"testing"
)

func TestSetFillsDefaults(t *testing.T) {
	Set(Info{Commit: "abc123", BuildTime: "now"})
	got := Current()

	if got.Version != "dev" {
		t.Fatalf("expected dev version, got %q", got.Version)
	}
	if got.GoVersion != runtime.Version() {
		t.Fatalf("unexpected go version %q", got.GoVersion)
	}
	if got.Commit != "abc123" || got.BuildTime != "now" {
		t.Fatalf("explicit fields must be preserved: %+v", got)
	}

	Set(Info{Version: "v1.2.3", Commit: "def456", BuildTime: "later", GoVersion: "go0"})
	if got := Current(); got.Version != "v1.2.3" || got.GoVersion != "go0" {
		t.Fatalf("unexpected info %+v", got)
	}
}
