package version

import (
	"runtime/debug"
	"testing"
)

func TestResolve_LdflagsWin(t *testing.T) {
	read := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}}}, true
	}
	b := resolve("v1.4.0", "deadbeef", "2026-01-02", read)
	if b != (Build{Version: "v1.4.0", Commit: "deadbeef", Date: "2026-01-02"}) {
		t.Fatalf("unexpected build %+v", b)
	}
}

func TestResolve_FallsBackToVCS(t *testing.T) {
	read := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2026-03-04T05:06:07Z"},
			{Key: "vcs.modified", Value: "true"},
		}}, true
	}
	b := resolve("dev", "", "", read)
	if b.Commit != "abc123" || b.Date != "2026-03-04T05:06:07Z" {
		t.Fatalf("vcs stamps not used: %+v", b)
	}
}

func TestResolve_Unknown(t *testing.T) {
	b := resolve("dev", "", "", func() (*debug.BuildInfo, bool) { return nil, false })
	if b.Commit != "unknown" || b.Date != "unknown" {
		t.Fatalf("expected unknown placeholders, got %+v", b)
	}
}

func TestFields(t *testing.T) {
	fields := Fields()
	if fields["version"] != Version() || fields["commit"] == "" || fields["build_date"] == "" {
		t.Fatalf("unexpected fields %v", fields)
	}
}
