package version

import (
	"testing"
	"time"
)

func TestCurrent_Defaults(t *testing.T) {
	oldVersion := AppVersion
	oldCommit := GitCommit
	oldBuildTime := BuildTime
	t.Cleanup(func() {
		AppVersion = oldVersion
		GitCommit = oldCommit
		BuildTime = oldBuildTime
	})

	AppVersion = ""
	GitCommit = ""
	BuildTime = ""

	info := Current("")

	if info.Service != Unknown {
		t.Fatalf("expected service %q, got %q", Unknown, info.Service)
	}
	if info.Version != DevelopmentVersion {
		t.Fatalf("expected version %q, got %q", DevelopmentVersion, info.Version)
	}
	if info.Commit != Unknown {
		t.Fatalf("expected commit %q, got %q", Unknown, info.Commit)
	}
	if info.BuildTime != Unknown {
		t.Fatalf("expected build_time %q, got %q", Unknown, info.BuildTime)
	}
}

func TestInfo_IsRelease(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{version: "v1.4.0", want: true},
		{version: DevelopmentVersion, want: false},
		{version: "", want: false},
	}
	for _, tt := range tests {
		if got := (Info{Version: tt.version}).IsRelease(); got != tt.want {
			t.Fatalf("IsRelease(%q) = %v, want %v", tt.version, got, tt.want)
		}
	}
}

func TestInfo_FieldsAndString(t *testing.T) {
	info := Info{Service: "migratestate", Version: "v1.4.0", Commit: "abc123", BuildTime: Unknown}

	fields := info.Fields()
	if len(fields) != 6 || fields[1] != "v1.4.0" || fields[3] != "abc123" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if got, want := info.String(), "migratestate@v1.4.0 (commit=abc123, build_time=unknown)"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestInfo_ParseBuildTime(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	info := Info{
		BuildTime: now.Format(time.RFC3339),
	}

	parsed, ok := info.ParseBuildTime()
	if !ok {
		t.Fatalf("expected build time to be parsed")
	}
	if !parsed.Equal(now) {
		t.Fatalf("expected %s, got %s", now, parsed)
	}
}

func TestInfo_ParseBuildTime_Unknown(t *testing.T) {
	for _, raw := range []string{"", Unknown, "yesterday"} {
		if _, ok := (Info{BuildTime: raw}).ParseBuildTime(); ok {
			t.Fatalf("expected %q not to parse", raw)
		}
	}
}
