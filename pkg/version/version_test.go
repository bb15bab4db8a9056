package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/dl-alexandre/gsyncfs/internal/utils"
)

func TestGet(t *testing.T) {
	info := Get()
	if info.GoVersion != runtime.Version() || info.OutputSchema != utils.SchemaVersion {
		t.Errorf("Get() = %+v", info)
	}
	if !strings.HasPrefix(info.String(), "gsyncfs "+info.Version) {
		t.Errorf("String() = %q", info.String())
	}
}

func TestInfo_Fill(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2024-06-01T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	tests := []struct {
		name string
		in   Info
		want Info
	}{
		{
			name: "defaults are completed",
			in:   Info{Version: "dev", GitCommit: "unknown", BuildTime: "unknown"},
			want: Info{Version: "v1.2.3", GitCommit: "0123456789ab", BuildTime: "2024-06-01T12:00:00Z", ModifiedBuild: true},
		},
		{
			name: "linker flags win",
			in:   Info{Version: "v9.0.0", GitCommit: "cafe", BuildTime: "yesterday"},
			want: Info{Version: "v9.0.0", GitCommit: "cafe", BuildTime: "yesterday", ModifiedBuild: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			got.fill(bi)
			if got != tt.want {
				t.Errorf("fill() = %+v, want %+v", got, tt.want)
			}
			if tt.want.ModifiedBuild && !strings.Contains(got.String(), "+dirty") {
				t.Errorf("String() = %q, want dirty marker", got.String())
			}
		})
	}
}
