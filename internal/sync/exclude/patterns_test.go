package exclude

import "testing"

func TestMatcher_IsExcluded(t *testing.T) {
	m := New([]string{"build/", "secret.txt", "*.bak"})

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"notes.txt", false, false},
		{".DS_Store", false, true},
		{"docs/.DS_Store", false, true},
		{"docs/._notes.txt", false, true},
		{"draft.tmp", false, true},
		{"notes.txt~", false, true},
		{".#notes.txt", false, true},
		{"build", true, true},
		{"build/out.bin", false, true},
		{"src/build/out.bin", false, true},
		{"building.txt", false, false},
		{"secret.txt", false, true},
		{"docs/secret.txt", false, true},
		{"old.bak", false, true},
		{"docs/old.bak", false, true},
		{".gsyncfs/index.db", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := m.IsExcluded(tt.path, tt.isDir); got != tt.want {
				t.Errorf("IsExcluded(%q, %v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
			}
		})
	}
}

func TestMatcher_NilAndPatterns(t *testing.T) {
	var m *Matcher
	if m.IsExcluded(".DS_Store", false) {
		t.Error("nil matcher should exclude nothing")
	}

	got := New([]string{" ", "cache/"}).Patterns()
	if len(got) != len(DefaultPatterns())+1 || got[len(got)-1] != "cache/" {
		t.Errorf("Patterns() = %v", got)
	}
}
