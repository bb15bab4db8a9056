package types

import "testing"

func TestParseSyncStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    SyncStatus
		wantErr bool
	}{
		{"", SyncStatusNA, false},
		{"na", SyncStatusNA, false},
		{"pending", SyncStatusPending, false},
		{"synced", SyncStatusSynced, false},
		{"conflicting", SyncStatusConflicting, false},
		{"bogus", SyncStatusNA, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSyncStatus(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSyncStatus(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSyncStatus(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSyncStatusString(t *testing.T) {
	if SyncStatusNA.String() != "na" {
		t.Errorf("SyncStatusNA.String() = %q, want na", SyncStatusNA.String())
	}
	if SyncStatusSynced.String() != "synced" {
		t.Errorf("SyncStatusSynced.String() = %q", SyncStatusSynced.String())
	}
}

func TestChangeIsDeletion(t *testing.T) {
	tests := []struct {
		name   string
		change Change
		want   bool
	}{
		{"removed", Change{Removed: true}, true},
		{"explicitly trashed", Change{File: &DriveFile{ExplicitlyTrashed: true}}, true},
		{"trashed by parent only", Change{File: &DriveFile{Trashed: true}}, false},
		{"plain update", Change{File: &DriveFile{ID: "a"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.change.IsDeletion(); got != tt.want {
				t.Errorf("IsDeletion() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChangePageMaxSequence(t *testing.T) {
	page := &ChangePage{Changes: []*Change{{Sequence: 4}, {Sequence: 9}, {Sequence: 7}}}
	if got := page.MaxSequence(); got != 9 {
		t.Errorf("MaxSequence() = %d, want 9", got)
	}
	if got := (&ChangePage{}).MaxSequence(); got != 0 {
		t.Errorf("empty MaxSequence() = %d, want 0", got)
	}
}

func TestDriveFileHasParent(t *testing.T) {
	f := &DriveFile{Parents: []string{"p1", "p2"}}
	if !f.HasParent("p2") {
		t.Error("expected HasParent(p2)")
	}
	if f.HasParent("p3") {
		t.Error("unexpected HasParent(p3)")
	}
	var nilFile *DriveFile
	if nilFile.HasParent("p1") || nilFile.IsFolder() {
		t.Error("nil file must report false")
	}
}
