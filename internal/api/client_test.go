package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	drive "google.golang.org/api/drive/v2"
	"google.golang.org/api/googleapi"
)

func TestNewRequestContext(t *testing.T) {
	a := NewRequestContext("default", types.RequestTypeChanges)
	b := NewRequestContext("default", types.RequestTypeChanges)

	if a.TraceID == "" || a.TraceID == b.TraceID {
		t.Errorf("trace ids should be unique and non-empty: %q %q", a.TraceID, b.TraceID)
	}
	if a.RequestType != types.RequestTypeChanges || a.Profile != "default" {
		t.Errorf("unexpected context %+v", a)
	}
}

func TestExecuteWithRetry_RetriesServerErrors(t *testing.T) {
	client := NewClient(nil, 3, 1, nil)
	calls := 0

	got, err := ExecuteWithRetry(context.Background(), client, NewRequestContext("", types.RequestTypeGetByID), func() (string, error) {
		calls++
		if calls < 3 {
			return "", &googleapi.Error{Code: 503}
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("ExecuteWithRetry() error = %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestExecuteWithRetry_NonRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"not found", &googleapi.Error{Code: 404}, utils.ErrCodeNotFound},
		{"unauthorized", &googleapi.Error{Code: 401}, utils.ErrCodeAuthFailed},
		{"network", &netErr{}, utils.ErrCodeTransportFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(nil, 3, 1, nil)
			calls := 0
			_, err := ExecuteWithRetry(context.Background(), client, NewRequestContext("", types.RequestTypeGetByID), func() (int, error) {
				calls++
				return 0, tt.err
			})
			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
			if utils.ErrorCode(err) != tt.wantCode {
				t.Errorf("code = %s, want %s", utils.ErrorCode(err), tt.wantCode)
			}
		})
	}
}

func TestExecuteWithRetry_GivesUp(t *testing.T) {
	client := NewClient(nil, 2, 1, nil)
	calls := 0
	_, err := ExecuteWithRetry(context.Background(), client, NewRequestContext("", types.RequestTypeMutation), func() (int, error) {
		calls++
		return 0, &googleapi.Error{Code: 429}
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !utils.IsCode(err, utils.ErrCodeRateLimited) {
		t.Errorf("err = %v, want RATE_LIMITED", err)
	}
}

func TestExecuteWithRetry_CancelledContext(t *testing.T) {
	client := NewClient(nil, 3, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := ExecuteWithRetry(ctx, client, NewRequestContext("", types.RequestTypeMutation), func() (int, error) {
		calls++
		return 0, nil
	})
	if calls != 0 {
		t.Errorf("fn called %d times after cancel", calls)
	}
	if !utils.IsCode(err, utils.ErrCodeCancelled) {
		t.Errorf("err = %v, want CANCELLED", err)
	}
}

func TestCalculateBackoff(t *testing.T) {
	base := 100 * time.Millisecond

	for attempt := 0; attempt < 4; attempt++ {
		want := base * time.Duration(1<<attempt)
		got := calculateBackoff(base, attempt, &googleapi.Error{Code: 503})
		if got < want*3/4 || got > want*5/4 {
			t.Errorf("attempt %d: delay %v outside ±25%% of %v", attempt, got, want)
		}
	}

	capped := calculateBackoff(base, 20, &googleapi.Error{Code: 503})
	if capped > time.Duration(utils.MaxRetryDelayMs)*time.Millisecond*5/4 {
		t.Errorf("delay %v not capped", capped)
	}

	header := http.Header{}
	header.Set("Retry-After", "2")
	if got := calculateBackoff(base, 0, &googleapi.Error{Code: 429, Header: header}); got != 2*time.Second {
		t.Errorf("Retry-After ignored: %v", got)
	}
}

func TestConvertFile(t *testing.T) {
	f := ConvertFile(&drive.File{
		Id:                "file123",
		Title:             "notes.txt",
		MimeType:          "text/plain",
		FileSize:          2,
		Md5Checksum:       "49f68a5c8493ec2c0bf489821c21fc3b",
		ModifiedDate:      "2024-01-02T00:00:00.000Z",
		Parents:           []*drive.ParentReference{{Id: "app"}, nil},
		Labels:            &drive.FileLabels{Trashed: true},
		ExplicitlyTrashed: true,
	})

	if f.ID != "file123" || f.Name != "notes.txt" || f.Size != 2 {
		t.Errorf("unexpected conversion %+v", f)
	}
	if !f.HasParent("app") || len(f.Parents) != 1 {
		t.Errorf("parents = %v", f.Parents)
	}
	if !f.Trashed || !f.ExplicitlyTrashed {
		t.Error("trash flags lost")
	}
	if ConvertFile(nil) != nil {
		t.Error("nil file should convert to nil")
	}
}

func TestConvertChange(t *testing.T) {
	c := ConvertChange(&drive.Change{Id: 42, FileId: "f", Deleted: true})
	if c.Sequence != 42 || c.FileID != "f" || !c.IsDeletion() || c.File != nil {
		t.Errorf("unexpected change %+v", c)
	}
}

type netErr struct{}

func (netErr) Error() string { return "dial tcp: connection refused" }
