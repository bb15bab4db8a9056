package folders

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	testhelpers "github.com/dl-alexandre/gsyncfs/internal/testing"
	drive "google.golang.org/api/drive/v2"
)

func TestManager_Create(t *testing.T) {
	var received drive.File
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/files") {
			http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusBadRequest)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		testhelpers.WriteJSON(t, w, testhelpers.TestFolder("new-id", received.Title, "root-id"))
	})

	m := NewManager(testhelpers.NewClient(t, handler))
	folder, err := m.Create(context.Background(), testhelpers.TestRequestContext(), "app", "root-id")
	testhelpers.AssertNoError(t, err, "Create")

	if folder.ID != "new-id" || !folder.IsFolder() {
		t.Errorf("unexpected folder %+v", folder)
	}
	if received.Title != "app" || received.MimeType != "application/vnd.google-apps.folder" {
		t.Errorf("unexpected request body %+v", received)
	}
	if len(received.Parents) != 1 || received.Parents[0].Id != "root-id" {
		t.Errorf("parents = %+v", received.Parents)
	}
}

func TestManager_List(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "'app-id' in parents and trashed = false" {
			http.Error(w, "bad query "+got, http.StatusBadRequest)
			return
		}
		testhelpers.WriteJSON(t, w, &drive.FileList{Items: []*drive.File{
			testhelpers.TestFile("f1", "notes.txt", "app-id", "2024-01-01T00:00:00.000Z"),
			testhelpers.TestFolder("d1", "docs", "app-id"),
		}})
	})

	m := NewManager(testhelpers.NewClient(t, handler))
	items, err := m.List(context.Background(), testhelpers.TestRequestContext(), "app-id")
	testhelpers.AssertNoError(t, err, "List")
	testhelpers.AssertEqual(t, len(items), 2, "item count")
	testhelpers.AssertEqual(t, items[1].IsFolder(), true, "second item is folder")
}
