package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestStorageBackends(t *testing.T) {
	keyring.MockInit()

	tests := []struct {
		name    string
		backend func(t *testing.T, dir string) StorageBackend
		file    string
		cipher  bool
	}{
		{
			name: "encrypted file",
			backend: func(t *testing.T, dir string) StorageBackend {
				s, err := NewEncryptedFileStorage(dir)
				if err != nil {
					t.Fatalf("NewEncryptedFileStorage() error = %v", err)
				}
				return s
			},
			file:   filepath.Join("credentials", "work.enc"),
			cipher: true,
		},
		{
			name:    "plain file",
			backend: func(t *testing.T, dir string) StorageBackend { return NewPlainFileStorage(dir) },
			file:    filepath.Join("credentials", "work.json"),
		},
		{
			name:    "keyring",
			backend: func(t *testing.T, dir string) StorageBackend { return NewKeyringStorage("gsyncfs-test") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			storage := tt.backend(t, dir)
			data := []byte(`{"type":"oauth","accessToken":"secret"}`)

			if _, err := storage.Load("work"); err != errNoCredentials {
				t.Errorf("Load() before Save error = %v, want errNoCredentials", err)
			}
			if err := storage.Save("work", data); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if tt.file != "" {
				raw, err := os.ReadFile(filepath.Join(dir, tt.file))
				if err != nil {
					t.Fatalf("credential file missing: %v", err)
				}
				if tt.cipher == (string(raw) == string(data)) {
					t.Errorf("stored bytes encrypted = %v, want %v", string(raw) != string(data), tt.cipher)
				}
			}

			loaded, err := storage.Load("work")
			if err != nil || string(loaded) != string(data) {
				t.Errorf("Load() = %s, %v", loaded, err)
			}

			if err := storage.Delete("work"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if err := storage.Delete("work"); err != nil {
				t.Errorf("second Delete() error = %v", err)
			}
			if _, err := storage.Load("work"); err != errNoCredentials {
				t.Errorf("Load() after Delete error = %v", err)
			}
		})
	}
}

func TestEncryptedFileStorage_RejectsTamperedData(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewEncryptedFileStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := storage.Save("work", []byte("payload")); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "credentials", "work.enc")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0xff
	if err := os.WriteFile(path, raw, 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := storage.Load("work"); err == nil {
		t.Error("Load() accepted tampered ciphertext")
	}
}

func TestGetOrCreateEncryptionKey(t *testing.T) {
	dir := t.TempDir()

	first, err := getOrCreateEncryptionKey(dir)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if len(first) != 32 {
		t.Errorf("key length = %d, want 32", len(first))
	}
	second, err := getOrCreateEncryptionKey(dir)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	if string(first) != string(second) {
		t.Error("key changed between calls")
	}
}

func TestManager_ListProfiles(t *testing.T) {
	keyring.MockInit()

	tests := []struct {
		name string
		opts ManagerOptions
	}{
		{name: "keyring", opts: ManagerOptions{}},
		{name: "encrypted file", opts: ManagerOptions{ForceEncryptedFile: true}},
		{name: "plain file", opts: ManagerOptions{ForcePlainFile: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewManager(t.TempDir(), tt.opts)

			profiles, err := mgr.ListProfiles()
			if err != nil || len(profiles) != 0 {
				t.Fatalf("ListProfiles() = %v, %v", profiles, err)
			}

			for _, p := range []string{"work", "home"} {
				if err := mgr.SaveToken(p, "", "", testToken("tok-"+p), nil); err != nil {
					t.Fatalf("SaveToken(%s) error = %v", p, err)
				}
			}
			profiles, err = mgr.ListProfiles()
			if err != nil || len(profiles) != 2 || profiles[0] != "home" || profiles[1] != "work" {
				t.Fatalf("ListProfiles() = %v, %v", profiles, err)
			}

			if err := mgr.DeleteCredentials("home"); err != nil {
				t.Fatal(err)
			}
			profiles, _ = mgr.ListProfiles()
			if len(profiles) != 1 || profiles[0] != "work" {
				t.Errorf("ListProfiles() after delete = %v", profiles)
			}
		})
	}
}
