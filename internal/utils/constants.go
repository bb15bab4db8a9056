package utils

// OAuth scopes
const (
	ScopeFull     = "https://www.googleapis.com/auth/drive"
	ScopeReadonly = "https://www.googleapis.com/auth/drive.readonly"
)

// ScopesSync is what a sync session needs: read the change feed and write
// the objects it created
var ScopesSync = []string{
	ScopeFull,
}

// Retry configuration
const (
	DefaultMaxRetries   = 3
	DefaultRetryDelayMs = 1000
	MaxRetryDelayMs     = 32000
)

// Poll scheduling defaults (milliseconds)
const (
	DefaultInitialPollDelayMs = 2000
	DefaultMaxPollDelayMs     = 64000
	DefaultOfflinePollDelayMs = 64000
)

// Change feed paging
const (
	DefaultChangePageSize = 1000
	MaxChangePageSize     = 1000
)

// InitialChangeCursor is the cursor of a session that has never polled
const InitialChangeCursor int64 = 1

// DefaultRootDirectoryName is the remote container holding every app directory
const DefaultRootDirectoryName = "Drive Syncable FileSystem"

// CacheKeyPrefix namespaces identity cache rows
const CacheKeyPrefix = "sfs"

// Schema version
const SchemaVersion = "1.0"

// Drive MIME types
const (
	MimeTypeFolder      = "application/vnd.google-apps.folder"
	MimeTypeOctetStream = "application/octet-stream"
)

// IsWorkspaceMimeType checks if a MIME type is a native Google document,
// which has no downloadable binary content
func IsWorkspaceMimeType(mimeType string) bool {
	switch mimeType {
	case "application/vnd.google-apps.document",
		"application/vnd.google-apps.spreadsheet",
		"application/vnd.google-apps.presentation",
		"application/vnd.google-apps.drawing",
		"application/vnd.google-apps.form",
		"application/vnd.google-apps.script":
		return true
	}
	return false
}
