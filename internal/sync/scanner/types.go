package scanner

// LocalEntry is one file or directory found under the local sync root
type LocalEntry struct {
	RelativePath string
	IsDir        bool
	Size         int64
	ModTime      int64
	Hash         string
}
