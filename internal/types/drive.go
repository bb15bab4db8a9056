package types

// DriveFile represents a remote Drive object (file or folder)
type DriveFile struct {
	ID                string   `json:"id"`
	Name              string   `json:"title"`
	MimeType          string   `json:"mimeType"`
	Size              int64    `json:"fileSize,omitempty"`
	MD5Checksum       string   `json:"md5Checksum,omitempty"`
	ModifiedTime      string   `json:"modifiedDate,omitempty"`
	Parents           []string `json:"parents,omitempty"`
	Trashed           bool     `json:"trashed,omitempty"`
	ExplicitlyTrashed bool     `json:"explicitlyTrashed,omitempty"`
}

// IsFolder reports whether the object is a Drive folder
func (f *DriveFile) IsFolder() bool {
	return f != nil && f.MimeType == "application/vnd.google-apps.folder"
}

// HasParent reports whether parentID is one of the object's parents
func (f *DriveFile) HasParent(parentID string) bool {
	if f == nil {
		return false
	}
	for _, p := range f.Parents {
		if p == parentID {
			return true
		}
	}
	return false
}

// About holds account usage and quota information
type About struct {
	QuotaBytesTotal int64 `json:"quotaBytesTotal"`
	QuotaBytesUsed  int64 `json:"quotaBytesUsed"`
	LargestChangeID int64 `json:"largestChangeId"`
}
