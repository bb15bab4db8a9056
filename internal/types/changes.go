package types

// Change is a single entry of the remote change feed
type Change struct {
	// Sequence is the change's position in the feed
	Sequence int64 `json:"id"`

	// FileID is the ID of the object that changed
	FileID string `json:"fileId"`

	// File is the object resource, absent for hard deletions
	File *DriveFile `json:"file,omitempty"`

	// Removed indicates the object was deleted
	Removed bool `json:"deleted"`

	// ModifiedTime is when the change was recorded
	ModifiedTime string `json:"modificationDate,omitempty"`
}

// IsDeletion reports whether the change removes the object, either a hard
// delete or an explicit trash
func (c *Change) IsDeletion() bool {
	if c.Removed {
		return true
	}
	return c.File != nil && c.File.ExplicitlyTrashed
}

// ChangePage is one bounded page of the change feed
type ChangePage struct {
	Changes         []*Change `json:"items"`
	LargestChangeID int64     `json:"largestChangeId"`
}

// MaxSequence returns the highest sequence number in the page, or 0 when empty
func (p *ChangePage) MaxSequence() int64 {
	var max int64
	for _, c := range p.Changes {
		if c.Sequence > max {
			max = c.Sequence
		}
	}
	return max
}
