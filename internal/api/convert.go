package api

import (
	"github.com/dl-alexandre/gsyncfs/internal/types"
	drive "google.golang.org/api/drive/v2"
)

// ConvertFile maps a Drive v2 file resource to the internal object model
func ConvertFile(f *drive.File) *types.DriveFile {
	if f == nil {
		return nil
	}
	file := &types.DriveFile{
		ID:                f.Id,
		Name:              f.Title,
		MimeType:          f.MimeType,
		Size:              f.FileSize,
		MD5Checksum:       f.Md5Checksum,
		ModifiedTime:      f.ModifiedDate,
		ExplicitlyTrashed: f.ExplicitlyTrashed,
	}
	if f.Labels != nil {
		file.Trashed = f.Labels.Trashed
	}
	for _, p := range f.Parents {
		if p != nil {
			file.Parents = append(file.Parents, p.Id)
		}
	}
	return file
}

// ConvertChange maps a Drive v2 change resource
func ConvertChange(c *drive.Change) *types.Change {
	if c == nil {
		return nil
	}
	return &types.Change{
		Sequence:     c.Id,
		FileID:       c.FileId,
		File:         ConvertFile(c.File),
		Removed:      c.Deleted,
		ModifiedTime: c.ModificationDate,
	}
}
