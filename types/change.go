package types

// ChangeType classifies a changed file the way the review pipelines do.
type ChangeType string

// ChangeType constants.
const (
	ChangeAdded    ChangeType = "new_file"
	ChangeDeleted  ChangeType = "deleted_file"
	ChangeRenamed  ChangeType = "renamed_file"
	ChangeModified ChangeType = "modified_file"
)

// ChangedFile is the work item the review pipelines feed into the pool.
// Diff holds the unified diff (or full content for manifest sources).
type ChangedFile struct {
	OldPath    string     `json:"old_path,omitempty"`
	NewPath    string     `json:"new_path,omitempty"`
	Diff       string     `json:"diff"`
	ChangeType ChangeType `json:"change_type"`
}

// Path returns the stable display key: new path, falling back to old path.
func (c ChangedFile) Path() string {
	if c.NewPath != "" {
		return c.NewPath
	}
	return c.OldPath
}

// ClassifyChange derives the change type from the old/new path pair.
func ClassifyChange(oldPath, newPath string) ChangeType {
	switch {
	case oldPath == "" && newPath != "":
		return ChangeAdded
	case oldPath != "" && newPath == "":
		return ChangeDeleted
	case oldPath != newPath:
		return ChangeRenamed
	default:
		return ChangeModified
	}
}
