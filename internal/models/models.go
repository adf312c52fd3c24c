// Package models defines the domain entities shared across TapeVault's
// catalog, orchestration, and filesystem layers.
package models

// Tape is a physical medium, uniquely identified by its volume tag.
// Rows are created by indexing, replaced wholesale by re-indexing, and
// removed when the reconciler finds the tape missing from the library or
// an administrator deletes it through the web view.
type Tape struct {
	VolumeTag  string `json:"volume_tag" db:"volume_tag"`
	LastSeen   int64  `json:"last_seen" db:"last_seen"`     // unix seconds, last successful index
	TotalSpace int64  `json:"total_space" db:"total_space"` // bytes reported by LTFS at index time
	FreeSpace  int64  `json:"free_space" db:"free_space"`
}

// FileEntry is one file as last observed on a tape. Paths are tape-root
// relative, forward-slash separated, and never carry a leading slash.
type FileEntry struct {
	ID        int64  `json:"id" db:"id"`
	VolumeTag string `json:"volume_tag" db:"volume_tag"`
	Path      string `json:"path" db:"path"`
	Size      int64  `json:"size" db:"size"`
	MTime     int64  `json:"mtime" db:"mtime"` // unix seconds, truncated
}

// DriveLoad describes a volume currently sitting in the drive.
type DriveLoad struct {
	DriveID   int
	VolumeTag string
}

// InventorySnapshot is one probe's view of the changer: which slots hold
// which tapes, and what (if anything) is presently loaded in the drive.
// It is never persisted; it is produced fresh by every probe() call.
type InventorySnapshot struct {
	Slots       map[int]string // slot number -> volume tag, non-empty slots only
	DriveLoaded *DriveLoad     // nil when the drive is empty
}

// SlotOf returns the slot holding tag, and whether it was found.
func (s InventorySnapshot) SlotOf(tag string) (int, bool) {
	for slot, t := range s.Slots {
		if t == tag {
			return slot, true
		}
	}
	return 0, false
}

// Present returns the set of volume tags visible anywhere in the
// library: in a slot or in the drive.
func (s InventorySnapshot) Present() map[string]struct{} {
	present := make(map[string]struct{}, len(s.Slots)+1)
	for _, tag := range s.Slots {
		present[tag] = struct{}{}
	}
	if s.DriveLoaded != nil {
		present[s.DriveLoaded.VolumeTag] = struct{}{}
	}
	return present
}

// MountHandle is a scoped capability granting exclusive use of a mounted
// tape. Releasing it frees the drive lock; the tape stays mounted for
// reuse until the orchestrator swaps to another tape or shuts down.
type MountHandle struct {
	VolumeTag  string
	MountPath  string
	TotalSpace int64
	FreeSpace  int64
	// LoadedByUs is true when this acquire performed the load itself
	// (as opposed to reusing an already-mounted tape or mounting one
	// found in the drive). Release never unloads; the orchestrator
	// unloads a tape it loaded when it swaps tapes or shuts down.
	LoadedByUs bool
	slot       int
}
