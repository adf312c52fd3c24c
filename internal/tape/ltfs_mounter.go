package tape

import (
	"context"
	"os/exec"

	"github.com/tapevault/tapevault/internal/changer"
	"github.com/tapevault/tapevault/internal/vaulterrors"
)

// LTFSMounter is the production Mounter: it shells out to ltfs to mount
// and to fusermount (falling back to umount) to tear down, the same
// fallback order the rest of this codebase uses for FUSE mounts.
type LTFSMounter struct {
	tapeDevice string
	runner     *changer.Runner
}

// NewLTFSMounter creates a Mounter bound to the given tape device.
func NewLTFSMounter(tapeDevice string, runner *changer.Runner) *LTFSMounter {
	return &LTFSMounter{tapeDevice: tapeDevice, runner: runner}
}

// Mount mounts the LTFS volume currently loaded in the drive at
// mountPath. It does not create the directory; Orchestrator.Acquire
// creates it before calling Mount.
func (m *LTFSMounter) Mount(ctx context.Context, mountPath string) error {
	_, err := m.runner.Run(ctx, "ltfs", "-o", "devname="+m.tapeDevice, mountPath)
	return err
}

// Unmount unmounts mountPath, preferring fusermount and falling back to
// umount.
func (m *LTFSMounter) Unmount(ctx context.Context, mountPath string) error {
	if _, err := exec.LookPath("fusermount"); err == nil {
		if _, err := m.runner.Run(ctx, "fusermount", "-u", mountPath); err == nil {
			return nil
		}
	}
	if _, err := m.runner.Run(ctx, "umount", mountPath); err != nil {
		return &vaulterrors.UnmountFailed{Cause: err}
	}
	return nil
}

// Statfs reports total/free capacity for the mounted volume in bytes.
func (m *LTFSMounter) Statfs(mountPath string) (total, free int64, err error) {
	var st unixStatfsT
	if err := statfs(mountPath, &st); err != nil {
		return 0, 0, err
	}
	return int64(st.Blocks) * st.Bsize, int64(st.Bavail) * st.Bsize, nil
}
