package tape

import "syscall"

// unixStatfsT narrows syscall.Statfs_t to the fields the orchestrator
// needs, so the mount-capacity logic does not depend on the exact
// integer widths the platform's Statfs_t declares them with.
type unixStatfsT struct {
	Blocks uint64
	Bavail uint64
	Bsize  int64
}

func statfs(path string, out *unixStatfsT) error {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return err
	}
	out.Blocks = uint64(st.Blocks)
	out.Bavail = uint64(st.Bavail)
	out.Bsize = int64(st.Bsize)
	return nil
}
