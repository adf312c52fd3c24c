// Package tape implements the Tape Orchestrator: the exclusive resource
// manager for the single physical drive. It serializes every
// load/mount/unmount/unload sequence behind one mutex (the drive lock),
// reuses an already-mounted tape when possible, and leaves the drive in
// a well-defined state on every exit path: a failed acquire unloads any
// tape it loaded, and a released tape stays mounted until a swap or
// Shutdown tears it down.
package tape

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/tapevault/tapevault/internal/logging"
	"github.com/tapevault/tapevault/internal/models"
	"github.com/tapevault/tapevault/internal/vaulterrors"
)

// Changer is the subset of the Changer Interface the orchestrator needs:
// move a tape from a slot into the drive, and back out again.
// *changer.Interface satisfies this.
type Changer interface {
	Load(ctx context.Context, slot int) error
	Unload(ctx context.Context, slot int)
}

// Mounter performs the LTFS mount/unmount subprocess calls and reports
// capacity for a mounted volume. The default implementation shells out
// to ltfs/umount/fusermount; tests inject a fake.
type Mounter interface {
	Mount(ctx context.Context, mountPath string) error
	Unmount(ctx context.Context, mountPath string) error
	Statfs(mountPath string) (total, free int64, err error)
}

// Orchestrator owns the drive lock and the currently-mounted tape, if
// any. All exported methods are safe for concurrent use; acquire/release
// pairs are serialized by the drive lock itself.
type Orchestrator struct {
	mu sync.Mutex

	mountBase string
	changer   Changer
	mounter   Mounter
	logger    *logging.Logger

	current *mountedState // nil when IDLE
}

type mountedState struct {
	volumeTag  string
	mountPath  string
	slot       int
	loadedByUs bool // false when found already sitting in the drive; never unload in that case
}

// New creates a Tape Orchestrator for the given Changer Interface and
// Mounter. mountBase is the parent directory under which per-tape LTFS
// mount points are created.
func New(changer Changer, mounter Mounter, mountBase string, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		changer:   changer,
		mounter:   mounter,
		mountBase: mountBase,
		logger:    logger,
	}
}

// Acquire returns a MountHandle for targetTag, loading and mounting it
// if necessary. If the drive already holds targetTag — either because
// this orchestrator mounted it for a prior caller that has since
// released it, or because it was already sitting in the drive when
// this process started (per inv.DriveLoaded) — the existing mount is
// reused (or mounted directly, skipping the load step) with no
// redundant subprocess calls. The drive lock is held for the duration
// of the call and remains conceptually held by the caller until
// Release is invoked — other callers block on Acquire in the meantime.
func (o *Orchestrator) Acquire(ctx context.Context, targetTag string, inv models.InventorySnapshot) (*models.MountHandle, error) {
	// Acquire does not defer-unlock: on success the caller holds the
	// drive lock until Release unlocks it; every error path below
	// unlocks explicitly before returning.
	o.mu.Lock()

	if o.current != nil && o.current.volumeTag == targetTag {
		h := &models.MountHandle{
			VolumeTag:  targetTag,
			MountPath:  o.current.mountPath,
			LoadedByUs: false,
		}
		o.statMount(h)
		return h, nil
	}

	// Swapping to a different tape: tear down whatever is currently
	// mounted before proceeding. This is the only place a mount held
	// across releases (the reuse branch above) is ever torn down during
	// normal operation; see Shutdown for process-exit cleanup.
	if o.current != nil {
		o.unmountAndUnload(ctx, o.current)
		o.current = nil
	}

	mountPath := o.mountBase + "/" + targetTag
	loadedByUs := true
	slot := 0

	if inv.DriveLoaded != nil && inv.DriveLoaded.VolumeTag == targetTag {
		// Already sitting in the drive (e.g. left there from before
		// this process started): skip the load step and mount
		// directly. We didn't load it, so we don't know its home slot
		// and must not try to unload it later.
		loadedByUs = false
	} else {
		s, ok := inv.SlotOf(targetTag)
		if !ok {
			o.mu.Unlock()
			return nil, &vaulterrors.TapeNotFound{VolumeTag: targetTag}
		}
		slot = s

		if err := o.changer.Load(ctx, slot); err != nil {
			o.mu.Unlock()
			return nil, fmt.Errorf("loading %s from slot %d: %w", targetTag, slot, err)
		}
	}

	if err := os.MkdirAll(mountPath, 0755); err != nil {
		if loadedByUs {
			o.changer.Unload(ctx, slot)
		}
		o.mu.Unlock()
		return nil, &vaulterrors.MountFailed{VolumeTag: targetTag, Cause: err}
	}

	if err := o.mounter.Mount(ctx, mountPath); err != nil {
		if loadedByUs {
			o.changer.Unload(ctx, slot)
		}
		o.mu.Unlock()
		return nil, &vaulterrors.MountFailed{VolumeTag: targetTag, Cause: err}
	}

	o.current = &mountedState{volumeTag: targetTag, mountPath: mountPath, slot: slot, loadedByUs: loadedByUs}

	h := &models.MountHandle{
		VolumeTag:  targetTag,
		MountPath:  mountPath,
		LoadedByUs: loadedByUs,
	}
	o.statMount(h)
	return h, nil
}

// Release frees the drive lock for the next caller. It does not tear
// down the mount: per the "reuse: same tape next" transition in the
// orchestrator's state diagram, a tape stays mounted across releases
// so that back-to-back callers wanting the same tape never pay for a
// redundant unmount/mount cycle. The mount is only torn down when
// Acquire is next called for a different tape (see unmountAndUnload
// above), or at process shutdown (see Shutdown).
func (o *Orchestrator) Release(ctx context.Context, h *models.MountHandle) {
	o.mu.Unlock()
}

// Shutdown tears down whatever tape is currently mounted, best-effort,
// for a clean process exit. With releases no longer tearing down
// mounts eagerly, this is the only other place a lingering mount gets
// unwound.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil {
		return
	}
	o.unmountAndUnload(ctx, o.current)
	o.current = nil
}

// unmountAndUnload best-effort unmounts the currently-held tape and, if
// this orchestrator is the one that loaded it, returns it to its home
// slot. Used both from Shutdown and from Acquire (when swapping to a
// different tape). A tape found already sitting in the drive at
// startup is never unloaded, since its home slot is unknown to us.
func (o *Orchestrator) unmountAndUnload(ctx context.Context, state *mountedState) {
	if err := o.mounter.Unmount(ctx, state.mountPath); err != nil && o.logger != nil {
		o.logger.Warn("unmount failed", map[string]interface{}{
			"volume_tag": state.volumeTag,
			"error":      err.Error(),
		})
	}
	if state.loadedByUs {
		o.changer.Unload(ctx, state.slot)
	}
}

// statMount fills h.TotalSpace/FreeSpace from the mounted filesystem.
// Failure is silent: capacity is best-effort reporting, never a reason
// to fail an otherwise-successful mount.
func (o *Orchestrator) statMount(h *models.MountHandle) {
	total, free, err := o.mounter.Statfs(h.MountPath)
	if err != nil {
		return
	}
	h.TotalSpace = total
	h.FreeSpace = free
}
