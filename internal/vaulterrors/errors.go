// Package vaulterrors defines the typed error kinds the TapeVault core
// distinguishes, so callers can branch on kind (e.g. to pick a
// syscall.Errno in the filesystem layer) instead of matching strings.
package vaulterrors

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ChangerUnavailable means the changer-status tool is missing or failed.
// Fatal for the reconciler; surfaced as an I/O error from a fetch.
type ChangerUnavailable struct {
	Cause error
}

func (e *ChangerUnavailable) Error() string {
	return fmt.Sprintf("changer unavailable: %s", e.Cause)
}

func (e *ChangerUnavailable) Unwrap() error { return e.Cause }

// TapeNotFound means a referenced volume tag is absent from the live
// inventory.
type TapeNotFound struct {
	VolumeTag string
}

func (e *TapeNotFound) Error() string {
	return fmt.Sprintf("tape not found: %s", e.VolumeTag)
}

// MountFailed means the LTFS mount tool failed.
type MountFailed struct {
	VolumeTag string
	Cause     error
}

func (e *MountFailed) Error() string {
	return fmt.Sprintf("mount failed for %s: %s", e.VolumeTag, e.Cause)
}

func (e *MountFailed) Unwrap() error { return e.Cause }

// UnmountFailed means the unmount helper failed. Callers log this; it
// never aborts a release (the drive lock is always freed).
type UnmountFailed struct {
	VolumeTag string
	Cause     error
}

func (e *UnmountFailed) Error() string {
	return fmt.Sprintf("unmount failed for %s: %s", e.VolumeTag, e.Cause)
}

func (e *UnmountFailed) Unwrap() error { return e.Cause }

// CatalogError wraps a catalog (database) transaction failure.
type CatalogError struct {
	Op    string
	Cause error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog error during %s: %s", e.Op, e.Cause)
}

func (e *CatalogError) Unwrap() error { return e.Cause }

// CacheIOFailed wraps a filesystem error encountered while copying a
// file from a mounted tape into the local cache.
type CacheIOFailed struct {
	Path  string
	Cause error
}

func (e *CacheIOFailed) Error() string {
	return fmt.Sprintf("cache I/O failed for %s: %s", e.Path, e.Cause)
}

func (e *CacheIOFailed) Unwrap() error { return e.Cause }

// NotFound means a getattr/open targeted an unknown path.
type NotFound struct {
	Path string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

// ReadOnly means a write-shaped operation was rejected.
type ReadOnly struct {
	Path string
}

func (e *ReadOnly) Error() string {
	return fmt.Sprintf("read-only: %s", e.Path)
}

// ToolUnavailable means a subprocess could not even be spawned (binary
// missing from PATH, permission denied to exec it).
type ToolUnavailable struct {
	Tool  string
	Cause error
}

func (e *ToolUnavailable) Error() string {
	return fmt.Sprintf("tool unavailable: %s: %s", e.Tool, e.Cause)
}

func (e *ToolUnavailable) Unwrap() error { return e.Cause }

// ToolFailed means a subprocess ran and returned a non-zero exit code.
type ToolFailed struct {
	Tool   string
	Exit   int
	Stderr string
}

func (e *ToolFailed) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit code %d", e.Tool, e.Exit)
	}
	return fmt.Sprintf("%s: exit code %d: %s", e.Tool, e.Exit, e.Stderr)
}

// NewToolFailed builds a ToolFailed (or ToolUnavailable, if the binary
// never ran at all) from an *exec.Cmd error, following the exit-code and
// stderr-tail extraction idiom used throughout this codebase.
func NewToolFailed(tool string, err error, stderr *bytes.Buffer) error {
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return &ToolUnavailable{Tool: tool, Cause: err}
	}

	stderrText := ""
	if stderr != nil && stderr.Len() > 0 {
		stderrText = strings.TrimSpace(stderr.String())
	} else if len(exitErr.Stderr) > 0 {
		stderrText = strings.TrimSpace(string(exitErr.Stderr))
	}

	return &ToolFailed{Tool: tool, Exit: exitErr.ExitCode(), Stderr: stderrText}
}
