// Package changer wraps the external changer-control tool (mtx) behind
// a typed Command Runner and parses its status output into a structured
// inventory snapshot.
package changer

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tapevault/tapevault/internal/logging"
	"github.com/tapevault/tapevault/internal/models"
	"github.com/tapevault/tapevault/internal/vaulterrors"
)

// DefaultOperationTimeout bounds every subprocess invocation so an
// unresponsive changer or drive cannot hang the caller indefinitely.
const DefaultOperationTimeout = 60 * time.Second

// Runner executes external tools, capturing stdout/stderr and surfacing
// a typed failure distinguishing "binary missing" from "ran and failed".
type Runner struct {
	logger *logging.Logger
}

// NewRunner creates a Command Runner.
func NewRunner(logger *logging.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run executes name with args and returns stdout. It fails with
// *vaulterrors.ToolUnavailable if the binary cannot be spawned, or
// *vaulterrors.ToolFailed if it exits non-zero.
func (r *Runner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	opCtx, cancel := context.WithTimeout(ctx, DefaultOperationTimeout)
	defer cancel()

	cmd := exec.CommandContext(opCtx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, vaulterrors.NewToolFailed(name, err, &stderr)
	}
	return stdout.Bytes(), nil
}

// RunBestEffort executes name with args, logging and swallowing any
// failure. It is used for idempotent unload/unmount sequences where
// "already in the desired state" must not abort the caller.
func (r *Runner) RunBestEffort(ctx context.Context, name string, args ...string) {
	if _, err := r.Run(ctx, name, args...); err != nil {
		if r.logger != nil {
			r.logger.Warn("best-effort command failed", map[string]interface{}{
				"tool":  name,
				"args":  strings.Join(args, " "),
				"error": err.Error(),
			})
		}
	}
}

// Interface probes a changer device and returns its current inventory.
type Interface struct {
	device string
	runner *Runner
}

// NewInterface creates a Changer Interface bound to the given generic
// SCSI device.
func NewInterface(device string, runner *Runner) *Interface {
	return &Interface{device: device, runner: runner}
}

var (
	driveFullRe = regexp.MustCompile(`Data Transfer Element (\d+):Full.*VolumeTag\s*=\s*(\S+)`)
	slotFullRe  = regexp.MustCompile(`Storage Element (\d+):Full.*VolumeTag\s*=\s*(\S+)`)
)

// Probe invokes `mtx -f <device> status` and parses its line-based
// output. Parsing is tolerant: unknown lines never fail the probe, only
// a missing binary or non-zero exit does.
func (c *Interface) Probe(ctx context.Context) (models.InventorySnapshot, error) {
	out, err := c.runner.Run(ctx, "mtx", "-f", c.device, "status")
	if err != nil {
		return models.InventorySnapshot{}, &vaulterrors.ChangerUnavailable{Cause: err}
	}
	return parseStatus(out), nil
}

func parseStatus(output []byte) models.InventorySnapshot {
	snap := models.InventorySnapshot{Slots: make(map[int]string)}

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if strings.Contains(line, "IMPORT/EXPORT") {
			continue
		}

		if m := driveFullRe.FindStringSubmatch(line); m != nil {
			driveID, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			snap.DriveLoaded = &models.DriveLoad{DriveID: driveID, VolumeTag: m[2]}
			continue
		}

		if m := slotFullRe.FindStringSubmatch(line); m != nil {
			slot, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			snap.Slots[slot] = m[2]
			continue
		}
	}

	return snap
}

// Load moves the tape in slot into drive 0.
func (c *Interface) Load(ctx context.Context, slot int) error {
	_, err := c.runner.Run(ctx, "mtx", "-f", c.device, "load", strconv.Itoa(slot), "0")
	return err
}

// Unload returns the loaded tape to slot (or any open slot, if slot is
// zero), best-effort: an already-empty drive must not fail the caller.
func (c *Interface) Unload(ctx context.Context, slot int) {
	if slot > 0 {
		c.runner.RunBestEffort(ctx, "mtx", "-f", c.device, "unload", strconv.Itoa(slot), "0")
		return
	}
	c.runner.RunBestEffort(ctx, "mtx", "-f", c.device, "unload")
}
