package controller

import (
	"errors"
	"fmt"
	"time"

	"github.com/autsav/backgroundRemover/internal/imageprocessor"
)

var ErrInvalidSnapshot = errors.New("invalid controller snapshot")

// Snapshot is the persistable form of a Controller.
type Snapshot struct {
	Phase           Phase                  `json:"phase"`
	Image           *Image                 `json:"image,omitempty"`
	Result          *imageprocessor.Result `json:"result,omitempty"`
	FullScreen      bool                   `json:"full_screen"`
	ProcessingSince time.Time              `json:"processing_since,omitempty"`
	LastError       string                 `json:"last_error,omitempty"`
	Version         uint64                 `json:"version"`
}

// Snapshot captures the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{Phase: c.state.Phase(), FullScreen: c.fullScreen, Version: c.version}
	if img, ok := selectedImage(c.state); ok {
		snap.Image = &img
	}
	switch st := c.state.(type) {
	case Processing:
		snap.ProcessingSince = st.Since
	case Processed:
		res := st.Result
		snap.Result = &res
	}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
	}
	return snap
}

// Restore replaces the controller state with snap. A processing snapshot
// has no live request behind it, so it comes back as Selected.
func (c *Controller) Restore(snap Snapshot) error {
	var next State
	switch snap.Phase {
	case PhaseEmpty, "":
		next = Empty{}
	case PhaseSelected, PhaseProcessing:
		if snap.Image == nil {
			return fmt.Errorf("%w: %s without image", ErrInvalidSnapshot, snap.Phase)
		}
		next = Selected{Image: *snap.Image}
	case PhaseProcessed:
		if snap.Image == nil || snap.Result == nil || snap.Result.Image.URL == "" {
			return fmt.Errorf("%w: processed without image or result", ErrInvalidSnapshot)
		}
		next = Processed{Image: *snap.Image, Result: *snap.Result}
	default:
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidSnapshot, snap.Phase)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.version = snap.Version
	c.state = next
	c.fullScreen = snap.FullScreen
	c.lastErr = nil
	if snap.LastError != "" {
		c.lastErr = errors.New(snap.LastError)
	}
	return nil
}
