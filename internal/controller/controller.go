// Package controller owns the per-session image lifecycle:
// Empty -> Selected -> Processing -> Processed, with a new selection always
// returning to Selected.
package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/autsav/backgroundRemover/internal/datauri"
	"github.com/autsav/backgroundRemover/internal/imageprocessor"
	"github.com/autsav/backgroundRemover/internal/logging"
)

var (
	ErrFileRead         = errors.New("could not read selected file")
	ErrNoImage          = errors.New("no image selected")
	ErrBusy             = errors.New("image is already being processed")
	ErrNoResult         = errors.New("no processed image available")
	ErrMissingResultURL = errors.New("processing result has no image url")

	errProcessingAborted = errors.New("processing aborted")
)

// ErrorPolicy decides what a failed ProcessImage reports to its caller.
type ErrorPolicy int

const (
	// ErrorPolicyLog logs the failure and returns nil, leaving the user with no result.
	ErrorPolicyLog ErrorPolicy = iota
	// ErrorPolicySurface logs, returns the failure and exposes it via LastError.
	ErrorPolicySurface
)

// ParseErrorPolicy maps "log" and "surface" to a policy.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "log":
		return ErrorPolicyLog, nil
	case "surface":
		return ErrorPolicySurface, nil
	default:
		return ErrorPolicyLog, fmt.Errorf("unknown error policy %q", s)
	}
}

// Observer is notified with a snapshot after every state change. It runs
// outside the controller lock, so calls may overlap; Snapshot.Version orders them.
type Observer func(Snapshot)

// Options tunes a Controller. Zero values are usable.
type Options struct {
	Policy   ErrorPolicy
	Fetcher  Fetcher
	Observer Observer
	Now      func() time.Time
}

// Controller is safe for concurrent use. At most one ProcessImage runs at a time.
type Controller struct {
	mu         sync.Mutex
	state      State
	fullScreen bool
	lastErr    error
	generation uint64
	version    uint64

	processor imageprocessor.Client
	fetcher   Fetcher
	policy    ErrorPolicy
	observer  Observer
	now       func() time.Time
	logger    *zap.Logger
}

func New(processor imageprocessor.Client, logger *zap.Logger, opts Options) *Controller {
	if opts.Fetcher == nil {
		opts.Fetcher = NewHTTPFetcher(nil, "")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		state:     Empty{},
		processor: processor,
		fetcher:   opts.Fetcher,
		policy:    opts.Policy,
		observer:  opts.Observer,
		now:       opts.Now,
		logger:    logger.Named("controller"),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FullScreen reports whether the result panel is expanded.
func (c *Controller) FullScreen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fullScreen
}

// LastError returns the most recent surfaced processing failure, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// View returns the render flags for the current state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return buildView(c.state, c.fullScreen, c.lastErr)
}

// SelectFile reads r into a data URI and makes it the selected image,
// discarding any processed result. A read failure leaves the state untouched.
func (c *Controller) SelectFile(ctx context.Context, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	uri, data, err := datauri.FromReader(r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFileRead, err)
	}

	img := Image{DataURI: uri, Size: len(data)}
	if decoded, err := datauri.Parse(uri); err == nil {
		img.MediaType = decoded.MediaType
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width, img.Height = cfg.Width, cfg.Height
	}

	c.update(func() bool {
		c.generation++
		c.lastErr = nil
		c.state = Selected{Image: img}
		return true
	})
	return nil
}

// ProcessImage sends the selected image to the processor. On success the
// state becomes Processed; on any failure, including a panic in the
// processor, it returns to Selected. The return value follows the policy.
func (c *Controller) ProcessImage(ctx context.Context) (err error) {
	img, gen, err := c.beginProcessing()
	if err != nil {
		return err
	}

	var res *imageprocessor.Result
	runErr := errProcessingAborted
	defer func() {
		err = c.completeProcessing(ctx, gen, img, res, runErr)
	}()

	res, runErr = c.processor.RemoveBackground(ctx, img.DataURI)
	return nil
}

func (c *Controller) beginProcessing() (img Image, gen uint64, err error) {
	c.update(func() bool {
		switch st := c.state.(type) {
		case Empty:
			err = ErrNoImage
			return false
		case Processing:
			err = ErrBusy
			return false
		case Selected:
			img = st.Image
		case Processed:
			img = st.Image
		}

		c.generation++
		c.lastErr = nil
		c.state = Processing{Image: img, Since: c.now()}
		gen = c.generation
		return true
	})
	return img, gen, err
}

func (c *Controller) completeProcessing(ctx context.Context, gen uint64, img Image, res *imageprocessor.Result, runErr error) error {
	if runErr == nil && (res == nil || res.Image.URL == "") {
		runErr = ErrMissingResultURL
	}

	opLogger := logging.WithOperation(c.logger, "controller.process_image", logging.RequestIDFrom(ctx))
	var surfaced error
	c.update(func() bool {
		if gen != c.generation {
			opLogger.Info("discarding result for replaced image", zap.Bool("failed", runErr != nil))
			return false
		}

		if runErr != nil {
			opLogger.Error("error processing image", zap.Error(runErr))
			c.state = Selected{Image: img}
			if c.policy == ErrorPolicySurface {
				c.lastErr = runErr
				surfaced = runErr
			}
			return true
		}

		c.state = Processed{Image: img, Result: *res}
		return true
	})
	return surfaced
}

// ToggleFullScreen flips the full-screen flag and returns the new value.
func (c *Controller) ToggleFullScreen() bool {
	var on bool
	c.update(func() bool {
		c.fullScreen = !c.fullScreen
		on = c.fullScreen
		return true
	})
	return on
}

// ExitFullScreen clears the full-screen flag.
func (c *Controller) ExitFullScreen() {
	c.update(func() bool {
		if !c.fullScreen {
			return false
		}
		c.fullScreen = false
		return true
	})
}

// update runs fn under the lock. When fn reports a change the version is
// bumped and the observer gets the resulting snapshot after the lock is released.
func (c *Controller) update(fn func() bool) {
	c.mu.Lock()
	changed := fn()
	var snap Snapshot
	if changed {
		c.version++
		snap = c.snapshotLocked()
	}
	c.mu.Unlock()

	if changed && c.observer != nil {
		c.observer(snap)
	}
}
