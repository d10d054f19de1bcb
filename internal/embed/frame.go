package embed

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/pysugar/app-portal/internal/account"
)

// MaxReloads caps the reload counter a browser may report.
const MaxReloads = 100

// FrameState is the panel lifecycle of one embedded app.
type FrameState int

const (
	FrameLoading FrameState = iota
	FrameReady
	FrameFailed
	FrameMissingKey
)

func (s FrameState) String() string {
	switch s {
	case FrameReady:
		return "ready"
	case FrameFailed:
		return "failed"
	case FrameMissingKey:
		return "missing_key"
	default:
		return "loading"
	}
}

// Frame tracks one iframe panel. Keys are handed over once per load; a frame
// that failed or was never listening only recovers through Retry.
type Frame struct {
	app     App
	state   FrameState
	reloads int
}

// NewFrame starts a panel in the loading state, or MissingKey when acct cannot
// satisfy the app's required key.
func NewFrame(app App, acct *account.Account) *Frame {
	f := &Frame{app: app}
	if _, _, err := app.Messages(acct); err != nil {
		f.state = FrameMissingKey
	}
	return f
}

// ResumeFrame rebuilds a panel the browser has already retried reloads times.
// Each reload is one failed load followed by Retry.
func ResumeFrame(app App, acct *account.Account, reloads int) *Frame {
	f := NewFrame(app, acct)
	if reloads > MaxReloads {
		reloads = MaxReloads
	}
	for i := 0; i < reloads && f.state == FrameLoading; i++ {
		f.Failed()
		f.Retry()
	}
	return f
}

func (f *Frame) State() FrameState { return f.state }

// FailureText is the message shown when the frame fails to load.
func (f *Frame) FailureText() string {
	return fmt.Sprintf("Failed to load %s application", f.app.Name)
}

// Src is the iframe source. Each retry appends a reload counter so the
// browser fetches the app again.
func (f *Frame) Src() string {
	if f.reloads == 0 {
		return f.app.URL
	}
	u, err := url.Parse(f.app.URL)
	if err != nil {
		return f.app.URL
	}
	q := u.Query()
	q.Set("reload", strconv.Itoa(f.reloads))
	u.RawQuery = q.Encode()
	return u.String()
}

// Loaded handles the iframe load event and returns the plan for this load.
// Messages are only included on the first call per load. A MissingKey frame is
// re-checked against acct so a newly added key takes effect.
func (f *Frame) Loaded(acct *account.Account) (Plan, error) {
	if f.state == FrameMissingKey {
		if _, _, err := f.app.Messages(acct); err != nil {
			return Plan{}, err
		}
		f.state = FrameLoading
	}

	plan, err := f.app.PlanFor(acct)
	if err != nil {
		f.state = FrameMissingKey
		return Plan{}, err
	}
	if f.state != FrameLoading {
		plan.Messages, plan.KeyIDs = nil, nil
	}
	plan.URL = f.Src()
	plan.Reload = f.reloads
	plan.FailureText = f.FailureText()
	f.state = FrameReady
	return plan, nil
}

// Failed handles the iframe error event.
func (f *Frame) Failed() {
	if f.state == FrameMissingKey {
		return
	}
	f.state = FrameFailed
}

// Retry reloads the frame. It is a no-op unless the frame failed.
func (f *Frame) Retry() {
	if f.state != FrameFailed {
		return
	}
	f.state = FrameLoading
	f.reloads++
}
