package session

import (
	"time"

	"github.com/bryanchriswhite/FocusMirror/internal/imaging"
	"github.com/bryanchriswhite/FocusMirror/internal/platform"
)

// Status is a snapshot of a session for the status API.
type Status struct {
	Active    bool            `json:"active"`
	Source    platform.Handle `json:"source,omitempty"`
	Rect      platform.Rect   `json:"rect"`
	FrameRate uint32          `json:"frame_rate"`
	Mode      string          `json:"mode,omitempty"`
	Interval  string          `json:"interval,omitempty"`
	Effects   []string        `json:"effects,omitempty"`
	NoDisturb bool            `json:"no_disturb"`
	Started   time.Time       `json:"started,omitempty"`
	Captures  uint64          `json:"captures"`
	Presented uint64          `json:"presented"`
	Frames    imaging.Stats   `json:"frames"`
}

// Status describes s.
func (s *Session) Status() Status {
	st := Status{
		Active:    isCurrent(s),
		Source:    s.opts.Source,
		Rect:      s.rect,
		FrameRate: s.opts.FrameRate,
		NoDisturb: s.opts.NoDisturb,
		Started:   s.started,
	}
	if s.pump != nil {
		st.Mode = s.pump.Mode.String()
		if s.pump.Interval > 0 {
			st.Interval = s.pump.Interval.String()
		}
		st.Captures = s.pump.Captures()
	}
	if s.pipeline != nil {
		st.Effects = s.pipeline.EffectNames()
		st.Presented = s.pipeline.Frames()
	}
	if s.bridge != nil {
		st.Frames = s.bridge.Stats()
	}
	return st
}

// CurrentStatus describes the live session, or reports inactive.
func CurrentStatus() Status {
	if s := Current(); s != nil {
		return s.Status()
	}
	return Status{}
}
