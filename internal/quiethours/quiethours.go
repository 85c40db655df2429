// Package quiethours decides whether an owner's local quiet window holds back
// a send and when the window next ends.
package quiethours

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/sms-sequencer/internal/model"
)

var ErrInvalidClock = errors.New("invalid HH:mm clock value")

// Window is a parsed, enabled quiet-hours setting.
type Window struct {
	Start int // minutes of day
	End   int // minutes of day
	Loc   *time.Location
}

// Parse validates s. A nil or disabled setting yields ok=false and no error.
func Parse(s *model.QuietHoursSetting) (w Window, ok bool, err error) {
	if s == nil || !s.Enabled {
		return Window{}, false, nil
	}

	start, err := parseClock(s.Start)
	if err != nil {
		return Window{}, false, fmt.Errorf("quiet hours start %q: %w", s.Start, err)
	}
	end, err := parseClock(s.End)
	if err != nil {
		return Window{}, false, fmt.Errorf("quiet hours end %q: %w", s.End, err)
	}

	loc := time.UTC
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return Window{}, false, fmt.Errorf("quiet hours timezone %q: %w", tz, err)
		}
	}

	return Window{Start: start, End: end, Loc: loc}, true, nil
}

// Contains reports whether at falls inside the window.
func (w Window) Contains(at time.Time) bool {
	local := at.In(w.Loc)
	cur := local.Hour()*60 + local.Minute()

	if w.Start <= w.End {
		return w.Start <= cur && cur < w.End
	}
	// wraps midnight
	return cur >= w.Start || cur < w.End
}

// EndAfter returns the first wall-clock occurrence of End strictly after at.
func (w Window) EndAfter(at time.Time) time.Time {
	local := at.In(w.Loc)
	y, m, d := local.Date()

	end := time.Date(y, m, d, w.End/60, w.End%60, 0, 0, w.Loc)
	if end.After(at) {
		return end
	}
	if later, ok := w.repeated(end); ok && later.After(at) {
		return later
	}
	return time.Date(y, m, d+1, w.End/60, w.End%60, 0, 0, w.Loc)
}

// repeated returns the second occurrence of the wall clock of end when a
// fall-back transition makes it ambiguous. time.Date yields the first.
func (w Window) repeated(end time.Time) (time.Time, bool) {
	_, before := end.Zone()
	_, after := end.Add(2 * time.Hour).Zone()
	if after >= before {
		return time.Time{}, false
	}

	later := end.Add(time.Duration(before-after) * time.Second)
	local := later.In(w.Loc)
	if local.Hour()*60+local.Minute() != w.End {
		return time.Time{}, false
	}
	return later, true
}

// IsSuppressed reports whether a send at instant at must be held back.
// Absent, disabled or malformed settings never suppress.
func IsSuppressed(s *model.QuietHoursSetting, at time.Time) bool {
	w, ok, err := Parse(s)
	if err != nil || !ok {
		return false
	}
	return w.Contains(at)
}

// NextAllowed returns the next instant at which the window ends. When the
// setting cannot suppress, at itself is returned.
func NextAllowed(s *model.QuietHoursSetting, at time.Time) time.Time {
	w, ok, err := Parse(s)
	if err != nil || !ok {
		return at
	}
	return w.EndAfter(at)
}

func parseClock(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	hh, mm, found := strings.Cut(raw, ":")
	if !found {
		return 0, ErrInvalidClock
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, ErrInvalidClock
	}
	// tolerate "HH:mm:ss" as stored by TIME columns
	if before, _, cut := strings.Cut(mm, ":"); cut {
		mm = before
	}
	mi, err := strconv.Atoi(mm)
	if err != nil || mi < 0 || mi > 59 {
		return 0, ErrInvalidClock
	}
	return h*60 + mi, nil
}
