package gesture

import (
	"time"

	"github.com/AaronLay10/OverlayEngine/internal/scene"
)

// Recognizer identifies one discrete recognizer sharing a touch region.
type Recognizer int

const (
	None Recognizer = iota
	SingleTap
	DoubleTap
	TripleTap
	LongPress
)

func (r Recognizer) String() string {
	switch r {
	case SingleTap:
		return "single_tap"
	case DoubleTap:
		return "double_tap"
	case TripleTap:
		return "triple_tap"
	case LongPress:
		return "long_press"
	default:
		return "none"
	}
}

// DefaultLongPress is the hold time that turns a touch into a long press.
const DefaultLongPress = 500 * time.Millisecond

// Arbiter picks the single recognizer that fires for one physical gesture.
// A recognizer is eligible only when every recognizer it depends on failed;
// among eligible recognizers the first in priority order wins.
type Arbiter struct {
	requires map[Recognizer][]Recognizer
	priority []Recognizer
}

// NewArbiter returns the tap chain: the triple-finger tap waits for the
// double-finger tap and the long press to fail, the double-finger tap
// waits for the single tap and the long press.
func NewArbiter() *Arbiter {
	return &Arbiter{
		requires: map[Recognizer][]Recognizer{
			TripleTap: {DoubleTap, LongPress},
			DoubleTap: {SingleTap, LongPress},
		},
		priority: []Recognizer{TripleTap, DoubleTap, LongPress, SingleTap},
	}
}

// Resolve returns the recognizer that fires given the set that matched.
// It returns None when nothing matched.
func (a *Arbiter) Resolve(matched ...Recognizer) Recognizer {
	set := make(map[Recognizer]bool, len(matched))
	for _, r := range matched {
		if r != None {
			set[r] = true
		}
	}
	for _, r := range a.priority {
		if !set[r] {
			continue
		}
		blocked := false
		for _, dep := range a.requires[r] {
			if set[dep] {
				blocked = true
				break
			}
		}
		if !blocked {
			return r
		}
	}
	return None
}

// Touch is one physical touch sequence, reported when the fingers lift.
type Touch struct {
	Fingers int
	Held    time.Duration
	Point   scene.Point
}

// Matched returns the recognizers whose own conditions accept t.
func (t Touch) Matched(longPress time.Duration) []Recognizer {
	var out []Recognizer
	held := t.Held >= longPress
	switch t.Fingers {
	case 1:
		if held {
			out = append(out, LongPress)
		} else {
			out = append(out, SingleTap)
		}
	case 2:
		if !held {
			out = append(out, DoubleTap)
		}
	case 3:
		out = append(out, TripleTap)
	}
	return out
}
