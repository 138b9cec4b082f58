// Package estimate infers a vehicle's direction relative to a target station
// and its minutes-to-arrival from the trip's scheduled stop sequence. It is
// deliberately a heuristic: bounded inaccuracy is accepted in exchange for
// not needing continuous GPS trajectory history. It never fails a cycle;
// anything unparsable degrades confidence instead.
package estimate

import (
	"sort"
	"time"

	"nearbus/internal/transit"
)

// Direction of travel relative to the target station.
type Direction string

const (
	Arriving  Direction = "arriving"
	Departing Direction = "departing"
	Unknown   Direction = "unknown"
)

// Confidence grades the reliability of an estimate.
type Confidence string

const (
	High   Confidence = "high"
	Medium Confidence = "medium"
	Low    Confidence = "low"
)

// DefaultMinutesPerStop is the assumed travel time between adjacent stops.
// Empirically tuned, hence configurable rather than fixed.
const DefaultMinutesPerStop = 2

// atStationWindow is how long after the scheduled arrival a vehicle is still
// assumed to be at the station rather than past it.
const atStationWindow = 10 * time.Minute

// Estimate is the stateless output of one vehicle/station evaluation.
type Estimate struct {
	Direction  Direction  `json:"direction"`
	ETAMinutes int        `json:"etaMinutes"`
	Confidence Confidence `json:"confidence"`
}

func unknown() Estimate {
	return Estimate{Direction: Unknown, ETAMinutes: 0, Confidence: Low}
}

// Arrival estimates whether the vehicle is approaching or has passed the
// target station, and in how many minutes it arrives. minutesPerStop <= 0
// uses DefaultMinutesPerStop. stopTimes may be the full schedule; only the
// vehicle's trip entries are considered.
func Arrival(v transit.Vehicle, stationID string, stopTimes []transit.StopTime, now time.Time, minutesPerStop int) Estimate {
	if minutesPerStop <= 0 {
		minutesPerStop = DefaultMinutesPerStop
	}
	if v.TripID == "" {
		return unknown()
	}

	seq := tripSequence(v.TripID, stopTimes)
	if len(seq) == 0 {
		return unknown()
	}

	targetIdx := -1
	for i, st := range seq {
		if st.StopID == stationID {
			targetIdx = i
			break
		}
	}
	if targetIdx < 0 {
		return unknown()
	}

	currentIdx, schedKnown := estimateCurrentIndex(seq, targetIdx, now, minutesPerStop)
	if currentIdx < 0 {
		currentIdx = 0
	}
	if currentIdx > len(seq)-1 {
		currentIdx = len(seq) - 1
	}

	switch {
	case currentIdx < targetIdx:
		remaining := targetIdx - currentIdx
		eta := remaining*minutesPerStop - minutesSince(v.Timestamp, now)
		if eta < 1 {
			eta = 1
		}
		conf := Low
		if schedKnown {
			conf = Medium
			if remaining <= 3 {
				conf = High
			}
		}
		return Estimate{Direction: Arriving, ETAMinutes: eta, Confidence: conf}

	case currentIdx > targetIdx:
		conf := Low
		if schedKnown {
			conf = Medium
		}
		return Estimate{Direction: Departing, ETAMinutes: (currentIdx - targetIdx) * minutesPerStop, Confidence: conf}

	default:
		conf := Low
		if schedKnown {
			// At the station with a schedule to back it: the strongest
			// claim the heuristic can make.
			conf = High
		}
		return Estimate{Direction: Arriving, ETAMinutes: 0, Confidence: conf}
	}
}

// tripSequence returns the trip's stop times ordered by sequence.
func tripSequence(tripID string, stopTimes []transit.StopTime) []transit.StopTime {
	var seq []transit.StopTime
	for _, st := range stopTimes {
		if st.TripID == tripID {
			seq = append(seq, st)
		}
	}
	sort.Slice(seq, func(i, j int) bool { return seq[i].Sequence < seq[j].Sequence })
	return seq
}

// estimateCurrentIndex places the vehicle in the stop sequence. With a
// scheduled arrival at the target it back-computes from the clock at
// minutesPerStop per intervening stop; without one it assumes the sequence
// midpoint. The bool reports whether a schedule was available.
func estimateCurrentIndex(seq []transit.StopTime, targetIdx int, now time.Time, minutesPerStop int) (int, bool) {
	sched, err := transit.ParseServiceTime(seq[targetIdx].Arrival, now)
	if err != nil {
		// Unparsable time is a recoverable fallback, not a failure.
		return len(seq) / 2, false
	}

	delta := sched.Sub(now)
	switch {
	case delta > 0:
		stopsAway := int(delta.Minutes()) / minutesPerStop
		return targetIdx - stopsAway, true
	case delta >= -atStationWindow:
		return targetIdx, true
	default:
		past := int((-delta - atStationWindow).Minutes())/minutesPerStop + 1
		return targetIdx + past, true
	}
}

func minutesSince(t, now time.Time) int {
	if t.IsZero() {
		return 0
	}
	m := int(now.Sub(t).Minutes())
	if m < 0 {
		return 0
	}
	return m
}
