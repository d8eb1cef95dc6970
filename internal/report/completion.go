package report

import "math"

// Summary aggregates section statuses over the declared set.
type Summary struct {
	Completed  int `json:"completed"`
	Draft      int `json:"draft"`
	Processing int `json:"processing"`
	Error      int `json:"error"`
	Total      int `json:"total"`
	Percent    int `json:"percent"`
}

// Tracker computes completion over a fixed declared section set.
type Tracker struct {
	declared []SectionID
}

// NewTracker returns a tracker over ids, or over AllSections when none are given.
func NewTracker(ids ...SectionID) Tracker {
	if len(ids) == 0 {
		ids = AllSections
	}
	declared := make([]SectionID, len(ids))
	copy(declared, ids)
	return Tracker{declared: declared}
}

func (t Tracker) Declared() []SectionID {
	if len(t.declared) == 0 {
		return AllSections
	}
	return t.declared
}

// Summarize counts statuses. Declared sections missing from statuses count as draft.
func (t Tracker) Summarize(statuses map[SectionID]Status) Summary {
	declared := t.Declared()
	s := Summary{Total: len(declared)}
	for _, id := range declared {
		switch statuses[id] {
		case StatusCompleted:
			s.Completed++
		case StatusProcessing:
			s.Processing++
		case StatusError:
			s.Error++
		default:
			s.Draft++
		}
	}
	if s.Total > 0 {
		s.Percent = int(math.Round(float64(s.Completed) * 100 / float64(s.Total)))
	}
	return s
}

func (t Tracker) IsReadyToClose(statuses map[SectionID]Status) bool {
	incomplete, errored := t.Pending(statuses)
	return len(incomplete) == 0 && len(errored) == 0
}

// Pending lists declared sections that are not completed, and those in error.
func (t Tracker) Pending(statuses map[SectionID]Status) (incomplete, errored []SectionID) {
	for _, id := range t.Declared() {
		switch statuses[id] {
		case StatusCompleted:
		case StatusError:
			errored = append(errored, id)
			incomplete = append(incomplete, id)
		default:
			incomplete = append(incomplete, id)
		}
	}
	return incomplete, errored
}
