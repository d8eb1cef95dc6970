package report

import (
	"bytes"
	"encoding/json"
	"sort"
)

type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeChanged ChangeKind = "changed"
)

// SectionChange is one section-level difference between two snapshots.
type SectionChange struct {
	Section SectionID  `json:"section"`
	Kind    ChangeKind `json:"kind"`
}

// Compare lists the sections that differ between from and to, in display order.
// Payloads are compared by canonical JSON, so formatting changes are ignored.
func Compare(from, to Snapshot) []SectionChange {
	var changes []SectionChange
	for _, id := range orderedSectionIDs(from, to) {
		before, inFrom := present(from.Sections, id)
		after, inTo := present(to.Sections, id)
		switch {
		case !inFrom && inTo:
			changes = append(changes, SectionChange{Section: id, Kind: ChangeAdded})
		case inFrom && !inTo:
			changes = append(changes, SectionChange{Section: id, Kind: ChangeRemoved})
		case inFrom && inTo && !samePayload(before, after):
			changes = append(changes, SectionChange{Section: id, Kind: ChangeChanged})
		}
	}
	return changes
}

func present(sections map[SectionID]json.RawMessage, id SectionID) (json.RawMessage, bool) {
	payload, ok := sections[id]
	if !ok || isEmptyPayload(payload) {
		return nil, false
	}
	return payload, true
}

func samePayload(a, b json.RawMessage) bool {
	na, errA := normalizePayload(a)
	nb, errB := normalizePayload(b)
	if errA != nil || errB != nil {
		return bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b))
	}
	return bytes.Equal(na, nb)
}

func orderedSectionIDs(snaps ...Snapshot) []SectionID {
	seen := make(map[SectionID]bool)
	var ids []SectionID
	for _, id := range AllSections {
		seen[id] = true
		ids = append(ids, id)
	}
	var extra []string
	for _, snap := range snaps {
		for id := range snap.Sections {
			if !seen[id] {
				seen[id] = true
				extra = append(extra, string(id))
			}
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		ids = append(ids, SectionID(id))
	}
	return ids
}
