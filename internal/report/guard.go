package report

import (
	"context"
	"fmt"
	"sync"

	"reportdesk/api/internal/metrics"
)

// Choice is the user's resolution of an unsaved-changes prompt.
type Choice int

const (
	ChoiceCancel Choice = iota
	ChoiceDiscard
	ChoiceSave
)

// ParseChoice maps "discard", "save" and "cancel" to a Choice.
func ParseChoice(raw string) (Choice, error) {
	switch raw {
	case "discard":
		return ChoiceDiscard, nil
	case "save":
		return ChoiceSave, nil
	case "cancel", "":
		return ChoiceCancel, nil
	default:
		return ChoiceCancel, fmt.Errorf("unknown choice %q", raw)
	}
}

// SwitchPrompt describes a blocked section switch.
type SwitchPrompt struct {
	From SectionID
	To   SectionID
}

// Resolver decides what happens to a dirty section when the user navigates away.
type Resolver func(SwitchPrompt) Choice

// ExitHook is called by the host before the process exits.
type ExitHook func() error

// Guard intercepts section switches and exit while edits are unsaved.
type Guard struct {
	editor *Editor

	mu     sync.Mutex
	active SectionID
}

func newGuard(editor *Editor) *Guard {
	return &Guard{editor: editor}
}

// Active returns the section the user is currently on.
func (g *Guard) Active() SectionID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Dirty reports whether the active section has unsaved edits.
func (g *Guard) Dirty() bool {
	active := g.Active()
	return active != "" && g.editor.isDirty(active)
}

// SwitchTo moves the active section to target. When the active section is
// dirty, resolve chooses between discarding, saving and staying. It returns
// whether the switch happened.
func (g *Guard) SwitchTo(ctx context.Context, target SectionID, resolve Resolver) (bool, error) {
	if !target.Valid() {
		return false, fmt.Errorf("switch to %q: %w", target, ErrUnknownSection)
	}
	from := g.Active()
	if from == "" || from == target || !g.editor.isDirty(from) {
		g.setActive(target)
		return true, nil
	}
	if resolve == nil {
		metrics.GuardBlocks.WithLabelValues("switch").Inc()
		return false, &UnsavedChangesError{Sections: []SectionID{from}}
	}

	switch resolve(SwitchPrompt{From: from, To: target}) {
	case ChoiceDiscard:
		g.editor.discard(from)
	case ChoiceSave:
		if err := g.editor.scheduler.FlushNow(ctx, from); err != nil {
			metrics.GuardBlocks.WithLabelValues("switch").Inc()
			return false, err
		}
	default:
		return false, nil
	}
	g.setActive(target)
	return true, nil
}

// BeforeExit reports every dirty section of the document. It never blocks.
func (g *Guard) BeforeExit() error {
	dirty := g.editor.DirtySections()
	if len(dirty) == 0 {
		return nil
	}
	metrics.GuardBlocks.WithLabelValues("exit").Inc()
	return &UnsavedChangesError{Sections: dirty}
}

func (g *Guard) ExitHook() ExitHook {
	return g.BeforeExit
}

func (g *Guard) setActive(id SectionID) {
	g.mu.Lock()
	g.active = id
	g.mu.Unlock()
}
