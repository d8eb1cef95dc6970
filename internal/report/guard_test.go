package report

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func dirtyEditor(t *testing.T, save SaveFunc) (*Editor, *memStore) {
	t.Helper()
	store := newMemStore()
	e := openEditor(t, store, "rep_1")
	_, err := e.Mount(SectionExecutive, save)
	require.NoError(t, err)
	_, err = e.Mount(SectionDetection, nil)
	require.NoError(t, err)

	switched, err := e.SwitchTo(context.Background(), SectionExecutive, nil)
	require.NoError(t, err)
	require.True(t, switched)
	require.NoError(t, e.Schedule(SectionExecutive, payloadFor(SectionExecutive), time.Hour))
	require.True(t, e.Guard().Dirty())
	return e, store
}

func always(choice Choice) Resolver {
	return func(SwitchPrompt) Choice { return choice }
}

func TestSwitchFromCleanSection(t *testing.T) {
	e := openEditor(t, newMemStore(), "rep_1")
	switched, err := e.SwitchTo(context.Background(), SectionClients, nil)
	require.NoError(t, err)
	require.True(t, switched)
	require.Equal(t, SectionClients, e.Guard().Active())

	_, err = e.SwitchTo(context.Background(), SectionID("nope"), nil)
	require.ErrorIs(t, err, ErrUnknownSection)
}

func TestSwitchWithoutResolverIsBlocked(t *testing.T) {
	e, _ := dirtyEditor(t, nil)

	switched, err := e.SwitchTo(context.Background(), SectionDetection, nil)
	var unsaved *UnsavedChangesError
	require.ErrorAs(t, err, &unsaved)
	require.False(t, switched)
	require.Equal(t, []SectionID{SectionExecutive}, unsaved.Sections)
	require.Equal(t, SectionExecutive, e.Guard().Active())
}

func TestSwitchCancelStays(t *testing.T) {
	e, store := dirtyEditor(t, nil)

	var prompt SwitchPrompt
	switched, err := e.SwitchTo(context.Background(), SectionDetection, func(p SwitchPrompt) Choice {
		prompt = p
		return ChoiceCancel
	})
	require.NoError(t, err)
	require.False(t, switched)
	require.Equal(t, SwitchPrompt{From: SectionExecutive, To: SectionDetection}, prompt)
	require.True(t, e.Guard().Dirty())
	require.Zero(t, store.putCount())
}

func TestSwitchDiscardKeepsPayloadInMemory(t *testing.T) {
	e, store := dirtyEditor(t, nil)

	switched, err := e.SwitchTo(context.Background(), SectionDetection, always(ChoiceDiscard))
	require.NoError(t, err)
	require.True(t, switched)
	require.Zero(t, store.putCount())

	sec, _ := e.Section(SectionExecutive)
	require.False(t, sec.Dirty())
	require.JSONEq(t, string(payloadFor(SectionExecutive)), string(sec.Payload()))
	require.NoError(t, e.BeforeExit())
}

func TestSwitchSavePersists(t *testing.T) {
	e, store := dirtyEditor(t, nil)

	switched, err := e.SwitchTo(context.Background(), SectionDetection, always(ChoiceSave))
	require.NoError(t, err)
	require.True(t, switched)
	require.Equal(t, 1, store.putCount())
	require.False(t, e.Guard().Dirty())
	require.Equal(t, SectionDetection, e.Guard().Active())
}

func TestSwitchSaveFailureStaysBlocked(t *testing.T) {
	e, _ := dirtyEditor(t, func(context.Context, SectionID, json.RawMessage) error { return errBackend })

	switched, err := e.SwitchTo(context.Background(), SectionDetection, always(ChoiceSave))
	require.ErrorIs(t, err, errBackend)
	require.False(t, switched)
	require.Equal(t, SectionExecutive, e.Guard().Active())
	require.Equal(t, StatusError, e.Statuses()[SectionExecutive])
}

func TestBeforeExitReportsDirtySections(t *testing.T) {
	e, _ := dirtyEditor(t, nil)
	require.NoError(t, e.Schedule(SectionDetection, payloadFor(SectionDetection), time.Hour))

	err := e.Guard().ExitHook()()
	var unsaved *UnsavedChangesError
	require.ErrorAs(t, err, &unsaved)
	require.Equal(t, 2, unsaved.Count())

	_, err = e.SaveAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.BeforeExit())
}

func TestParseChoice(t *testing.T) {
	for raw, want := range map[string]Choice{"save": ChoiceSave, "discard": ChoiceDiscard, "cancel": ChoiceCancel} {
		got, err := ParseChoice(raw)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseChoice("maybe")
	require.Error(t, err)
}
