package core

import (
	"sort"
	"testing"
)

func TestModerationSets(t *testing.T) {
	m := NewModeration()

	m.Block("u1")
	m.Mute("u2")
	if !m.IsBlocked("u1") || !m.IsMuted("u2") {
		t.Fatal("membership predicates disagree with mutations")
	}
	if m.IsBlocked("u2") || m.IsMuted("u1") {
		t.Fatal("sets bleed into each other")
	}

	m.Unblock("u1")
	m.Unmute("u2")
	if m.IsBlocked("u1") || m.IsMuted("u2") {
		t.Fatal("unblock/unmute did not take")
	}
}

func TestModerationClearOnlyEmptiesPins(t *testing.T) {
	m := NewModeration()
	m.Block("u1")
	m.Mute("u2")
	m.Pin("m1", true)
	m.Pin("m2", true)

	m.Clear()

	if m.IsPinned("m1") || m.IsPinned("m2") {
		t.Fatal("pins survived clear")
	}
	if !m.IsBlocked("u1") || !m.IsMuted("u2") {
		t.Fatal("deny-lists must persist across a chat clear")
	}
}

func TestModerationPinToggle(t *testing.T) {
	m := NewModeration()
	m.Pin("m1", true)
	if !m.IsPinned("m1") {
		t.Fatal("pin not recorded")
	}
	m.Pin("m1", false)
	if m.IsPinned("m1") {
		t.Fatal("unpin not recorded")
	}
}

func TestModerationExportRestoreRoundTrip(t *testing.T) {
	m := NewModeration()
	m.Block("u1")
	m.Block("u2")
	m.Mute("u3")
	m.Pin("m1", true)

	blocked, muted, pinned := m.Export()
	sort.Strings(blocked)
	if len(blocked) != 2 || blocked[0] != "u1" || blocked[1] != "u2" {
		t.Fatalf("unexpected blocked export: %v", blocked)
	}

	restored := NewModeration()
	restored.Restore(blocked, muted, pinned)
	if !restored.IsBlocked("u1") || !restored.IsMuted("u3") || !restored.IsPinned("m1") {
		t.Fatal("restore lost entries")
	}
}
