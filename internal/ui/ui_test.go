package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"ecchat/internal/dispatch"
	"ecchat/internal/testutil"
)

func typeLine(t *testing.T, m model, text string) model {
	t.Helper()
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return next.(model)
}

func press(t *testing.T, m model, k tea.KeyMsg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(k)
	return next.(model), cmd
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestHeader(t *testing.T) {
	if got := Header("1.2", "alice", "bob"); got != "ecchat 1.2 : alice > bob" {
		t.Fatalf("header = %q", got)
	}
	if got := Header("1.2", "alice", ""); got != "ecchat 1.2 : alice" {
		t.Fatalf("header without other = %q", got)
	}
}

func TestFormatLine(t *testing.T) {
	at := time.Date(2024, 1, 2, 9, 5, 7, 0, time.UTC)
	cases := []struct {
		role dispatch.Role
		want string
	}{
		{dispatch.RoleSystem, "[09:05:07] ecchat | hi"},
		{dispatch.RoleSelf, "[09:05:07] alice > hi"},
		{dispatch.RolePeer, "[09:05:07] bob < hi"},
	}
	for _, tc := range cases {
		if got := FormatLine(at, tc.role, "alice", "bob", "hi"); got != tc.want {
			t.Fatalf("role %d: got %q want %q", tc.role, got, tc.want)
		}
	}
	if got := FormatLine(at, dispatch.RolePeer, "alice", "", "hi"); got != "[09:05:07] peer < hi" {
		t.Fatalf("unnamed peer: %q", got)
	}
}

func TestEnterSubmitsLine(t *testing.T) {
	var got []string
	m := newModel("1", "alice", "bob", func(s string) { got = append(got, s) })
	m = typeLine(t, m, "hello")
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if isQuit(cmd) {
		t.Fatal("enter should not quit")
	}
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("submitted %v", got)
	}
	if m.input.Value() != "" {
		t.Fatalf("input not reset: %q", m.input.Value())
	}

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if len(got) != 1 {
		t.Fatalf("blank line submitted: %v", got)
	}
}

func TestQuitNeedsConfirmation(t *testing.T) {
	var got []string
	m := newModel("1", "alice", "bob", func(s string) { got = append(got, s) })
	m = typeLine(t, m, "/quit")
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if !m.confirming || len(got) != 0 {
		t.Fatalf("confirming=%v submitted=%v", m.confirming, got)
	}
	if !strings.Contains(m.View(), "quit ecchat? (y/n)") {
		t.Fatal("prompt not shown")
	}

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	if m.confirming || isQuit(cmd) {
		t.Fatal("n should dismiss the prompt")
	}

	m = typeLine(t, m, "/exit")
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	_, cmd = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")})
	if !isQuit(cmd) {
		t.Fatal("y should quit")
	}
	if len(got) != 1 || got[0] != "/exit" {
		t.Fatalf("submitted %v", got)
	}
}

func TestEscapeAsksToQuit(t *testing.T) {
	var got []string
	m := newModel("1", "alice", "", func(s string) { got = append(got, s) })
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if !m.confirming {
		t.Fatal("esc should ask")
	}
	_, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")})
	if !isQuit(cmd) || len(got) != 0 {
		t.Fatalf("quit=%v submitted=%v", isQuit(cmd), got)
	}
}

func TestTranscriptAndStatus(t *testing.T) {
	m := newModel("1", "alice", "bob", nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 60, Height: 10})
	m = next.(model)
	at := time.Date(2024, 1, 2, 9, 5, 7, 0, time.UTC)
	next, _ = m.Update(appendMsg{role: dispatch.RolePeer, text: "hi", at: at})
	m = next.(model)
	next, _ = m.Update(statusMsg("ecc 10/2"))
	m = next.(model)

	if len(m.lines) != 1 || !strings.Contains(m.lines[0], "bob < hi") {
		t.Fatalf("lines = %q", m.lines)
	}
	view := m.View()
	for _, want := range []string{"ecchat 1 : alice > bob", "bob < hi", "ecc 10/2"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestForwardKeepsOrder(t *testing.T) {
	term := &Terminal{
		lines: make(chan string),
		done:  make(chan struct{}),
		wake:  make(chan struct{}, 1),
	}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		term.forward()
	}()
	for _, s := range []string{"a", "b", "c"} {
		term.enqueue(s)
	}
	var got []string
	testutil.WithTimeout(t, testutil.DefaultWaitTimeout, func() {
		for len(got) < 3 {
			got = append(got, <-term.lines)
		}
	})
	if strings.Join(got, "") != "abc" {
		t.Fatalf("order = %v", got)
	}
	close(term.done)
	<-stopped
}
