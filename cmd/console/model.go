package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/etofiasko/tg-bot-v2/internal/domain"
	"github.com/etofiasko/tg-bot-v2/internal/wizard"
)

const maxLines = 200

// outbound is a frame sent to the server.
type outbound struct {
	Text     string         `json:"text,omitempty"`
	Callback string         `json:"callback,omitempty"`
	Variant  wizard.Variant `json:"variant,omitempty"`
}

// frameMsg is a frame received from the server.
type frameMsg struct {
	wizard.Result
	Type  string `json:"type,omitempty"`
	Error string `json:"error,omitempty"`
}

// closedMsg reports that the connection ended.
type closedMsg struct{ err error }

// sentMsg reports a failed write.
type sentMsg struct{ err error }

// chatModel is a bubbletea model for the report dialogue.
type chatModel struct {
	input   textinput.Model
	lines   []string
	buttons []wizard.Button
	variant wizard.Variant
	outDir  string
	send    func(outbound) tea.Cmd
	closed  bool
}

func newChatModel(variant wizard.Variant, outDir string, send func(outbound) tea.Cmd) chatModel {
	ti := textinput.New()
	ti.Placeholder = "сообщение, #N для кнопки, /start"
	ti.CharLimit = 512
	ti.Focus()
	return chatModel{
		input:   ti,
		variant: variant,
		outDir:  outDir,
		send:    send,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.send(outbound{Text: "/start", Variant: m.variant}))
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			raw := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if raw == "" || m.closed {
				return m, nil
			}
			frame, label := m.resolve(raw)
			m.addLine("> " + label)
			return m, m.send(frame)
		}

	case frameMsg:
		m.apply(msg)
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.addLine("! не удалось отправить: " + msg.err.Error())
		}
		return m, nil

	case closedMsg:
		m.closed = true
		if msg.err != nil {
			m.addLine("! соединение закрыто: " + msg.err.Error())
		} else {
			m.addLine("! соединение закрыто")
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// resolve turns typed input into a frame. "#N" presses the N-th button.
func (m chatModel) resolve(raw string) (outbound, string) {
	if n, err := strconv.Atoi(strings.TrimPrefix(raw, "#")); err == nil && strings.HasPrefix(raw, "#") {
		if n >= 1 && n <= len(m.buttons) {
			b := m.buttons[n-1]
			if b.Callback != "" {
				return outbound{Callback: b.Callback, Variant: m.variant}, b.Text
			}
			return outbound{Text: b.Text, Variant: m.variant}, b.Text
		}
	}
	return outbound{Text: raw, Variant: m.variant}, raw
}

func (m *chatModel) apply(f frameMsg) {
	switch {
	case f.Type == "pong":
		return
	case f.Error != "":
		m.addLine("! " + f.Error)
		return
	}

	m.buttons = nil
	for _, r := range f.Replies {
		if r.Text != "" {
			m.addLine(r.Text)
		}
		if r.Document != nil {
			m.addLine(m.save(r.Document))
		}
		if r.Keyboard != nil {
			for _, row := range r.Keyboard.Rows {
				m.buttons = append(m.buttons, row...)
			}
		}
	}
}

func (m *chatModel) save(doc *domain.Document) string {
	path := filepath.Join(m.outDir, filepath.Base(doc.Name))
	if err := os.WriteFile(path, doc.Data, 0o644); err != nil {
		return fmt.Sprintf("! не удалось сохранить %s: %v", doc.Name, err)
	}
	return fmt.Sprintf("[файл сохранён: %s, %d байт]", path, len(doc.Data))
}

func (m *chatModel) addLine(s string) {
	m.lines = append(m.lines, s)
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
}

func (m chatModel) View() string {
	var b strings.Builder
	for _, l := range m.lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	if len(m.buttons) > 0 {
		b.WriteString("\n")
		for i, btn := range m.buttons {
			fmt.Fprintf(&b, "  #%d %s\n", i+1, btn.Text)
		}
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	return b.String()
}
