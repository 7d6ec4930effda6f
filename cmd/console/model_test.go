package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/etofiasko/tg-bot-v2/internal/domain"
	"github.com/etofiasko/tg-bot-v2/internal/wizard"
)

func newTestModel(t *testing.T) (chatModel, *[]outbound) {
	t.Helper()
	var sent []outbound
	m := newChatModel(wizard.VariantClassic, t.TempDir(), func(f outbound) tea.Cmd {
		sent = append(sent, f)
		return nil
	})
	return m, &sent
}

func typeLine(m chatModel, text string) chatModel {
	m.input.SetValue(text)
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(chatModel)
}

func TestFrameRendersButtons(t *testing.T) {
	m, sent := newTestModel(t)

	next, _ := m.Update(frameMsg{Result: wizard.Result{Replies: []wizard.Reply{{
		Text: "Вы выбрали:\nГод: 2023",
		Keyboard: &wizard.Keyboard{Inline: true, Rows: [][]wizard.Button{{
			{Text: "Подтвердить выбор", Callback: wizard.CallbackConfirm},
			{Text: "Отмена", Callback: wizard.CallbackCancel},
		}}},
	}}}})
	m = next.(chatModel)

	view := m.View()
	if !strings.Contains(view, "#1 Подтвердить выбор") || !strings.Contains(view, "#2 Отмена") {
		t.Fatalf("buttons not rendered:\n%s", view)
	}

	m = typeLine(m, "#1")
	if len(*sent) != 1 || (*sent)[0].Callback != wizard.CallbackConfirm || (*sent)[0].Variant != wizard.VariantClassic {
		t.Fatalf("expected confirm callback, got %+v", *sent)
	}

	m = typeLine(m, "#9")
	if (*sent)[1].Text != "#9" {
		t.Fatalf("out of range button should be sent as text, got %+v", (*sent)[1])
	}
	if m.input.Value() != "" {
		t.Fatal("input not cleared")
	}
}

func TestReplyKeyboardButtonsSendText(t *testing.T) {
	m, sent := newTestModel(t)
	next, _ := m.Update(frameMsg{Result: wizard.Result{Replies: []wizard.Reply{{
		Text:     "Выберите год:",
		Keyboard: &wizard.Keyboard{Rows: [][]wizard.Button{{{Text: "Начать заново"}}, {{Text: "2023"}}}},
	}}}})
	m = next.(chatModel)

	typeLine(m, "#2")
	if (*sent)[0].Text != "2023" || (*sent)[0].Callback != "" {
		t.Fatalf("expected text 2023, got %+v", (*sent)[0])
	}
}

func TestDocumentIsSaved(t *testing.T) {
	m, _ := newTestModel(t)
	next, _ := m.Update(frameMsg{Result: wizard.Result{Replies: []wizard.Reply{
		{Document: &domain.Document{Name: "../Китай_2023.docx", MIME: domain.MIMEDocx, Data: []byte("docx")}},
	}}})
	m = next.(chatModel)

	data, err := os.ReadFile(filepath.Join(m.outDir, "Китай_2023.docx"))
	if err != nil || string(data) != "docx" {
		t.Fatalf("document not saved inside out dir: %v", err)
	}
}

func TestErrorsAndClose(t *testing.T) {
	m, sent := newTestModel(t)

	next, _ := m.Update(frameMsg{Error: "turn_in_progress"})
	m = next.(chatModel)
	next, _ = m.Update(closedMsg{})
	m = next.(chatModel)

	view := m.View()
	if !strings.Contains(view, "! turn_in_progress") || !strings.Contains(view, "соединение закрыто") {
		t.Fatalf("unexpected view:\n%s", view)
	}

	typeLine(m, "Китай")
	if len(*sent) != 0 {
		t.Fatal("nothing should be sent after close")
	}
}
