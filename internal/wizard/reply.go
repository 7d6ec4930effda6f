package wizard

import "github.com/etofiasko/tg-bot-v2/internal/domain"

// Event is one inbound user action: a typed message or a button press.
type Event struct {
	UserID   int64   `json:"user_id"`
	Handle   string  `json:"handle,omitempty"`
	Variant  Variant `json:"variant,omitempty"`
	Text     string  `json:"text,omitempty"`
	Callback string  `json:"callback,omitempty"`
}

// Button is a keyboard key. Inline buttons carry callback data.
type Button struct {
	Text     string `json:"text"`
	Callback string `json:"callback,omitempty"`
}

// Keyboard is the set of buttons offered with a reply.
type Keyboard struct {
	Inline bool       `json:"inline,omitempty"`
	Rows   [][]Button `json:"rows"`
}

// Reply is one outbound message.
type Reply struct {
	Text     string           `json:"text,omitempty"`
	Keyboard *Keyboard        `json:"keyboard,omitempty"`
	Document *domain.Document `json:"document,omitempty"`
}

// Result is the outcome of one turn.
type Result struct {
	Replies []Reply `json:"replies"`
	State   StepID  `json:"state,omitempty"`
	Ended   bool    `json:"ended"`
}

func textReply(text string) Reply {
	return Reply{Text: text}
}

func ended(replies ...Reply) *Result {
	return &Result{Replies: replies, State: StepDone, Ended: true}
}

// replyKeyboard lays out one button per row, with the restart button first.
func replyKeyboard(extra []string, options []string) *Keyboard {
	kb := &Keyboard{Rows: [][]Button{{{Text: RestartLabel}}}}
	for _, o := range extra {
		kb.Rows = append(kb.Rows, []Button{{Text: o}})
	}
	for _, o := range options {
		kb.Rows = append(kb.Rows, []Button{{Text: o}})
	}
	return kb
}

// InternalFailure is the reply transports send when a turn could not be processed.
func InternalFailure() *Result {
	return ended(textReply(msgFailure))
}
