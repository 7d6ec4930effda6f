// Package wizard runs the report dialogue: a per-user state machine driven by
// data-defined flows, with validation rules, an in-memory session store and
// the final hand-off to the document engine.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/etofiasko/tg-bot-v2/internal/access"
	"github.com/etofiasko/tg-bot-v2/internal/backend"
	"github.com/etofiasko/tg-bot-v2/internal/catalog"
	"github.com/etofiasko/tg-bot-v2/internal/domain"
	"github.com/etofiasko/tg-bot-v2/internal/engine"
	"github.com/etofiasko/tg-bot-v2/internal/shared"
)

// Users registers users and reads their role.
type Users interface {
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	RegisterUser(ctx context.Context, userID int64, handle string) (*domain.User, error)
}

// History records delivered reports.
type History interface {
	RecordHistory(ctx context.Context, entry *domain.HistoryEntry) error
}

// Resolver resolves the catalog and document engine of the backend bound to ctx.
type Resolver interface {
	Catalog(ctx context.Context) (catalog.Catalog, error)
	Engine(ctx context.Context) (engine.Engine, error)
	Invalidate(id backend.ID) error
}

// Notifier delivers results produced outside of a turn.
type Notifier interface {
	Notify(ctx context.Context, userID int64, res *Result) error
}

// Config tunes the wizard.
type Config struct {
	Flows             Flows
	DefaultVariant    Variant
	GenerationTimeout time.Duration
	Retry             shared.RetryPolicy
}

// Engine is the dialogue state machine. It assumes at most one in-flight
// turn per user; callers serialize a user's events.
type Engine struct {
	cfg      Config
	sessions *Store
	users    Users
	history  History
	resolver Resolver
	access   *access.Controller
	logger   *slog.Logger

	notifier Notifier
	pending  sync.WaitGroup
	now      func() time.Time
}

// New creates a wizard engine.
func New(cfg Config, sessions *Store, users Users, history History, resolver Resolver, ctrl *access.Controller, logger *slog.Logger) *Engine {
	if cfg.Flows == nil {
		cfg.Flows = DefaultFlows()
	}
	if cfg.DefaultVariant == "" {
		cfg.DefaultVariant = VariantExtended
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = shared.DefaultRetryPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		sessions: sessions,
		users:    users,
		history:  history,
		resolver: resolver,
		access:   ctrl,
		logger:   logger,
		now:      time.Now,
	}
}

// SetNotifier switches finalize to background generation delivered through n.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Sessions exposes the session store.
func (e *Engine) Sessions() *Store {
	return e.sessions
}

// Wait blocks until background generations finish.
func (e *Engine) Wait() {
	e.pending.Wait()
}

func (e *Engine) flow(v Variant) (*Flow, error) {
	f, ok := e.cfg.Flows[v]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, v)
	}
	return f, nil
}

// turn carries one event through the state machine.
type turn struct {
	ev    Event
	input string
	flow  *Flow
	sess  *Session
}

// HandleEvent processes one inbound event for ev.UserID and returns the
// replies to send. Validation problems are replies, not errors; an error
// means the turn could not be processed at all.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) (*Result, error) {
	if ev.UserID == 0 {
		return nil, fmt.Errorf("handle event: missing user id")
	}

	if cmd, arg, ok := parseCommand(ev.Text); ok && ev.Callback == "" {
		if res, handled, err := e.command(ctx, ev, cmd, arg); handled {
			return res, err
		}
	}

	input := strings.TrimSpace(ev.Text)
	if ev.Callback != "" {
		input = ev.Callback
	}

	sess, ok := e.sessions.Get(ev.UserID)
	if IsRestart(input) {
		variant := e.variantFor(ev)
		if ok {
			variant = sess.Variant
		}
		return e.enter(ctx, ev, variant)
	}
	if !ok {
		return &Result{Replies: []Reply{textReply(msgStartHint)}, Ended: true}, nil
	}

	flow, err := e.flow(sess.Variant)
	if err != nil {
		e.sessions.Clear(ev.UserID)
		return nil, err
	}

	t := &turn{ev: ev, input: input, flow: flow, sess: sess}
	return backend.WithBackend(ctx, flow.Backend, func(ctx context.Context) (*Result, error) {
		return e.step(ctx, t)
	})
}

func (e *Engine) variantFor(ev Event) Variant {
	if ev.Variant != "" {
		return ev.Variant
	}
	return e.cfg.DefaultVariant
}

func parseCommand(text string) (cmd, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	cmd, arg, _ = strings.Cut(text, " ")
	// Commands may be addressed as /start@botname.
	cmd, _, _ = strings.Cut(strings.ToLower(cmd), "@")
	return cmd, strings.TrimSpace(arg), true
}

func (e *Engine) command(ctx context.Context, ev Event, cmd, arg string) (*Result, bool, error) {
	switch cmd {
	case "/start":
		res, err := e.enter(ctx, ev, e.variantFor(ev))
		return res, true, err
	case "/start_new":
		res, err := e.enter(ctx, ev, VariantExtended)
		return res, true, err
	case "/access_settings":
		res, err := e.beginAccess(ctx, ev)
		return res, true, err
	case "/history":
		res, err := e.exportHistory(ctx, ev)
		return res, true, err
	case "/users":
		res, err := e.exportUsers(ctx, ev)
		return res, true, err
	case "/reload_engine":
		res, err := e.reloadEngine(ctx, ev, arg)
		return res, true, err
	default:
		return nil, false, nil
	}
}

// enter resets the user's session and starts the variant's flow.
func (e *Engine) enter(ctx context.Context, ev Event, variant Variant) (*Result, error) {
	flow, err := e.flow(variant)
	if err != nil {
		return nil, err
	}
	e.sessions.Clear(ev.UserID)

	handle := domain.NormalizeHandle(ev.Handle, ev.UserID)
	user, err := e.users.RegisterUser(ctx, ev.UserID, handle)
	if err != nil {
		return nil, fmt.Errorf("register user %d: %w", ev.UserID, err)
	}
	if !user.Role.CanUseWizard() {
		e.logger.Info("Wizard refused", "user_id", ev.UserID, "role", user.Role)
		return &Result{Replies: []Reply{textReply(msgNoPermission)}, Ended: true}, nil
	}

	return backend.WithBackend(ctx, flow.Backend, func(ctx context.Context) (*Result, error) {
		sess := &Session{
			UserID:  ev.UserID,
			Handle:  handle,
			Variant: variant,
			Fields:  map[string]string{fieldRegion: flow.Region},
		}
		t := &turn{ev: ev, flow: flow, sess: sess}
		res, err := e.advance(ctx, t)
		if err != nil {
			return nil, err
		}
		if len(res.Replies) > 0 && !res.Ended {
			res.Replies[0].Text = fmt.Sprintf(msgWelcome, handle) + res.Replies[0].Text
		}
		e.logger.Info("Wizard started",
			"user_id", ev.UserID,
			"variant", variant,
			"backend", backend.Current(ctx),
			"state", res.State)
		return res, nil
	})
}

// advance moves the session to its next applicable step and prompts for it.
func (e *Engine) advance(ctx context.Context, t *turn) (*Result, error) {
	steps := t.flow.Steps
	if t.sess.Advanced {
		steps = t.flow.Advanced
	}

	next := nextStep(steps, t.sess.State, t.sess.Fields)
	if next == stepFinalize {
		return e.finalize(ctx, t)
	}

	reply, err := e.prompt(ctx, t, next)
	var empty *emptyListError
	if errors.As(err, &empty) {
		e.sessions.Clear(t.sess.UserID)
		return ended(textReply(empty.msg)), nil
	}
	if err != nil {
		return nil, err
	}

	t.sess.State = next
	e.sessions.Put(t.sess)
	return &Result{Replies: []Reply{reply}, State: next}, nil
}

// step applies the input to the session's current state.
func (e *Engine) step(ctx context.Context, t *turn) (*Result, error) {
	switch t.sess.State {
	case StepConfirm:
		return e.confirm(ctx, t)
	case StepAccessData:
		return e.accessData(ctx, t)
	case StepKind:
		return e.chooseKind(ctx, t)
	}

	value, rej, err := e.validate(ctx, t)
	if err != nil {
		return nil, err
	}
	if rej != nil {
		return &Result{Replies: []Reply{textReply(rej.Message)}, State: t.sess.State}, nil
	}

	t.sess.Fields[string(t.sess.State)] = value
	return e.advance(ctx, t)
}

func (e *Engine) chooseKind(ctx context.Context, t *turn) (*Result, error) {
	var kind string
	switch t.input {
	case CallbackPlane, kindLabels[KindPlane]:
		kind = KindPlane
	case CallbackCountry, kindLabels[KindCountry]:
		kind = KindCountry
	case CallbackGoods, kindLabels[KindGoods]:
		kind = KindGoods
	case CallbackBack, BackLabel:
		e.sessions.Clear(t.sess.UserID)
		return ended(textReply(msgCancelled)), nil
	default:
		return &Result{Replies: []Reply{textReply(msgUnknownKind)}, State: StepKind}, nil
	}

	t.sess.Fields[string(StepKind)] = kind
	return e.advance(ctx, t)
}

func (e *Engine) confirm(ctx context.Context, t *turn) (*Result, error) {
	switch t.input {
	case CallbackConfirm, confirmLabel:
		return e.finalize(ctx, t)
	case CallbackCancel, cancelLabel:
		return e.enter(ctx, t.ev, t.sess.Variant)
	case CallbackAdvanced, advancedLabel:
		if len(t.flow.Advanced) > 0 {
			t.sess.Advanced = true
			return e.advance(ctx, t)
		}
	}
	// Anything else is ignored while waiting for confirmation.
	return &Result{State: StepConfirm}, nil
}
