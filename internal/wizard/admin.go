package wizard

import (
	"context"
	"errors"
	"fmt"

	"github.com/etofiasko/tg-bot-v2/internal/access"
	"github.com/etofiasko/tg-bot-v2/internal/domain"
)

func (e *Engine) beginAccess(ctx context.Context, ev Event) (*Result, error) {
	if _, err := e.access.Authorize(ctx, ev.UserID); err != nil {
		if errors.Is(err, access.ErrPermissionDenied) {
			return ended(textReply(msgAccessDenied)), nil
		}
		return nil, err
	}

	variant := e.variantFor(ev)
	if sess, ok := e.sessions.Get(ev.UserID); ok {
		variant = sess.Variant
	}
	flow, err := e.flow(variant)
	if err != nil {
		return nil, err
	}

	e.sessions.Put(&Session{
		UserID:  ev.UserID,
		Handle:  domain.NormalizeHandle(ev.Handle, ev.UserID),
		Variant: variant,
		State:   StepAccessData,
		Fields:  map[string]string{},
	})

	prompt := msgAccessPromptID
	if flow.RoleChange.ByHandle {
		prompt = msgAccessPromptHandle
	}
	return &Result{Replies: []Reply{textReply(prompt)}, State: StepAccessData}, nil
}

// accessData applies "identity role" typed after /access_settings. The
// session ends whatever the outcome.
func (e *Engine) accessData(ctx context.Context, t *turn) (*Result, error) {
	e.sessions.Clear(t.sess.UserID)

	change, err := e.access.ChangeRole(ctx, t.sess.UserID, t.input, t.flow.RolePolicy())
	switch {
	case errors.Is(err, access.ErrPermissionDenied):
		return ended(textReply(msgAccessDenied)), nil
	case errors.Is(err, access.ErrUnknownRole):
		return ended(textReply(msgAccessBadRole)), nil
	case errors.Is(err, access.ErrMalformedRequest):
		return ended(textReply(msgAccessMalformed)), nil
	case err != nil:
		return nil, err
	}

	return ended(textReply(describeRoleChange(change))), nil
}

func describeRoleChange(c *access.RoleChange) string {
	switch c.Outcome {
	case domain.RoleSuperAdmin:
		return msgRoleSuperAdmin
	case domain.RoleProvisioned:
		return fmt.Sprintf(msgRoleProvisioned, c.Identity, c.Role)
	case domain.RoleUnknownUser:
		if c.Identity.Handle != "" {
			return fmt.Sprintf(msgRoleUnknownHandle, c.Identity.Handle)
		}
		return fmt.Sprintf(msgRoleUnknownID, c.Identity.UserID)
	default:
		return fmt.Sprintf(msgRoleChanged, c.User.DisplayName(), c.Role)
	}
}

func (e *Engine) exportHistory(ctx context.Context, ev Event) (*Result, error) {
	doc, err := e.access.ExportHistory(ctx, ev.UserID)
	switch {
	case errors.Is(err, access.ErrPermissionDenied):
		return &Result{Replies: []Reply{textReply(msgHistoryDenied)}}, nil
	case errors.Is(err, access.ErrHistoryEmpty):
		return &Result{Replies: []Reply{textReply(msgHistoryEmpty)}}, nil
	case err != nil:
		return nil, err
	}
	return &Result{Replies: []Reply{{Document: doc}}}, nil
}

func (e *Engine) exportUsers(ctx context.Context, ev Event) (*Result, error) {
	doc, err := e.access.ExportUsers(ctx, ev.UserID)
	switch {
	case errors.Is(err, access.ErrPermissionDenied):
		return &Result{Replies: []Reply{textReply(msgUsersDenied)}}, nil
	case err != nil:
		return nil, err
	}
	return &Result{Replies: []Reply{{Document: doc}}}, nil
}

func (e *Engine) reloadEngine(ctx context.Context, ev Event, arg string) (*Result, error) {
	if arg == "" {
		flow, err := e.flow(e.variantFor(ev))
		if err != nil {
			return nil, err
		}
		arg = string(flow.Backend)
	}

	id, err := e.access.ReloadEngine(ctx, ev.UserID, arg)
	switch {
	case errors.Is(err, access.ErrPermissionDenied):
		return &Result{Replies: []Reply{textReply(msgReloadDenied)}}, nil
	case err != nil:
		e.logger.Warn("Engine reload failed", "user_id", ev.UserID, "arg", arg, "error", err)
		return &Result{Replies: []Reply{textReply(msgReloadFailed)}}, nil
	}
	return &Result{Replies: []Reply{textReply(fmt.Sprintf(msgReloaded, id))}}, nil
}
