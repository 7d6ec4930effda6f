package wizard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/etofiasko/tg-bot-v2/internal/backend"
	"github.com/etofiasko/tg-bot-v2/internal/domain"
	"github.com/etofiasko/tg-bot-v2/internal/engine"
	"github.com/etofiasko/tg-bot-v2/internal/shared"
	"github.com/google/uuid"
)

// BuildRequest assembles the report request from a session's answers,
// substituting defaults for steps that did not run.
func BuildRequest(flow *Flow, sess *Session) (domain.ReportRequest, error) {
	f := sess.Fields
	year, err := strconv.Atoi(f[string(StepYear)])
	if err != nil {
		return domain.ReportRequest{}, fmt.Errorf("parse year %q: %w", f[string(StepYear)], err)
	}

	req := domain.ReportRequest{
		Region:           f[fieldRegion],
		Partner:          f[string(StepPartner)],
		Year:             year,
		Category:         f[string(StepCategory)],
		Subcategory:      f[string(StepSubcategory)],
		GoodsCode:        f[string(StepGoodsCode)],
		Digits:           domain.DefaultDigits,
		TableSize:        domain.DefaultTableSize,
		CountryTableSize: domain.DefaultCountryTableSize,
		TextSize:         domain.DefaultTextSize,
		Plain:            f[string(StepKind)] == KindPlane,
		Long:             sess.Advanced,
	}
	if req.GoodsCode != "" {
		req.Category, req.Subcategory = "", ""
	}

	ints := []struct {
		step StepID
		dst  *int
	}{
		{StepDigits, &req.Digits},
		{StepTableSize, &req.TableSize},
		{StepCountryTableSize, &req.CountryTableSize},
		{StepTextSize, &req.TextSize},
	}
	for _, it := range ints {
		v, ok := f[string(it.step)]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return domain.ReportRequest{}, fmt.Errorf("parse %s %q: %w", it.step, v, err)
		}
		*it.dst = n
	}

	if v, ok := f[string(StepMonths)]; ok {
		m, rej := MonthRange(v)
		if rej != nil {
			return domain.ReportRequest{}, fmt.Errorf("parse months %q: %w", v, rej)
		}
		req.MonthRange = m
	}

	switch v, ok := f[string(StepExclude)]; {
	case ok && v != "":
		req.ExcludedCodes = strings.Split(v, ",")
	case !ok && flow.DefaultExclude == excludeReexport:
		req.ExcludedCodes = ReexportPreset()
	}

	if err := req.Validate(); err != nil {
		return domain.ReportRequest{}, fmt.Errorf("validate request: %w", err)
	}
	return req, nil
}

// finalize ends the session and generates the report, inline or in the
// background when a notifier is set.
func (e *Engine) finalize(ctx context.Context, t *turn) (*Result, error) {
	e.sessions.Clear(t.sess.UserID)

	req, err := BuildRequest(t.flow, t.sess)
	if err != nil {
		e.logger.Error("Report request assembly failed", "user_id", t.sess.UserID, "error", err)
		return ended(textReply(msgFailure)), nil
	}

	generating := textReply(msgGenerating)
	if e.notifier == nil {
		return ended(append([]Reply{generating}, e.generate(ctx, t, req)...)...), nil
	}

	// The result is delivered even if the user restarts meanwhile.
	bg := context.WithoutCancel(ctx)
	sess := t.sess.clone()
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		replies := e.generate(bg, &turn{ev: t.ev, flow: t.flow, sess: sess}, req)
		if err := e.notifier.Notify(bg, sess.UserID, ended(replies...)); err != nil {
			e.logger.Warn("Failed to deliver report", "user_id", sess.UserID, "error", err)
		}
	}()
	return ended(generating), nil
}

// generate calls the bound backend's engine once and turns the outcome into replies.
func (e *Engine) generate(ctx context.Context, t *turn, req domain.ReportRequest) []Reply {
	id := backend.Current(ctx)
	logger := e.logger.With("user_id", t.sess.UserID, "variant", t.sess.Variant, "backend", id)

	eng, err := e.resolver.Engine(ctx)
	if err != nil {
		logger.Error("Document engine unavailable", "error", err)
		return []Reply{textReply(msgFailure)}
	}

	if e.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.GenerationTimeout)
		defer cancel()
	}

	start := e.now()
	res, err := eng.Generate(ctx, req)
	if err != nil {
		logger.Error("Report generation failed", "error", err, "duration", e.now().Sub(start))
		if errors.Is(err, engine.ErrEngineUnavailable) {
			if invErr := e.resolver.Invalidate(id); invErr != nil {
				logger.Warn("Failed to invalidate engine", "error", invErr)
			}
		}
		return []Reply{textReply(msgFailure)}
	}

	if res.Status == domain.GenerationNoData {
		logger.Info("Report has no data", "partner", req.Partner, "year", req.Year)
		return []Reply{textReply(msgNoData)}
	}

	logger.Info("Report generated",
		"partner", req.Partner,
		"year", req.Year,
		"filename", res.Filename,
		"duration", e.now().Sub(start))
	e.recordHistory(ctx, t, req)

	return []Reply{
		{Document: &domain.Document{Name: res.ShortFilename, MIME: domain.MIMEDocx, Data: res.Document}},
		textReply(fmt.Sprintf(msgReady, res.Filename)),
	}
}

func (e *Engine) recordHistory(ctx context.Context, t *turn, req domain.ReportRequest) {
	entry := &domain.HistoryEntry{
		ID:        uuid.NewString(),
		UserID:    t.sess.UserID,
		Handle:    t.sess.Handle,
		Variant:   string(t.sess.Variant),
		Backend:   string(backend.Current(ctx)),
		Region:    req.Region,
		Partner:   req.Partner,
		Year:      req.Year,
		Summary:   req.Summary(),
		CreatedAt: e.now(),
	}
	err := shared.RetryOnConflict(ctx, e.cfg.Retry, "record history", func(ctx context.Context) error {
		return e.history.RecordHistory(ctx, entry)
	})
	if err != nil {
		e.logger.Error("Failed to record download history", "user_id", t.sess.UserID, "error", err)
	}
}
