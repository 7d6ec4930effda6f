package wizard

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/etofiasko/tg-bot-v2/internal/access"
	"github.com/etofiasko/tg-bot-v2/internal/backend"
	"github.com/etofiasko/tg-bot-v2/internal/domain"
	"github.com/etofiasko/tg-bot-v2/internal/engine"
	"github.com/etofiasko/tg-bot-v2/internal/shared"
	"github.com/etofiasko/tg-bot-v2/internal/store"
)

type memCatalog struct {
	partners   []string
	years      []string
	categories []string
	subs       map[string][]string
	codes      map[string]bool
}

func (m *memCatalog) ListPartners(context.Context) ([]string, error)   { return m.partners, nil }
func (m *memCatalog) ListYears(context.Context) ([]string, error)      { return m.years, nil }
func (m *memCatalog) ListCategories(context.Context) ([]string, error) { return m.categories, nil }
func (m *memCatalog) ListSubcategories(_ context.Context, parent string) ([]string, error) {
	return m.subs[parent], nil
}
func (m *memCatalog) CodeExists(_ context.Context, code string) (bool, error) {
	return m.codes[code], nil
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		partners:   []string{"весь мир", "ЕАЭС", "Китай", "Россия"},
		years:      []string{"2021", "2022", "2023"},
		categories: []string{"Продукция АПК", "Пустая"},
		subs:       map[string][]string{"Продукция АПК": {"Зерно", "Мясо"}},
		codes:      map[string]bool{"841111": true, "8411": true},
	}
}

type scriptedEngine struct {
	mu     sync.Mutex
	reqs   []domain.ReportRequest
	status domain.GenerationStatus
	err    error
	gate   chan struct{}
}

func (s *scriptedEngine) Generate(ctx context.Context, req domain.ReportRequest) (*domain.GenerationResult, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	if s.status == domain.GenerationNoData {
		return &domain.GenerationResult{Status: domain.GenerationNoData}, nil
	}
	name := fmt.Sprintf("%s_%d.docx", req.Partner, req.Year)
	return &domain.GenerationResult{Status: domain.GenerationOK, Document: []byte("docx"), Filename: name, ShortFilename: name}, nil
}

func (s *scriptedEngine) Close() error { return nil }

func (s *scriptedEngine) requests() []domain.ReportRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ReportRequest(nil), s.reqs...)
}

type harness struct {
	wiz      *Engine
	repo     *store.SQLiteStore
	engines  map[backend.ID]*scriptedEngine
	registry *backend.Registry
	loadErr  map[backend.ID]error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	h := &harness{
		repo: repo,
		engines: map[backend.ID]*scriptedEngine{
			backend.Primary:   {},
			backend.Secondary: {},
		},
		loadErr: map[backend.ID]error{},
	}
	loader := engine.LoaderFunc(func(_ context.Context, id string) (engine.Engine, error) {
		if err := h.loadErr[backend.ID(id)]; err != nil {
			return nil, err
		}
		return h.engines[backend.ID(id)], nil
	})
	h.registry = backend.NewRegistry(loader, nil)
	sel := backend.NewSelector(h.registry,
		backend.Profile{ID: backend.Primary, Catalog: newMemCatalog()},
		backend.Profile{ID: backend.Secondary, Catalog: newMemCatalog()},
	)
	ctrl := access.New(repo, sel, nil)
	h.wiz = New(Config{
		DefaultVariant:    VariantClassic,
		GenerationTimeout: 5 * time.Second,
		Retry:             shared.RetryPolicy{MaxRetries: 1},
	}, NewStore(), repo, repo, sel, ctrl, nil)
	return h
}

func (h *harness) user(t *testing.T, id int64, handle string, role domain.Role) {
	t.Helper()
	ctx := context.Background()
	if role == domain.RoleAdmin {
		if err := h.repo.EnsureAdmin(ctx, id); err != nil {
			t.Fatal(err)
		}
		return
	}
	if _, err := h.repo.RegisterUser(ctx, id, handle); err != nil {
		t.Fatal(err)
	}
	if _, _, err := h.repo.ChangeRole(ctx, domain.Identity{UserID: id}, role, false); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) send(t *testing.T, ev Event) *Result {
	t.Helper()
	res, err := h.wiz.HandleEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("HandleEvent(%+v) failed: %v", ev, err)
	}
	return res
}

func (h *harness) text(t *testing.T, userID int64, text string) *Result {
	t.Helper()
	return h.send(t, Event{UserID: userID, Handle: "alice", Text: text})
}

func (h *harness) press(t *testing.T, userID int64, callback string) *Result {
	t.Helper()
	return h.send(t, Event{UserID: userID, Handle: "alice", Callback: callback})
}

func expectState(t *testing.T, res *Result, want StepID) {
	t.Helper()
	if res.State != want {
		texts := make([]string, 0, len(res.Replies))
		for _, r := range res.Replies {
			texts = append(texts, r.Text)
		}
		t.Fatalf("state = %q, want %q (replies: %q)", res.State, want, texts)
	}
}

func lastText(res *Result) string {
	if len(res.Replies) == 0 {
		return ""
	}
	return res.Replies[len(res.Replies)-1].Text
}

func TestClassicHappyPathRecordsHistory(t *testing.T) {
	h := newHarness(t)
	h.user(t, 42, "alice", domain.RoleAdvanced)

	res := h.send(t, Event{UserID: 42, Handle: "@Alice", Variant: VariantClassic, Text: "/start"})
	expectState(t, res, StepPartner)
	if !strings.HasPrefix(res.Replies[0].Text, "Добро пожаловать, alice.") {
		t.Fatalf("missing greeting: %q", res.Replies[0].Text)
	}
	if kb := res.Replies[0].Keyboard; kb == nil || kb.Rows[0][0].Text != RestartLabel || kb.Rows[1][0].Text != "весь мир" {
		t.Fatalf("unexpected partner keyboard: %+v", kb)
	}

	expectState(t, h.text(t, 42, "Китай"), StepYear)
	expectState(t, h.text(t, 42, "2023"), StepCategory)
	res = h.text(t, 42, NoCategoryLabel)
	expectState(t, res, StepConfirm)
	if !strings.Contains(res.Replies[0].Text, "Категория: Нет категории") {
		t.Fatalf("confirmation misses category line: %q", res.Replies[0].Text)
	}

	res = h.press(t, 42, CallbackConfirm)
	if !res.Ended || len(res.Replies) != 3 {
		t.Fatalf("expected generating, document and ready replies, got %+v", res)
	}
	if res.Replies[0].Text != msgGenerating {
		t.Fatalf("first reply %q", res.Replies[0].Text)
	}
	if doc := res.Replies[1].Document; doc == nil || doc.Name != "Китай_2023.docx" || doc.MIME != domain.MIMEDocx {
		t.Fatalf("unexpected document reply: %+v", res.Replies[1])
	}
	if !strings.HasPrefix(lastText(res), "Ваш документ Китай_2023.docx готов.") {
		t.Fatalf("unexpected ready text %q", lastText(res))
	}

	if _, ok := h.wiz.Sessions().Get(42); ok {
		t.Fatal("session survived finalize")
	}

	reqs := h.engines[backend.Primary].requests()
	if len(reqs) != 1 || len(h.engines[backend.Secondary].requests()) != 0 {
		t.Fatalf("classic must use the primary engine only")
	}
	req := reqs[0]
	if req.Partner != "Китай" || req.Year != 2023 || req.Region != "Республика Казахстан" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Category != "" || req.Subcategory != "" || req.Long || req.Plain {
		t.Fatalf("unexpected filters: %+v", req)
	}
	if req.Digits != 4 || req.TableSize != 25 || req.CountryTableSize != 15 || req.TextSize != 7 {
		t.Fatalf("defaults not substituted: %+v", req)
	}
	if len(req.ExcludedCodes) != len(ReexportPreset()) {
		t.Fatalf("classic should default to the re-export preset, got %d codes", len(req.ExcludedCodes))
	}

	history, err := h.repo.ListHistory(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Partner != "Китай" || history[0].Year != 2023 || history[0].Backend != "primary" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestRestrictedUserIsRefused(t *testing.T) {
	h := newHarness(t)

	res := h.send(t, Event{UserID: 7, Handle: "mallory", Text: "/start"})
	if !res.Ended || lastText(res) != msgNoPermission {
		t.Fatalf("expected permission denial, got %+v", res)
	}
	if h.wiz.Sessions().Len() != 0 {
		t.Fatal("denied user left a session behind")
	}

	user, err := h.repo.GetUser(context.Background(), 7)
	if err != nil || user == nil || user.Role != domain.RoleRestricted {
		t.Fatalf("user should be registered as restricted: %+v %v", user, err)
	}
}

func TestExtendedGoodsCodeNoData(t *testing.T) {
	h := newHarness(t)
	h.user(t, 42, "alice", domain.RoleAdvanced)
	h.engines[backend.Secondary].status = domain.GenerationNoData

	expectState(t, h.text(t, 42, "/start_new"), StepKind)
	expectState(t, h.press(t, 42, CallbackGoods), StepGoodsCode)

	res := h.text(t, 42, "84111")
	expectState(t, res, StepGoodsCode)
	if !strings.Contains(lastText(res), "4, 6 или 10") {
		t.Fatalf("unexpected rejection %q", lastText(res))
	}
	res = h.text(t, 42, "123456")
	expectState(t, res, StepGoodsCode)
	if lastText(res) != msgUnknownGoodsCode {
		t.Fatalf("unknown code should be rejected, got %q", lastText(res))
	}

	expectState(t, h.text(t, 42, "841111"), StepPartner)
	expectState(t, h.text(t, 42, "Китай"), StepYear)
	res = h.text(t, 42, "2023")
	expectState(t, res, StepConfirm)
	if !strings.Contains(res.Replies[0].Text, "ТН ВЭД: 841111") {
		t.Fatalf("confirmation misses goods code: %q", res.Replies[0].Text)
	}

	res = h.press(t, 42, CallbackConfirm)
	if !res.Ended || lastText(res) != msgNoData {
		t.Fatalf("expected no-data reply, got %+v", res)
	}

	reqs := h.engines[backend.Secondary].requests()
	if len(reqs) != 1 || reqs[0].GoodsCode != "841111" || reqs[0].Category != "" || len(reqs[0].ExcludedCodes) != 0 {
		t.Fatalf("unexpected request: %+v", reqs)
	}
	history, _ := h.repo.ListHistory(context.Background(), 0)
	if len(history) != 0 {
		t.Fatalf("no-data result must not be recorded, got %d entries", len(history))
	}
}

func TestRestartClearsFieldsAndRechecksRole(t *testing.T) {
	h := newHarness(t)
	h.user(t, 42, "alice", domain.RoleAdvanced)

	h.send(t, Event{UserID: 42, Handle: "alice", Variant: VariantClassic, Text: "/start"})
	h.text(t, 42, "Китай")
	h.text(t, 42, "2023")

	res := h.text(t, 42, "начать заново")
	expectState(t, res, StepPartner)
	sess, ok := h.wiz.Sessions().Get(42)
	if !ok || len(sess.Fields) != 1 || sess.Fields["region"] == "" {
		t.Fatalf("restart should keep only the region, got %+v", sess)
	}

	h.text(t, 42, "Россия")
	if _, _, err := h.repo.ChangeRole(context.Background(), domain.Identity{UserID: 42}, domain.RoleRestricted, false); err != nil {
		t.Fatal(err)
	}
	res = h.text(t, 42, RestartLabel)
	if lastText(res) != msgNoPermission {
		t.Fatalf("restart must re-run the role check, got %q", lastText(res))
	}
	if _, ok := h.wiz.Sessions().Get(42); ok {
		t.Fatal("session kept after permission denial")
	}
}

func TestRestartFromEveryStep(t *testing.T) {
	classicConfirm := []string{"Китай", "2023", NoCategoryLabel}
	advanced := func(inputs ...string) func(*testing.T, *harness) *Result {
		return func(t *testing.T, h *harness) *Result {
			h.send(t, Event{UserID: 42, Variant: VariantClassic, Text: "/start"})
			for _, in := range classicConfirm {
				h.text(t, 42, in)
			}
			res := h.press(t, 42, CallbackAdvanced)
			for _, in := range inputs {
				res = h.text(t, 42, in)
			}
			return res
		}
	}

	tests := []struct {
		name    string
		reach   func(*testing.T, *harness) *Result
		at      StepID
		restart StepID
	}{
		{
			name: "goods code",
			reach: func(t *testing.T, h *harness) *Result {
				h.text(t, 42, "/start_new")
				return h.press(t, 42, CallbackGoods)
			},
			at:      StepGoodsCode,
			restart: StepKind,
		},
		{
			name: "confirmation",
			reach: func(t *testing.T, h *harness) *Result {
				h.send(t, Event{UserID: 42, Variant: VariantClassic, Text: "/start"})
				var res *Result
				for _, in := range classicConfirm {
					res = h.text(t, 42, in)
				}
				return res
			},
			at:      StepConfirm,
			restart: StepPartner,
		},
		{name: "digits", reach: advanced(), at: StepDigits, restart: StepPartner},
		{name: "months", reach: advanced(Digits6Label), at: StepMonths, restart: StepPartner},
		{name: "exclude", reach: advanced(Digits6Label, "3, 7"), at: StepExclude, restart: StepPartner},
		{name: "table size", reach: advanced(Digits6Label, "3, 7", ExcludeNoneLabel), at: StepTableSize, restart: StepPartner},
		{name: "country table size", reach: advanced(Digits6Label, "3, 7", ExcludeNoneLabel, SkipLabel), at: StepCountryTableSize, restart: StepPartner},
		{name: "text size", reach: advanced(Digits6Label, "3, 7", ExcludeNoneLabel, SkipLabel, SkipLabel), at: StepTextSize, restart: StepPartner},
		{
			name: "access data",
			reach: func(t *testing.T, h *harness) *Result {
				return h.send(t, Event{UserID: 42, Variant: VariantClassic, Text: "/access_settings"})
			},
			at:      StepAccessData,
			restart: StepPartner,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.user(t, 42, "alice", domain.RoleAdmin)

			expectState(t, tt.reach(t, h), tt.at)
			expectState(t, h.text(t, 42, " НАЧАТЬ заново "), tt.restart)

			sess, ok := h.wiz.Sessions().Get(42)
			if !ok || sess.State != tt.restart || sess.Advanced {
				t.Fatalf("restart left session %+v", sess)
			}
			for name := range sess.Fields {
				if name != "region" {
					t.Fatalf("restart kept field %q: %+v", name, sess.Fields)
				}
			}
		})
	}
}

func TestChoiceRejectionKeepsState(t *testing.T) {
	h := newHarness(t)
	h.user(t, 42, "alice", domain.RoleAdmin)

	h.send(t, Event{UserID: 42, Variant: VariantClassic, Text: "/start"})
	res := h.text(t, 42, "Атлантида")
	expectState(t, res, StepPartner)
	if lastText(res) != msgUnknownPartner {
		t.Fatalf("unexpected reply %q", lastText(res))
	}

	h.text(t, 42, "Китай")
	h.text(t, 42, "2023")
	res = h.text(t, 42, "Пустая")
	expectState(t, res, StepCategory)
	if lastText(res) != msgEmptyCategory {
		t.Fatalf("empty category should re-prompt, got %q", lastText(res))
	}
	sess, _ := h.wiz.Sessions().Get(42)
	if _, ok := sess.Fields["category"]; ok {
		t.Fatal("rejected category stored")
	}
}

func TestConfirmationIgnoresOtherInput(t *testing.T) {
	h := newHarness(t)
	h.user(t, 42, "alice", domain.RoleAdvanced)

	h.send(t, Event{UserID: 42, Variant: VariantClassic, Text: "/start"})
	h.text(t, 42, "Китай")
	h.text(t, 42, "2023")
	h.text(t, 42, NoCategoryLabel)

	before, _ := h.wiz.Sessions().Get(42)
	res := h.text(t, 42, "ну что там?")
	if len(res.Replies) != 0 || res.State != StepConfirm || res.Ended {
		t.Fatalf("expected idle turn, got %+v", res)
	}
	after, _ := h.wiz.Sessions().Get(42)
	if len(after.Fields) != len(before.Fields) || after.State != StepConfirm {
		t.Fatalf("idle input changed the session: %+v", after)
	}

	expectState(t, h.press(t, 42, CallbackCancel), StepPartner)
}

func TestClassicAdvancedBranch(t *testing.T) {
	h := newHarness(t)
	h.user(t, 42, "alice", domain.RoleAdvanced)

	h.send(t, Event{UserID: 42, Variant: VariantClassic, Text: "/start"})
	h.text(t, 42, "Китай")
	h.text(t, 42, "2023")
	expectState(t, h.text(t, 42, "Продукция АПК"), StepSubcategory)
	expectState(t, h.text(t, 42, "Зерно"), StepConfirm)

	res := h.press(t, 42, CallbackAdvanced)
	expectState(t, res, StepDigits)
	for _, row := range res.Replies[0].Keyboard.Rows {
		if row[0].Text == Digits10Label {
			t.Fatal("10 digits offered for a subcategory report")
		}
	}
	expectState(t, h.text(t, 42, "10"), StepDigits)
	expectState(t, h.text(t, 42, Digits6Label), StepMonths)
	expectState(t, h.text(t, 42, "7,3"), StepMonths)
	expectState(t, h.text(t, 42, "3, 7"), StepExclude)
	expectState(t, h.text(t, 42, ExcludeNoneLabel), StepTableSize)
	expectState(t, h.text(t, 42, SkipLabel), StepCountryTableSize)
	expectState(t, h.text(t, 42, "251"), StepCountryTableSize)
	expectState(t, h.text(t, 42, "40"), StepTextSize)
	expectState(t, h.text(t, 42, "0"), StepTextSize)

	res = h.text(t, 42, SkipLabel)
	if !res.Ended || !strings.HasPrefix(lastText(res), "Ваш документ") {
		t.Fatalf("advanced branch should end in generation, got %+v", res)
	}

	req := h.engines[backend.Primary].requests()[0]
	want := domain.ReportRequest{
		Region:           "Республика Казахстан",
		Partner:          "Китай",
		Year:             2023,
		Category:         "Продукция АПК",
		Subcategory:      "Зерно",
		MonthRange:       domain.MonthRange{From: 3, To: 7},
		Digits:           6,
		TableSize:        25,
		CountryTableSize: 40,
		TextSize:         7,
		Long:             true,
	}
	if len(req.ExcludedCodes) != 0 {
		t.Fatalf("skipped exclusion should send no codes, got %v", req.ExcludedCodes)
	}
	req.ExcludedCodes = nil
	if fmt.Sprintf("%+v", req) != fmt.Sprintf("%+v", want) {
		t.Fatalf("request mismatch:\n got %+v\nwant %+v", req, want)
	}
}

func TestExtendedPlaneAndKindCancel(t *testing.T) {
	h := newHarness(t)
	h.user(t, 42, "alice", domain.RoleAdvanced)

	h.send(t, Event{UserID: 42, Variant: VariantExtended, Text: "/start"})
	expectState(t, h.press(t, 42, CallbackPlane), StepPartner)
	h.text(t, 42, "весь мир")
	res := h.text(t, 42, "2022")
	expectState(t, res, StepConfirm)
	for _, b := range res.Replies[0].Keyboard.Rows[0] {
		if b.Callback == CallbackAdvanced {
			t.Fatal("extended confirmation offers advanced settings")
		}
	}
	expectState(t, h.press(t, 42, CallbackAdvanced), StepConfirm)

	h.press(t, 42, CallbackConfirm)
	req := h.engines[backend.Secondary].requests()[0]
	if !req.Plain || req.Category != "" || req.Partner != "весь мир" {
		t.Fatalf("unexpected plane request: %+v", req)
	}

	h.text(t, 42, "/start_new")
	res = h.press(t, 42, CallbackBack)
	if !res.Ended || lastText(res) != msgCancelled {
		t.Fatalf("expected cancel hint, got %+v", res)
	}
	if _, ok := h.wiz.Sessions().Get(42); ok {
		t.Fatal("cancelled session kept")
	}

	h.text(t, 42, "/start_new")
	res = h.text(t, 42, BackLabel)
	if !res.Ended || lastText(res) != msgCancelled {
		t.Fatalf("typed back label should cancel, got %+v", res)
	}
}

func TestEngineFailureInvalidatesBackend(t *testing.T) {
	h := newHarness(t)
	h.user(t, 42, "alice", domain.RoleAdvanced)
	h.engines[backend.Primary].err = fmt.Errorf("dial: %w", engine.ErrEngineUnavailable)

	h.send(t, Event{UserID: 42, Variant: VariantClassic, Text: "/start"})
	h.text(t, 42, "Китай")
	h.text(t, 42, "2023")
	h.text(t, 42, NoCategoryLabel)
	res := h.press(t, 42, CallbackConfirm)
	if !res.Ended || lastText(res) != msgFailure {
		t.Fatalf("expected failure reply, got %+v", res)
	}
	if h.registry.Loaded(backend.Primary) {
		t.Fatal("unavailable engine should be invalidated")
	}
	history, _ := h.repo.ListHistory(context.Background(), 0)
	if len(history) != 0 {
		t.Fatal("failed generation recorded in history")
	}
}

func TestRebindFailureIsolatedToBackend(t *testing.T) {
	h := newHarness(t)
	h.user(t, 42, "alice", domain.RoleAdvanced)
	h.loadErr[backend.Secondary] = errors.New("engine image missing")

	h.text(t, 42, "/start_new")
	h.press(t, 42, CallbackCountry)
	h.text(t, 42, "Китай")
	h.text(t, 42, "2023")
	h.text(t, 42, NoCategoryLabel)
	res := h.press(t, 42, CallbackConfirm)
	if lastText(res) != msgFailure {
		t.Fatalf("rebind failure should surface as generation failure, got %q", lastText(res))
	}

	h.send(t, Event{UserID: 42, Variant: VariantClassic, Text: "/start"})
	h.text(t, 42, "Китай")
	h.text(t, 42, "2023")
	h.text(t, 42, NoCategoryLabel)
	res = h.press(t, 42, CallbackConfirm)
	if !strings.HasPrefix(lastText(res), "Ваш документ") {
		t.Fatalf("primary backend should be unaffected, got %q", lastText(res))
	}
}

type chanNotifier struct {
	results chan *Result
}

func (n *chanNotifier) Notify(_ context.Context, _ int64, res *Result) error {
	n.results <- res
	return nil
}

func TestAsyncFinalizeDeliversAfterRestart(t *testing.T) {
	h := newHarness(t)
	h.user(t, 42, "alice", domain.RoleAdvanced)
	gate := make(chan struct{})
	h.engines[backend.Primary].gate = gate
	notifier := &chanNotifier{results: make(chan *Result, 1)}
	h.wiz.SetNotifier(notifier)

	h.send(t, Event{UserID: 42, Variant: VariantClassic, Text: "/start"})
	h.text(t, 42, "Китай")
	h.text(t, 42, "2023")
	h.text(t, 42, NoCategoryLabel)

	res := h.press(t, 42, CallbackConfirm)
	if !res.Ended || len(res.Replies) != 1 || res.Replies[0].Text != msgGenerating {
		t.Fatalf("expected only the generating reply, got %+v", res)
	}

	expectState(t, h.text(t, 42, RestartLabel), StepPartner)
	close(gate)

	select {
	case delivered := <-notifier.results:
		if len(delivered.Replies) != 2 || delivered.Replies[0].Document == nil {
			t.Fatalf("unexpected delivery: %+v", delivered)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("report was not delivered")
	}
	h.wiz.Wait()

	if sess, ok := h.wiz.Sessions().Get(42); !ok || sess.State != StepPartner {
		t.Fatalf("delivery disturbed the new session: %+v", sess)
	}
	history, _ := h.repo.ListHistory(context.Background(), 0)
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
}

func TestConcurrentUsersKeepTheirBackends(t *testing.T) {
	h := newHarness(t)
	const users = 8
	for i := int64(1); i <= users; i++ {
		h.user(t, 100+i, fmt.Sprintf("u%d", i), domain.RoleAdvanced)
	}

	var wg sync.WaitGroup
	for i := int64(1); i <= users; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			ctx := context.Background()
			events := []Event{{Text: "/start", Variant: VariantClassic}, {Text: "Китай"}, {Text: "2023"}, {Text: NoCategoryLabel}, {Callback: CallbackConfirm}}
			if id%2 == 0 {
				events = []Event{{Text: "/start_new"}, {Callback: CallbackCountry}, {Text: "Россия"}, {Text: "2022"}, {Text: NoCategoryLabel}, {Callback: CallbackConfirm}}
			}
			for _, ev := range events {
				ev.UserID = id
				if _, err := h.wiz.HandleEvent(ctx, ev); err != nil {
					t.Errorf("user %d: %v", id, err)
					return
				}
			}
		}(100 + i)
	}
	wg.Wait()

	for _, req := range h.engines[backend.Primary].requests() {
		if req.Partner != "Китай" {
			t.Fatalf("primary engine got an extended request: %+v", req)
		}
	}
	for _, req := range h.engines[backend.Secondary].requests() {
		if req.Partner != "Россия" {
			t.Fatalf("secondary engine got a classic request: %+v", req)
		}
	}
	if n := len(h.engines[backend.Primary].requests()) + len(h.engines[backend.Secondary].requests()); n != users {
		t.Fatalf("expected %d generations, got %d", users, n)
	}
	if h.registry.Loads(backend.Primary) != 1 || h.registry.Loads(backend.Secondary) != 1 {
		t.Fatalf("each backend should load once, got %d/%d", h.registry.Loads(backend.Primary), h.registry.Loads(backend.Secondary))
	}
}

func TestAccessSettingsPolicies(t *testing.T) {
	h := newHarness(t)
	h.user(t, 1, "", domain.RoleAdmin)
	h.user(t, 42, "alice", domain.RoleAdvanced)

	res := h.text(t, 42, "/access_settings")
	if lastText(res) != msgAccessDenied {
		t.Fatalf("non-admin should be refused, got %q", lastText(res))
	}

	res = h.send(t, Event{UserID: 1, Variant: VariantClassic, Text: "/access_settings"})
	expectState(t, res, StepAccessData)
	res = h.text(t, 1, "555 advanced")
	if lastText(res) != fmt.Sprintf(msgRoleUnknownID, 555) || !res.Ended {
		t.Fatalf("classic should reject unknown ids, got %q", lastText(res))
	}

	h.send(t, Event{UserID: 1, Variant: VariantClassic, Text: "/access_settings"})
	res = h.text(t, 1, "1 restricted")
	if lastText(res) != msgRoleSuperAdmin {
		t.Fatalf("expected super-admin refusal, got %q", lastText(res))
	}

	h.send(t, Event{UserID: 1, Variant: VariantClassic, Text: "/access_settings"})
	res = h.text(t, 1, "42 restricted")
	if lastText(res) != "Роль пользователя @alice успешно изменена на restricted." {
		t.Fatalf("unexpected reply %q", lastText(res))
	}

	h.send(t, Event{UserID: 1, Variant: VariantExtended, Text: "/access_settings"})
	res = h.text(t, 1, "@NewGuy advanced")
	if !strings.HasPrefix(lastText(res), "Пользователь @newguy добавлен") {
		t.Fatalf("extended should provision unknown handles, got %q", lastText(res))
	}
	guy, err := h.repo.GetUserByHandle(context.Background(), "newguy")
	if err != nil || guy == nil || guy.Role != domain.RoleAdvanced {
		t.Fatalf("provisioned user missing: %+v %v", guy, err)
	}

	h.send(t, Event{UserID: 1, Variant: VariantExtended, Text: "/access_settings"})
	res = h.text(t, 1, "just-one-word")
	if lastText(res) != msgAccessMalformed {
		t.Fatalf("expected malformed reply, got %q", lastText(res))
	}
}

func TestAdminExportsAndReload(t *testing.T) {
	h := newHarness(t)
	h.user(t, 1, "", domain.RoleAdmin)
	h.user(t, 42, "alice", domain.RoleAdvanced)

	if res := h.text(t, 42, "/history"); lastText(res) != msgHistoryDenied {
		t.Fatalf("non-admin history: %q", lastText(res))
	}
	if res := h.text(t, 1, "/history"); lastText(res) != msgHistoryEmpty {
		t.Fatalf("empty history: %q", lastText(res))
	}

	res := h.text(t, 1, "/users")
	if len(res.Replies) != 1 || res.Replies[0].Document == nil || res.Replies[0].Document.Name != "users.xlsx" {
		t.Fatalf("expected users export, got %+v", res)
	}

	if _, err := h.registry.Acquire(context.Background(), backend.Secondary); err != nil {
		t.Fatal(err)
	}
	res = h.text(t, 1, "/reload_engine secondary")
	if lastText(res) != fmt.Sprintf(msgReloaded, backend.Secondary) {
		t.Fatalf("unexpected reload reply %q", lastText(res))
	}
	if h.registry.Loaded(backend.Secondary) {
		t.Fatal("reload did not invalidate the engine")
	}
	if res := h.text(t, 1, "/reload_engine nowhere"); lastText(res) != msgReloadFailed {
		t.Fatalf("unexpected reply %q", lastText(res))
	}
}

func TestLenientGoodsCodeFlow(t *testing.T) {
	flows, err := ParseFlows([]byte(`
variants:
  loose:
    backend: primary
    region: Республика Казахстан
    steps: [kind, goods_code, partner, year, confirm]
    strict_goods_code: false
`))
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t)
	h.wiz.cfg.Flows = flows
	h.user(t, 42, "alice", domain.RoleAdvanced)

	expectState(t, h.send(t, Event{UserID: 42, Variant: "loose", Text: "/start"}), StepKind)
	h.press(t, 42, CallbackGoods)
	expectState(t, h.text(t, 42, "1"), StepGoodsCode)
	expectState(t, h.text(t, 42, "99"), StepPartner)
}

func TestNoSessionHint(t *testing.T) {
	h := newHarness(t)
	res := h.text(t, 42, "Китай")
	if !res.Ended || lastText(res) != msgStartHint {
		t.Fatalf("expected start hint, got %+v", res)
	}
	if _, err := h.wiz.HandleEvent(context.Background(), Event{Text: "/start"}); err == nil {
		t.Fatal("expected error for missing user id")
	}
}
