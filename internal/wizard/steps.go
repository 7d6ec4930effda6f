package wizard

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/etofiasko/tg-bot-v2/internal/catalog"
	"github.com/etofiasko/tg-bot-v2/internal/domain"
)

const (
	confirmLabel  = "Подтвердить выбор"
	cancelLabel   = "Отмена"
	advancedLabel = "Расширенные настройки"
)

// emptyListError ends the dialogue when the catalog has nothing to offer.
type emptyListError struct {
	msg string
}

func (e *emptyListError) Error() string {
	return e.msg
}

func (e *Engine) catalog(ctx context.Context) (catalog.Catalog, error) {
	c, err := e.resolver.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve catalog: %w", err)
	}
	return c, nil
}

// prompt builds the question for step.
func (e *Engine) prompt(ctx context.Context, t *turn, step StepID) (Reply, error) {
	switch step {
	case StepKind:
		return Reply{Text: promptKind, Keyboard: &Keyboard{Inline: true, Rows: [][]Button{
			{{Text: kindLabels[KindPlane], Callback: CallbackPlane}, {Text: kindLabels[KindCountry], Callback: CallbackCountry}},
			{{Text: kindLabels[KindGoods], Callback: CallbackGoods}, {Text: BackLabel, Callback: CallbackBack}},
		}}}, nil

	case StepGoodsCode:
		text := promptGoodsCodeLenient
		if t.flow.StrictGoodsCode {
			text = promptGoodsCodeStrict
		}
		return Reply{Text: text, Keyboard: replyKeyboard(nil, nil)}, nil

	case StepPartner:
		partners, err := e.list(ctx, (catalog.Catalog).ListPartners)
		if err != nil {
			return Reply{}, err
		}
		if len(partners) == 0 {
			return Reply{}, &emptyListError{msg: msgNoPartners}
		}
		return Reply{Text: fmt.Sprintf(promptPartner, t.flow.RegionGenitive), Keyboard: replyKeyboard(nil, partners)}, nil

	case StepYear:
		years, err := e.list(ctx, (catalog.Catalog).ListYears)
		if err != nil {
			return Reply{}, err
		}
		if len(years) == 0 {
			return Reply{}, &emptyListError{msg: msgNoYears}
		}
		return Reply{Text: promptYear, Keyboard: replyKeyboard(nil, years)}, nil

	case StepCategory:
		categories, err := e.list(ctx, (catalog.Catalog).ListCategories)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: promptCategory, Keyboard: replyKeyboard([]string{NoCategoryLabel}, categories)}, nil

	case StepSubcategory:
		subs, err := e.subcategories(ctx, t.sess.Fields[string(StepCategory)])
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: promptSubcategory, Keyboard: replyKeyboard(nil, subs)}, nil

	case StepConfirm:
		return e.confirmation(t), nil

	case StepDigits:
		options := []string{SkipLabel, Digits4Label, Digits6Label}
		text := promptDigits
		if t.sess.Fields[string(StepSubcategory)] == "" {
			options = append(options, Digits10Label)
			text = promptDigitsTen
		}
		return Reply{Text: text, Keyboard: replyKeyboard(options, nil)}, nil

	case StepMonths:
		return Reply{Text: promptMonths, Keyboard: replyKeyboard([]string{SkipLabel}, nil)}, nil
	case StepExclude:
		return Reply{Text: promptExclude, Keyboard: replyKeyboard([]string{ExcludeNoneLabel, ExcludePresetLabel}, nil)}, nil
	case StepTableSize:
		return Reply{Text: promptTableSize, Keyboard: replyKeyboard([]string{SkipLabel}, nil)}, nil
	case StepCountryTableSize:
		return Reply{Text: promptCountryTableSize, Keyboard: replyKeyboard([]string{SkipLabel}, nil)}, nil
	case StepTextSize:
		return Reply{Text: promptTextSize, Keyboard: replyKeyboard([]string{SkipLabel}, nil)}, nil
	}
	return Reply{}, fmt.Errorf("no prompt for step %q", step)
}

func (e *Engine) list(ctx context.Context, fn func(catalog.Catalog, context.Context) ([]string, error)) ([]string, error) {
	c, err := e.catalog(ctx)
	if err != nil {
		return nil, err
	}
	values, err := fn(c, ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog values: %w", err)
	}
	return values, nil
}

func (e *Engine) subcategories(ctx context.Context, parent string) ([]string, error) {
	c, err := e.catalog(ctx)
	if err != nil {
		return nil, err
	}
	subs, err := c.ListSubcategories(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("list subcategories of %q: %w", parent, err)
	}
	return subs, nil
}

// validate checks the input for the current free-form or choice step and
// returns the value to store.
func (e *Engine) validate(ctx context.Context, t *turn) (string, *Rejection, error) {
	in := t.input
	switch t.sess.State {
	case StepGoodsCode:
		code, rej := GoodsCode(in, t.flow.StrictGoodsCode)
		if rej != nil || !t.flow.StrictGoodsCode {
			return code, rej, nil
		}
		c, err := e.catalog(ctx)
		if err != nil {
			return "", nil, err
		}
		ok, err := c.CodeExists(ctx, code)
		if err != nil {
			return "", nil, fmt.Errorf("check goods code %s: %w", code, err)
		}
		if !ok {
			return "", reject(msgUnknownGoodsCode), nil
		}
		return code, nil, nil

	case StepPartner:
		partners, err := e.list(ctx, (catalog.Catalog).ListPartners)
		if err != nil {
			return "", nil, err
		}
		v, rej := Choice(in, partners, msgUnknownPartner)
		return v, rej, nil

	case StepYear:
		years, err := e.list(ctx, (catalog.Catalog).ListYears)
		if err != nil {
			return "", nil, err
		}
		v, rej := Choice(in, years, msgUnknownYear)
		return v, rej, nil

	case StepCategory:
		if strings.HasPrefix(strings.TrimSpace(in), NoCategoryLabel) {
			return "", nil, nil
		}
		categories, err := e.list(ctx, (catalog.Catalog).ListCategories)
		if err != nil {
			return "", nil, err
		}
		v, rej := Choice(in, categories, msgUnknownCategory)
		if rej != nil {
			return "", rej, nil
		}
		subs, err := e.subcategories(ctx, v)
		if err != nil {
			return "", nil, err
		}
		if len(subs) == 0 {
			return "", reject(msgEmptyCategory), nil
		}
		return v, nil, nil

	case StepSubcategory:
		subs, err := e.subcategories(ctx, t.sess.Fields[string(StepCategory)])
		if err != nil {
			return "", nil, err
		}
		v, rej := Choice(in, subs, msgUnknownSubcategory)
		return v, rej, nil

	case StepDigits:
		n, rej := Digits(in, t.sess.Fields[string(StepSubcategory)] == "")
		return strconv.Itoa(n), rej, nil

	case StepMonths:
		m, rej := MonthRange(in)
		return m.String(), rej, nil

	case StepExclude:
		codes, rej := ExcludedCodes(in)
		return strings.Join(codes, ","), rej, nil

	case StepTableSize:
		n, rej := BoundedInt(in, domain.MinTableSize, domain.MaxTableSize, domain.DefaultTableSize)
		return strconv.Itoa(n), rej, nil
	case StepCountryTableSize:
		n, rej := BoundedInt(in, domain.MinCountryTableSize, domain.MaxCountryTableSize, domain.DefaultCountryTableSize)
		return strconv.Itoa(n), rej, nil
	case StepTextSize:
		n, rej := BoundedInt(in, domain.MinTextSize, domain.MaxTextSize, domain.DefaultTextSize)
		return strconv.Itoa(n), rej, nil
	}
	return "", nil, fmt.Errorf("session of user %d in unexpected state %q", t.sess.UserID, t.sess.State)
}

// confirmation summarizes the collected answers.
func (e *Engine) confirmation(t *turn) Reply {
	f := t.sess.Fields
	var lines []string
	if kind, ok := f[string(StepKind)]; ok {
		lines = append(lines, "Вид справки: "+kindLabels[kind])
	}
	if code := f[string(StepGoodsCode)]; code != "" {
		lines = append(lines, "ТН ВЭД: "+code)
	}
	lines = append(lines,
		"Регион: "+f[fieldRegion],
		"Страна-партнёр: "+f[string(StepPartner)],
		"Год: "+f[string(StepYear)],
	)
	if category, ok := f[string(StepCategory)]; ok {
		if category == "" {
			category = NoCategoryLabel
		}
		lines = append(lines, "Категория: "+category)
	}
	if sub := f[string(StepSubcategory)]; sub != "" {
		lines = append(lines, "Подкатегория: "+sub)
	}

	buttons := []Button{{Text: confirmLabel, Callback: CallbackConfirm}}
	footer := promptConfirm
	if len(t.flow.Advanced) > 0 {
		buttons = append(buttons, Button{Text: advancedLabel, Callback: CallbackAdvanced})
		footer = promptConfirmAdvanced
	}
	buttons = append(buttons, Button{Text: cancelLabel, Callback: CallbackCancel})

	return Reply{
		Text:     "Вы выбрали:\n" + strings.Join(lines, "\n") + "\n\n" + footer,
		Keyboard: &Keyboard{Inline: true, Rows: [][]Button{buttons}},
	}
}
