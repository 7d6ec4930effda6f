package wizard

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/etofiasko/tg-bot-v2/internal/domain"
)

// Button labels the rules understand.
const (
	RestartLabel       = "Начать заново"
	SkipLabel          = "Пропустить"
	NoCategoryLabel    = "Нет категории"
	ExcludeNoneLabel   = "Пропустить (включить все знаки ТН ВЭД)"
	ExcludePresetLabel = "Исключить знаки ТН ВЭД по реэкспорту"
	Digits4Label       = "4 знака"
	Digits6Label       = "6 знаков"
	Digits10Label      = "10 знаков"
	BackLabel          = "Вернуться назад"
)

// reexportPreset lists goods codes excluded from reports by the re-export preset.
const reexportPreset = "8411,841111,841112,841121,841122,841181,841182,841191,841199,851711,851712,851713,851714,851718,851761,851762,851769,851770,51771," +
	"851779,880211,880212,880220,880230,880240,880260,8411128009,8517610001,8517610002,8411910008,8411123006,8802300002,8802400011,8517," +
	"8411121009,8411123008,8411826001,8411222008,8411110009,8802110002,8411810008,8517693100,8802120001,8411210001,8802200001,8802400036," +
	"8411990019,8411810001,8411822008,8411910002,8802120009,8802300007,8411210009,8411228001,8411123009,8411990011,8802400018,8411910001," +
	"8411110001,8411128002,8411828009,8411990098,8517110000,8517130000,8517140000,8517180000,8517610008,8517620002,8517620003,8517620009," +
	"8517691000,8517692000,8517693900,8517699000,8517711100,8517711500,8517711900,8517790001,8517790009,8802200008,8411121001,8411228008," +
	"8802400039,8802400034,8411822001,8411990091,8411990092,8802300003,8802110009,8517701100,8517709009,8802110003,8802601000,8517120000," +
	"8517701500,8517701900,8517709001,8411222003,8802200002,8802"

var (
	lenientGoodsCode = regexp.MustCompile(`^\d{2,10}$`)
	strictGoodsCode  = regexp.MustCompile(`^(\d{4}|\d{6}|\d{10})$`)
)

// Rejection explains why input was not accepted. The session stays on its step.
type Rejection struct {
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

func reject(format string, args ...any) *Rejection {
	return &Rejection{Message: fmt.Sprintf(format, args...)}
}

// ReexportPreset returns a fresh copy of the re-export exclusion list.
func ReexportPreset() []string {
	return strings.Split(reexportPreset, ",")
}

// IsRestart reports whether raw is the restart command.
func IsRestart(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), RestartLabel)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Choice accepts raw when it is one of options.
func Choice(raw string, options []string, notFound string) (string, *Rejection) {
	v := strings.TrimSpace(raw)
	for _, o := range options {
		if o == v {
			return v, nil
		}
	}
	return "", &Rejection{Message: notFound}
}

// GoodsCode checks the digit-length grammar of a goods code. Strict mode
// accepts only the 4, 6 and 10 digit levels of the nomenclature.
func GoodsCode(raw string, strict bool) (string, *Rejection) {
	v := strings.TrimSpace(raw)
	if strict {
		if !strictGoodsCode.MatchString(v) {
			return "", reject("Неверный формат ТН ВЭД. Код должен состоять из 4, 6 или 10 цифр.")
		}
		return v, nil
	}
	if !lenientGoodsCode.MatchString(v) {
		return "", reject("Неверный формат ТН ВЭД. Убедитесь, что вы ввели только цифры (от 2 до 10 знаков).")
	}
	return v, nil
}

// MonthRange parses "", a single month "X" or an ordered pair "X, Y".
func MonthRange(raw string) (domain.MonthRange, *Rejection) {
	v := strings.TrimSpace(raw)
	if v == "" || v == SkipLabel {
		return domain.MonthRange{}, nil
	}
	if strings.Contains(v, ",") {
		parts := strings.Split(v, ",")
		if len(parts) != 2 {
			return domain.MonthRange{}, reject("Неверный формат месяцев. Убедитесь, что вы ввели два числа через запятую.")
		}
		fromRaw, toRaw := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if !isDigits(fromRaw) || !isDigits(toRaw) {
			return domain.MonthRange{}, reject("Неверный формат месяцев. Убедитесь, что вы ввели два числа через запятую.")
		}
		from, _ := strconv.Atoi(fromRaw)
		to, _ := strconv.Atoi(toRaw)
		switch {
		case from < 1 || from > 12 || to < 1 || to > 12:
			return domain.MonthRange{}, reject("Месяцы должны быть от 1 до 12.")
		case to < from:
			return domain.MonthRange{}, reject("Конечный месяц не может быть меньше начального.")
		case from == to:
			return domain.MonthRange{}, reject("Начальный и конечный месяц не должны быть одинаковыми.")
		}
		return domain.MonthRange{From: from, To: to}, nil
	}

	if !isDigits(v) {
		return domain.MonthRange{}, reject("%s", promptMonths)
	}
	month, _ := strconv.Atoi(v)
	if month < 1 || month > 12 {
		return domain.MonthRange{}, reject("Месяц должен быть от 1 до 12.")
	}
	return domain.MonthRange{From: month, To: month}, nil
}

// ExcludedCodes parses a comma-separated list of goods codes to leave out.
// The skip button yields an empty list, the preset button the re-export preset.
func ExcludedCodes(raw string) ([]string, *Rejection) {
	v := strings.TrimSpace(raw)
	switch v {
	case ExcludeNoneLabel:
		return []string{}, nil
	case ExcludePresetLabel:
		return ReexportPreset(), nil
	}

	v = strings.TrimSpace(strings.Trim(v, ","))
	if !strings.Contains(v, ",") {
		if !isDigits(v) {
			return nil, reject("Неверный формат ТН ВЭД. Убедитесь, что вы ввели верные данные.")
		}
		return []string{v}, nil
	}

	var codes []string
	for _, code := range strings.Split(v, ",") {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if !isDigits(code) {
			return nil, reject("Неверный формат ТН ВЭД. Убедитесь, что вы ввели верные данные через запятую.")
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// Digits parses the code grouping level. Ten digits are only allowed for
// reports without a subcategory.
func Digits(raw string, allowTen bool) (int, *Rejection) {
	v := strings.TrimSpace(raw)
	switch {
	case v == Digits4Label || v == SkipLabel:
		return 4, nil
	case v == Digits6Label:
		return 6, nil
	case v == Digits10Label && allowTen:
		return 10, nil
	}

	if !isDigits(v) {
		if allowTen {
			return 0, reject("Пожалуйста, введите число 4, 6, 10 или пропустите данный шаг.")
		}
		return 0, reject("Пожалуйста, введите число 4, 6 или пропустите данный шаг.")
	}
	n, _ := strconv.Atoi(v)
	switch {
	case n == 4 || n == 6:
		return n, nil
	case n == 10 && allowTen:
		return n, nil
	case allowTen:
		return 0, reject("Число должно быть 4, 6 или 10. Попробуйте ещё раз.")
	default:
		return 0, reject("Число должно быть 4 или 6. Попробуйте ещё раз.")
	}
}

// BoundedInt parses an integer in [lo, hi]; the skip button yields def.
func BoundedInt(raw string, lo, hi, def int) (int, *Rejection) {
	v := strings.TrimSpace(raw)
	if v == SkipLabel {
		return def, nil
	}
	if !isDigits(v) {
		return 0, reject("Пожалуйста, введите число от %d до %d или пропустите данный шаг.", lo, hi)
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, reject("Число должно быть в диапазоне от %d до %d. Попробуйте ещё раз.", lo, hi)
	}
	return n, nil
}
