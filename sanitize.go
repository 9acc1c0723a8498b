package docxtemplar

import (
	"regexp"
	"strings"

	"github.com/beevik/etree"
	"github.com/expr-lang/expr"
	"golang.org/x/text/unicode/norm"
)

// Пост-обработка отрендеренного XML: в итоговом документе не должно остаться
// ни следов шаблона, ни потерявших смысл фрагментов. Проходы упорядочены
// (каждый рассчитывает на результат предыдущего) и идемпотентны: конвейер
// может перепроверить выход и прогнать очистку повторно.
//
// Структурные проходы работают по DOM целыми элементами <w:tr>/<w:p> — удаление
// ячейки без её строки ломает сетку таблицы, и Word предлагает «восстановить
// нечитаемое содержимое». Текстовые проходы работают по сериализованной части.

// cleanupRule — запись декларативной таблицы проходов. Условие — выражение
// expr-lang над окружением правила; пустое условие означает «всегда».
type cleanupRule struct {
	name    string
	when    string
	headers bool // применять и к колонтитулам
}

// cleanupRules — порядок важен.
var cleanupRules = []cleanupRule{
	{name: "discount-rows", when: "!discountApplied", headers: true},
	{name: "validity-sentences"},
	{name: "empty-rows"},
	{name: "stale-tokens"},
	{name: "overage-rates"},
	{name: "data-size-decorations", when: "!usesDataSize"},
	{name: "mojibake", headers: true},
}

var cleanupPasses = map[string]func(string) string{
	"discount-rows":         passDiscountRows,
	"validity-sentences":    passValiditySentences,
	"empty-rows":            passEmptyRows,
	"stale-tokens":          passStaleTokens,
	"overage-rates":         passOverageRates,
	"data-size-decorations": passDataSizeDecorations,
	"mojibake":              passMojibake,
}

// OverageRule задаёт фиксированную ставку overage для тарифного раздела:
// у части тарифов ставка за единицу зафиксирована бизнесом независимо от того,
// что насчитал калькулятор выше по конвейеру.
type OverageRule struct {
	Heading string
	Rate    string
}

// OverageRates — значения эмпирические, подтверждать с бизнесом (DESIGN.md).
var OverageRates = []OverageRule{
	{Heading: "Content Migration", Rate: "$1.50"},
	{Heading: "Messaging Migration", Rate: "$0.50"},
}

// MojibakeReplacements — известные артефакты UTF-8, прочитанного как cp1252.
// Набор наблюдён на реальных шаблонах; таблица экспортирована как справочная.
var MojibakeReplacements = []struct{ Bad, Good string }{
	{"â€™", "'"},      // ’ — правый апостроф
	{"â€˜", "'"},      // ‘ — левый апостроф
	{"â€œ", "\""},     // “ — левая кавычка
	{"â€", "\""},     // ” — правая кавычка
	{"â€“", "-"},      // – — en dash
	{"â€”", "-"},      // — — em dash
	{"â€¦", "..."},    // … — многоточие
	{"Â ", " "},            // неразрывный пробел с паразитным Â
}

var (
	rxUndefined   = regexp.MustCompile(`(?i)undefined`)
	rxValidity    = regexp.MustCompile(`^instances? valid for \d+ months?\.?$`)
	rxRatePerGB   = regexp.MustCompile(`\$\d+(?:\.\d+)? per GB`)
	rxDupCurrency = regexp.MustCompile(`\$(\d+\.\d)\$(\d+\.\d{2})`)
	rxGBDecor     = regexp.MustCompile(`\s*\|\s*\d+(?:\.\d+)?\s*GBs?`)
	rxPerGBDecor  = regexp.MustCompile(`\s*\|\s*\$\d+(?:\.\d+)?\s*per\s*GB`)
)

// SanitizeContainer прогоняет таблицу правил по document.xml; помеченные
// правила дополнительно обрабатывают колонтитулы.
func SanitizeContainer(c *Container, env map[string]any) {
	for _, rule := range cleanupRules {
		if !ruleApplies(rule, env) {
			continue
		}
		pass := cleanupPasses[rule.name]
		parts := []string{docPart}
		if rule.headers {
			parts = append(parts, c.headerFooterParts()...)
		}
		for _, name := range parts {
			data, ok := c.Part(name)
			if !ok {
				continue
			}
			cleaned := pass(string(data))
			if cleaned != string(data) {
				c.SetPart(name, []byte(cleaned))
			}
		}
	}
}

// ruleApplies вычисляет условие правила через expr-lang. Правило с битым
// условием считается безусловным: очистка best-effort и не падает.
func ruleApplies(rule cleanupRule, env map[string]any) bool {
	if rule.when == "" {
		return true
	}
	prog, err := expr.Compile(rule.when, expr.Env(env), expr.AsBool())
	if err != nil {
		return true
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return true
	}
	b, ok := out.(bool)
	return !ok || b
}

// -----------------------------
// Структурные проходы (DOM)
// -----------------------------

// domPass разбирает часть, применяет мутацию и сериализует обратно.
// Неразбираемая часть возвращается как есть: проход — no-op, не ошибка.
func domPass(xmlText string, mutate func(doc *etree.Document)) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xmlText); err != nil {
		return xmlText
	}
	mutate(doc)
	out, err := doc.WriteToString()
	if err != nil {
		return xmlText
	}
	return out
}

// passDiscountRows убирает строки таблиц и отдельные абзацы, состоящие из
// одной только скидочной болванки, когда скидка не применена.
func passDiscountRows(xmlText string) string {
	return domPass(xmlText, func(doc *etree.Document) {
		for _, tr := range doc.FindElements("//w:tr") {
			if isDiscountOnly(normText(visibleText(tr))) {
				removeFromParent(tr)
			}
		}
		for _, p := range doc.FindElements("//w:p") {
			if !isStandalone(p) {
				continue
			}
			if isDiscountOnly(normText(visibleText(p))) {
				removeFromParent(p)
			}
		}
	})
}

func isDiscountOnly(txt string) bool {
	switch txt {
	case "discount", "n/a", "discount n/a":
		return true
	}
	return len(txt) < 50 && strings.Contains(txt, "discount") && strings.Contains(txt, "n/a")
}

// passValiditySentences удаляет абзацы с болванкой про срок действия инстанса:
// она дублирует сведения, уже свёрнутые в описание сервера. Фразу про срок
// договора не трогаем — та стоит в документе намеренно (поэтому матчим только
// предложения, начинающиеся с "instance").
func passValiditySentences(xmlText string) string {
	return domPass(xmlText, func(doc *etree.Document) {
		for _, p := range doc.FindElements("//w:p") {
			if !isStandalone(p) {
				continue
			}
			if rxValidity.MatchString(normText(visibleText(p))) {
				removeFromParent(p)
			}
		}
	})
}

// passEmptyRows убирает строки таблиц без текста. Строка с картинкой или
// иным объектом остаётся: пустой текст там намеренный.
func passEmptyRows(xmlText string) string {
	return domPass(xmlText, func(doc *etree.Document) {
		for _, tr := range doc.FindElements("//w:tr") {
			if strings.TrimSpace(visibleText(tr)) != "" {
				continue
			}
			if tr.FindElement(".//w:drawing") != nil ||
				tr.FindElement(".//w:pict") != nil ||
				tr.FindElement(".//w:object") != nil {
				continue
			}
			removeFromParent(tr)
		}
	})
}

// passStaleTokens вычищает уцелевшие артефакты шаблона: литерал "undefined"
// в любом регистре и нераскрытые {{...}}.
func passStaleTokens(xmlText string) string {
	out := rxUndefined.ReplaceAllString(xmlText, "")
	return rxToken.ReplaceAllString(out, "")
}

// passOverageRates патчит ставки overage возле тарифных заголовков и
// схлопывает задвоившиеся денежные фрагменты ("$1.5$1.50" -> "$1.50").
func passOverageRates(xmlText string) string {
	for _, rule := range OverageRates {
		idx := strings.Index(xmlText, rule.Heading)
		if idx < 0 {
			continue
		}
		end := idx + 4000
		if end > len(xmlText) {
			end = len(xmlText)
		}
		window := rxRatePerGB.ReplaceAllString(xmlText[idx:end], rule.Rate+" per GB")
		xmlText = xmlText[:idx] + window + xmlText[end:]
	}
	return rxDupCurrency.ReplaceAllStringFunc(xmlText, func(m string) string {
		parts := rxDupCurrency.FindStringSubmatch(m)
		if strings.HasPrefix(parts[2], parts[1]) {
			return "$" + parts[2]
		}
		return m
	})
}

// passDataSizeDecorations убирает украшения " | N GBs" и " | $X per GB" для
// типов миграции без понятия объёма данных. Редактор может разрезать украшение
// по границам прогонов, поэтому матчим по склеенному тексту абзаца и
// переписываем прогоны целиком.
func passDataSizeDecorations(xmlText string) string {
	return domPass(xmlText, func(doc *etree.Document) {
		for _, p := range doc.FindElements("//w:p") {
			runs := p.FindElements(".//w:t")
			if len(runs) == 0 {
				continue
			}
			var sb strings.Builder
			for _, t := range runs {
				sb.WriteString(t.Text())
			}
			combined := sb.String()
			cleaned := rxGBDecor.ReplaceAllString(combined, "")
			cleaned = rxPerGBDecor.ReplaceAllString(cleaned, "")
			if cleaned == combined {
				continue
			}
			runs[0].SetText(cleaned)
			runs[0].CreateAttr("xml:space", "preserve")
			for _, t := range runs[1:] {
				t.SetText("")
			}
		}
	})
}

// passMojibake заменяет известные артефакты кодировки и нормализует текст к NFC.
func passMojibake(xmlText string) string {
	for _, r := range MojibakeReplacements {
		xmlText = strings.ReplaceAll(xmlText, r.Bad, r.Good)
	}
	return norm.NFC.String(xmlText)
}

// -----------------------------
// Вспомогательные
// -----------------------------

// isStandalone — абзац вне ячейки таблицы. Абзацы внутри ячеек удаляются
// только вместе со своей строкой.
func isStandalone(p *etree.Element) bool {
	for par := p.Parent(); par != nil; par = par.Parent() {
		if par.Tag == "tc" {
			return false
		}
	}
	return true
}

func removeFromParent(el *etree.Element) {
	if par := el.Parent(); par != nil {
		par.RemoveChild(el)
	}
}
