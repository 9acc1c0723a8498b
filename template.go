package docxtemplar

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/beevik/etree"
)

// Движок подстановки для WordprocessingML с синтаксисом {{...}}.
// Поддержка:
// - {{Token}} — скалярная подстановка (имя ищется как есть и с обрезкой пробелов)
// - {{#exhibits}} ... {{/exhibits}} — размножение строк/абзацев по элементам массива
// - строка таблицы с токенами полей элемента ({{exhibitType}} и т.п.) —
//   неявная шаблонная строка, дублируется по элементам
// Ничего сверх простого повторения массивов: ни циклов, ни условий.

var (
	rxToken  = regexp.MustCompile(`\{\{([^{}]*?)\}\}`)
	rxMarker = regexp.MustCompile(`\{\{\s*[#/][^{}]*\}\}`)
)

// renderDocument прогоняет одну XML-часть через движок. Возвращает новую XML
// и число выполненных подстановок.
func renderDocument(xmlText string, table *TokenTable) (string, int, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xmlText); err != nil {
		return "", 0, fmt.Errorf("разбор XML части: %w", err)
	}
	mergeSplitTokens(doc)
	if errs := scanUnclosed(doc); len(errs) > 0 {
		// Сообщаем обо всех незакрытых токенах разом: одиночная проглоченная
		// ошибка прячет остальные и даёт «то работает, то нет» между ревизиями
		// шаблона.
		return "", 0, fmt.Errorf("незакрытые токены (%d): %s", len(errs), strings.Join(errs, "; "))
	}
	expandArrays(doc, table)
	count := substituteElement(doc.Root(), table.Lookup)
	out, err := doc.WriteToString()
	if err != nil {
		return "", 0, fmt.Errorf("сериализация XML части: %w", err)
	}
	return out, count, nil
}

// mergeSplitTokens сращивает токены, разорванные редактором на несколько
// текстовых прогонов внутри абзаца: проверка правописания и смена форматирования
// режут "{{Company Name}}" на куски вида "{{Com" + "pany Name}}".
func mergeSplitTokens(doc *etree.Document) {
	for _, p := range doc.FindElements("//w:p") {
		runs := p.FindElements(".//w:t")
		if len(runs) < 2 {
			continue
		}
		var sb strings.Builder
		for _, t := range runs {
			sb.WriteString(t.Text())
		}
		combined := sb.String()
		if !strings.Contains(combined, "{{") {
			continue
		}
		needMerge := false
		for _, m := range rxToken.FindAllString(combined, -1) {
			whole := false
			for _, t := range runs {
				if strings.Contains(t.Text(), m) {
					whole = true
					break
				}
			}
			if !whole {
				needMerge = true
				break
			}
		}
		// Разорванная пара скобок без закрытия в этом же абзаце: тоже сливаем,
		// чтобы проверка незакрытых токенов видела реальный текст.
		if !needMerge && strings.Contains(combined, "{{") && !strings.Contains(combined, "}}") {
			for _, t := range runs {
				if strings.Contains(t.Text(), "{") && !strings.Contains(t.Text(), "{{") {
					needMerge = true
					break
				}
			}
		}
		if !needMerge {
			continue
		}
		runs[0].SetText(combined)
		runs[0].CreateAttr("xml:space", "preserve")
		for _, t := range runs[1:] {
			t.SetText("")
		}
	}
}

// scanUnclosed собирает все места, где "{{" не закрыт до следующего "{{".
func scanUnclosed(doc *etree.Document) []string {
	var sb strings.Builder
	for _, p := range doc.FindElements("//w:p") {
		sb.WriteString(visibleText(p))
		sb.WriteString("\n")
	}
	var errs []string
	s := sb.String()
	for {
		i := strings.Index(s, "{{")
		if i < 0 {
			break
		}
		rest := s[i+2:]
		closeAt := strings.Index(rest, "}}")
		nextAt := strings.Index(rest, "{{")
		if closeAt < 0 || (nextAt >= 0 && nextAt < closeAt) {
			snippet := s[i:]
			if nl := strings.IndexByte(snippet, '\n'); nl >= 0 {
				snippet = snippet[:nl]
			}
			if len(snippet) > 40 {
				snippet = snippet[:40]
			}
			errs = append(errs, fmt.Sprintf("%q", snippet))
			if nextAt < 0 {
				break
			}
			s = rest[nextAt:]
			continue
		}
		s = rest[closeAt+2:]
	}
	return errs
}

// expandArrays размножает повторяемые блоки для обоих массивных полей.
// Порядок фиксирован, чтобы результат был детерминированным.
func expandArrays(doc *etree.Document, table *TokenTable) {
	arrays := []struct {
		name  string
		elems []map[string]string
	}{
		{"exhibits", table.exhibits},
		{"servers", table.servers},
	}
	for _, a := range arrays {
		// Явные маркеры {{#name}}...{{/name}}: на уровне тела — по абзацам,
		// внутри таблиц — по строкам.
		if body := doc.FindElement("//w:body"); body != nil {
			expandMarkerBlocks(body, a.name, a.elems, table)
		}
		for _, tbl := range doc.FindElements("//w:tbl") {
			expandMarkerBlocks(tbl, a.name, a.elems, table)
		}
		// Неявные шаблонные строки: строка таблицы с токенами полей элемента.
		for _, tbl := range doc.FindElements("//w:tbl") {
			expandFieldRows(tbl, a.name, a.elems, table)
		}
	}
}

// expandMarkerBlocks раскрывает все вхождения блока подряд. Ограничение
// на число итераций защищает от вырожденной разметки.
func expandMarkerBlocks(cont *etree.Element, name string, elems []map[string]string, table *TokenTable) {
	for i := 0; i < 16; i++ {
		if !expandMarkerBlock(cont, name, elems, table) {
			return
		}
	}
}

func expandMarkerBlock(cont *etree.Element, name string, elems []map[string]string, table *TokenTable) bool {
	openMark := "{{#" + name + "}}"
	closeMark := "{{/" + name + "}}"
	children := cont.ChildElements()
	start, end := -1, -1
	for i, ch := range children {
		if ch.Tag != "p" && ch.Tag != "tr" {
			continue
		}
		txt := visibleText(ch)
		if start < 0 {
			if strings.Contains(txt, openMark) {
				start = i
				if strings.Contains(txt, closeMark) {
					end = i
					break
				}
			}
			continue
		}
		if strings.Contains(txt, closeMark) {
			end = i
			break
		}
	}
	if start < 0 || end < 0 {
		return false
	}

	// Шаблон блока: элементы между маркерами; элемент, который после снятия
	// маркеров пустеет, был чисто служебной строкой и в шаблон не входит.
	var tmpl []*etree.Element
	for i := start; i <= end; i++ {
		cp := children[i].Copy()
		stripMarkers(cp)
		hadMarker := i == start || i == end
		if hadMarker && strings.TrimSpace(visibleText(cp)) == "" {
			continue
		}
		tmpl = append(tmpl, cp)
	}

	var rendered []*etree.Element
	for _, el := range elems {
		bind := elementLookup(el, table)
		for _, tc := range tmpl {
			cp := tc.Copy()
			substituteElement(cp, bind)
			rendered = append(rendered, cp)
		}
	}

	at := tokenIndex(cont, children[start])
	for i := len(rendered) - 1; i >= 0; i-- {
		cont.InsertChildAt(at, rendered[i])
	}
	for i := start; i <= end; i++ {
		cont.RemoveChild(children[i])
	}
	return true
}

// expandFieldRows дублирует строки таблицы, ссылающиеся на поля элементов
// массива. Пустой массив даёт ноль строк — это не ошибка.
func expandFieldRows(tbl *etree.Element, name string, elems []map[string]string, table *TokenTable) {
	fields := arrayFields[name]
	for _, row := range tbl.ChildElements() {
		if row.Tag != "tr" {
			continue
		}
		if !rowReferencesFields(visibleText(row), fields) {
			continue
		}
		at := tokenIndex(tbl, row)
		for i := len(elems) - 1; i >= 0; i-- {
			cp := row.Copy()
			substituteElement(cp, elementLookup(elems[i], table))
			tbl.InsertChildAt(at, cp)
		}
		tbl.RemoveChild(row)
	}
}

func rowReferencesFields(txt string, fields []string) bool {
	for _, m := range rxToken.FindAllStringSubmatch(txt, -1) {
		nk := normKey(m[1])
		for _, f := range fields {
			if nk == f {
				return true
			}
		}
	}
	return false
}

// elementLookup связывает токены сначала с полями элемента, затем с общей таблицей.
func elementLookup(el map[string]string, table *TokenTable) func(string) (string, bool) {
	return func(name string) (string, bool) {
		if v, ok := el[normKey(name)]; ok {
			return v, true
		}
		return table.Lookup(name)
	}
}

// substituteElement заменяет токены во всех текстовых прогонах поддерева.
// Токен без значения в таблице получает типовое значение по имени — рендер
// не имеет права упасть из-за недостающего поля.
func substituteElement(root *etree.Element, lookup func(string) (string, bool)) int {
	count := 0
	for _, t := range root.FindElements(".//w:t") {
		txt := t.Text()
		if !strings.Contains(txt, "{{") {
			continue
		}
		out := rxToken.ReplaceAllStringFunc(txt, func(m string) string {
			inner := m[2 : len(m)-2]
			trimmed := strings.TrimSpace(inner)
			if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "/") {
				return m // маркеры блоков обрабатываются отдельно
			}
			if v, ok := lookup(inner); ok {
				count++
				return v
			}
			if v, ok := lookup(trimmed); ok {
				count++
				return v
			}
			count++
			return inferDefault(trimmed)
		})
		if out != txt {
			t.SetText(out)
		}
	}
	return count
}

func stripMarkers(el *etree.Element) {
	for _, t := range el.FindElements(".//w:t") {
		txt := t.Text()
		if rxMarker.MatchString(txt) {
			t.SetText(rxMarker.ReplaceAllString(txt, ""))
		}
	}
}

// visibleText — видимый человеку текст поддерева (конкатенация w:t).
func visibleText(el *etree.Element) string {
	var sb strings.Builder
	for _, t := range el.FindElements(".//w:t") {
		sb.WriteString(t.Text())
	}
	return sb.String()
}

// normText сжимает пробелы и приводит к нижнему регистру для сравнения фраз.
func normText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func tokenIndex(parent, child *etree.Element) int {
	for i, tok := range parent.Child {
		if el, ok := tok.(*etree.Element); ok && el == child {
			return i
		}
	}
	return len(parent.Child)
}
