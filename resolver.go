package docxtemplar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Построение таблицы токен→значение из слабо типизированной записи котировки.
// Шаблоны нам не подконтрольны: одно и то же поле встречается как "Company Name",
// "Company_Name", "company name" и "companyName". Резолвер обязан накрыть все
// варианты написания и никогда не оставить токен без значения — отсутствующие
// данные деградируют до типового значения по смыслу имени, не до "undefined".

// Record — входная запись котировки. Значения: строки, числа, bool, плюс два
// массивных поля "exhibits" и "servers" (срезы map-объектов).
type Record map[string]any

type valueKind int

const (
	kindText valueKind = iota
	kindMoney
	kindCount
	kindMonths
	kindNA
)

// fieldGroup — группа канонических алиасов одного логического значения.
// Значение, пришедшее под любым алиасом, становится видимым под всеми.
type fieldGroup struct {
	canon    string
	aliases  []string
	kind     valueKind
	discount bool // семейство скидки: гасится целиком, если скидка не применена
}

// fieldGroups — декларативная таблица вместо россыпи цепочек `a || b || c`
// (одна структура, один общий цикл разрешения).
var fieldGroups = []fieldGroup{
	{canon: "company", aliases: []string{"Company Name", "Company", "Organization Name"}, kind: kindText},
	{canon: "client", aliases: []string{"Client Name", "Customer Name", "Contact Name"}, kind: kindText},
	{canon: "client_email", aliases: []string{"Client Email", "Customer Email", "Contact Email"}, kind: kindText},
	{canon: "users", aliases: []string{"Number of Users", "User Count", "Users", "Total Users"}, kind: kindCount},
	{canon: "user_cost", aliases: []string{"User Cost", "Cost Per User", "Price Per User"}, kind: kindMoney},
	{canon: "duration", aliases: []string{"Duration of Months", "Duration", "Contract Length", "Months"}, kind: kindMonths},
	{canon: "start_date", aliases: []string{"Start Date", "Migration Start Date", "Contract Start Date"}, kind: kindNA},
	{canon: "end_date", aliases: []string{"End Date", "Migration End Date", "Contract End Date"}, kind: kindNA},
	{canon: "total_price", aliases: []string{"Total Price", "Total Cost", "Quote Total", "Price"}, kind: kindMoney},
	{canon: "migration_cost", aliases: []string{"Migration Cost", "Migration Price", "Total Migration Cost"}, kind: kindMoney},
	{canon: "prepared_by", aliases: []string{"Prepared By", "Account Manager", "Sales Rep"}, kind: kindText},
	{canon: "quote_date", aliases: []string{"Quote Date", "Proposal Date", "Date"}, kind: kindNA},
	{canon: "discount_percent", aliases: []string{"Discount Percentage", "Discount Percent", "Discount"}, kind: kindCount, discount: true},
	{canon: "discount_amount", aliases: []string{"Discount Amount", "Discount Value"}, kind: kindMoney, discount: true},
	{canon: "discount_label", aliases: []string{"Discount Label", "Show Discount", "Discount Section"}, kind: kindText, discount: true},
	{canon: "instance_cost", aliases: []string{"Instance Cost", "Cost Per Instance", "Per Instance Cost"}, kind: kindMoney},
	{canon: "instance_count", aliases: []string{"Number of Instances", "Instance Count", "Instances"}, kind: kindCount},
	{canon: "instance_type", aliases: []string{"Instance Type", "Migration Type"}, kind: kindText},
	{canon: "instance_users", aliases: []string{"Instance Users", "Instances In Words"}, kind: kindText},
	{canon: "data_cost", aliases: []string{"Data Cost", "Per GB Cost", "Cost Per GB", "Data Cost Per GB"}, kind: kindMoney},
	{canon: "data_size", aliases: []string{"Data Size", "Data Size GB", "GB Data"}, kind: kindCount},
	{canon: "content_cost", aliases: []string{"Content Cost", "Content Migration Cost"}, kind: kindMoney},
	{canon: "messaging_cost", aliases: []string{"Messaging Cost", "Messaging Migration Cost"}, kind: kindMoney},
	{canon: "monthly_rate", aliases: []string{"Per User Monthly Rate", "Monthly Rate Per User", "User Monthly Cost"}, kind: kindMoney},
}

// InstanceTypeCosts — стоимость инстанса по типу миграции, когда явная цена
// не передана.
var InstanceTypeCosts = map[string]string{
	"teams":      "$1,000.00",
	"sharepoint": "$990.00",
	"onedrive":   "$690.00",
	"mailbox":    "$495.00",
	"archive":    "$495.00",
}

// DataSizeFreeTypes — типы миграции без понятия «объём данных»: для них
// санитайзер убирает украшения " | N GBs" целиком.
var DataSizeFreeTypes = map[string]bool{
	"messaging":       true,
	"teams messaging": true,
	"chat":            true,
}

// arrayFields — поля элементов массивных блоков (нормализованные имена).
// Строка таблицы, ссылающаяся на такое поле, считается шаблонной строкой блока.
var arrayFields = map[string][]string{
	"exhibits": {"exhibittype", "exhibitdesc", "exhibitplan", "exhibitprice"},
	"servers":  {"description", "cost", "servername", "serverdesc"},
}

// TokenTable — полностью разрешённая таблица значений плюс массивные блоки.
type TokenTable struct {
	values          map[string]string // все варианты написания → значение
	norm            map[string]string // нормализованный ключ → значение (запасной поиск)
	exhibits        []map[string]string
	servers         []map[string]string
	discountApplied bool
	usesDataSize    bool
}

// BuildTokenTable строит исчерпывающую таблицу. Никогда не возвращает ошибку:
// договорные документы рендерятся по принципу best-effort, а не валидируются.
func BuildTokenTable(rec Record) *TokenTable {
	t := &TokenTable{values: map[string]string{}, norm: map[string]string{}}
	raw := map[string]string{}
	rawKeys := map[string]string{}
	for k, v := range rec {
		switch normKey(k) {
		case "exhibits":
			t.exhibits = toElementList(v)
		case "servers":
			t.servers = toElementList(v)
		default:
			ck := cleanKey(k)
			nk := normKey(ck)
			if nk == "" {
				continue
			}
			raw[nk] = toText(v)
			rawKeys[nk] = ck
		}
	}

	// Разрешение групп: первое непустое значение среди алиасов.
	group := map[string]string{}
	for _, g := range fieldGroups {
		val := ""
		for _, a := range g.aliases {
			if v, ok := raw[normKey(a)]; ok && !isSentinel(v) && v != "" {
				val = v
				break
			}
		}
		group[g.canon] = val
	}

	// Правило скидки: применена, только если значение есть и не ""/"0"/"N/A".
	t.discountApplied = discountApplied(group["discount_percent"]) ||
		discountApplied(group["discount_amount"])
	if !t.discountApplied {
		for _, g := range fieldGroups {
			if g.discount {
				group[g.canon] = ""
			}
		}
	}

	// Даты: нормализация к MM/DD/YYYY; конец выводится из начала и срока.
	months := parseCount(group["duration"])
	group["start_date"] = normalizeDate(group["start_date"])
	group["end_date"] = normalizeDate(group["end_date"])
	if group["end_date"] == "N/A" || group["end_date"] == "" {
		if start, ok := parseDate(group["start_date"]); ok && months > 0 {
			group["end_date"] = start.AddDate(0, int(months), 0).Format("01/02/2006")
		}
	}
	if group["quote_date"] != "" {
		group["quote_date"] = normalizeDate(group["quote_date"])
	}

	// Производные значения.
	if group["monthly_rate"] == "" {
		users := parseCount(group["users"])
		cost, okCost := parseMoney(group["user_cost"])
		if okCost && users > 0 && months > 0 {
			group["monthly_rate"] = formatMoney(cost / float64(users*months))
		}
	}
	if group["instance_cost"] == "" {
		if v, ok := InstanceTypeCosts[strings.ToLower(strings.TrimSpace(group["instance_type"]))]; ok {
			group["instance_cost"] = v
		}
	}
	if group["instance_users"] == "" {
		if n := parseCount(group["instance_count"]); n > 0 || group["instance_count"] == "0" {
			group["instance_users"] = numberToWords(n)
		}
	}

	t.usesDataSize = !DataSizeFreeTypes[strings.ToLower(strings.TrimSpace(group["instance_type"]))] &&
		group["data_size"] != "" && group["data_size"] != "0"

	// Регистрация групповых значений под всеми алиасами и их вариантами.
	for _, g := range fieldGroups {
		val := group[g.canon]
		if val == "" && !g.discount {
			val = defaultForKind(g.kind)
		}
		for _, a := range g.aliases {
			t.register(a, val)
		}
	}

	// Исходные ключи, не накрытые группами, регистрируются как есть.
	for nk, orig := range rawKeys {
		if _, ok := t.norm[nk]; ok {
			continue
		}
		t.register(orig, raw[nk])
	}

	// Контрольный проход: сентинелы "undefined"/"null" не должны дойти до рендера.
	for k, v := range t.values {
		if isSentinel(v) {
			t.values[k] = inferDefault(k)
		}
	}
	for k, v := range t.norm {
		if isSentinel(v) {
			t.norm[k] = inferDefault(k)
		}
	}
	return t
}

// Lookup ищет значение токена: точное написание, затем с обрезкой пробелов,
// затем по нормализованному ключу (это накрывает camelCase и прочие варианты).
func (t *TokenTable) Lookup(name string) (string, bool) {
	if v, ok := t.values[name]; ok {
		return v, true
	}
	trimmed := strings.TrimSpace(name)
	if v, ok := t.values[trimmed]; ok {
		return v, true
	}
	if v, ok := t.norm[normKey(trimmed)]; ok {
		return v, true
	}
	return "", false
}

// NonEmptyCount — диагностическая метрика «сколько токенов было чем заполнить».
func (t *TokenTable) NonEmptyCount() int {
	n := 0
	for _, v := range t.norm {
		if v != "" {
			n++
		}
	}
	return n
}

func (t *TokenTable) ruleEnv() map[string]any {
	return map[string]any{
		"discountApplied": t.discountApplied,
		"usesDataSize":    t.usesDataSize,
	}
}

func (t *TokenTable) register(key, val string) {
	for _, variant := range spellingVariants(key) {
		if cur, ok := t.values[variant]; ok && cur != "" && val == "" {
			continue
		}
		t.values[variant] = val
	}
	nk := normKey(key)
	if cur, ok := t.norm[nk]; !ok || cur == "" {
		t.norm[nk] = val
	}
}

// spellingVariants порождает четыре принятых конвенции написания ключа:
// исходную, через пробел, через подчёркивание и kebab.
func spellingVariants(key string) []string {
	base := strings.TrimSpace(key)
	fields := strings.FieldsFunc(base, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	})
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	add(base)
	add(strings.Join(fields, " "))
	add(strings.Join(fields, "_"))
	add(strings.Join(fields, "-"))
	return out
}

// normKey приводит ключ к форме для сравнения: нижний регистр, без
// пробелов/подчёркиваний/дефисов. "Company Name" и "companyName" совпадают.
func normKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if r == ' ' || r == '_' || r == '-' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// cleanKey снимает обёртку плейсхолдера, если ключ пришёл уже в виде "{{Key}}".
func cleanKey(k string) string {
	k = strings.TrimSpace(k)
	k = strings.TrimPrefix(k, "{{")
	k = strings.TrimSuffix(k, "}}")
	return strings.TrimSpace(k)
}

func isSentinel(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "undefined", "null":
		return true
	}
	return false
}

func discountApplied(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "n/a":
		return false
	}
	return true
}

func defaultForKind(k valueKind) string {
	switch k {
	case kindMoney:
		return "$0.00"
	case kindCount:
		return "0"
	case kindMonths:
		return "1"
	case kindNA:
		return "N/A"
	}
	return ""
}

// inferDefault подбирает типовое значение по смыслу имени токена.
func inferDefault(key string) string {
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, "cost") || strings.Contains(k, "price") ||
		strings.Contains(k, "amount") || strings.Contains(k, "rate") ||
		strings.Contains(k, "total"):
		return "$0.00"
	case strings.Contains(k, "month") || strings.Contains(k, "duration"):
		return "1"
	case strings.Contains(k, "count") || strings.Contains(k, "number") ||
		strings.Contains(k, "users") || strings.Contains(k, "size") ||
		strings.Contains(k, "gb") || strings.Contains(k, "qty"):
		return "0"
	case strings.Contains(k, "date"):
		return "N/A"
	}
	return ""
}

// toText приводит значение записи к строке. Числа форматирует вызывающая
// сторона; здесь только аккуратное строковое представление.
func toText(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case float64:
		if vv == float64(int64(vv)) {
			return strconv.FormatInt(int64(vv), 10)
		}
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case int:
		return strconv.Itoa(vv)
	case int64:
		return strconv.FormatInt(vv, 10)
	case bool:
		if vv {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", vv)
	}
}

// toElementList разворачивает массивное поле в срез элементов с
// нормализованными ключами (для локального связывания при размножении строк).
func toElementList(v any) []map[string]string {
	var out []map[string]string
	addMap := func(m map[string]any) {
		el := map[string]string{}
		for k, val := range m {
			el[normKey(k)] = toText(val)
		}
		out = append(out, el)
	}
	switch vv := v.(type) {
	case []any:
		for _, it := range vv {
			if m, ok := it.(map[string]any); ok {
				addMap(m)
			}
		}
	case []map[string]any:
		for _, m := range vv {
			addMap(m)
		}
	case []map[string]string:
		for _, m := range vv {
			el := map[string]string{}
			for k, val := range m {
				el[normKey(k)] = val
			}
			out = append(out, el)
		}
	}
	return out
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"01-02-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2006-01-02T15:04:05Z07:00",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "n/a") {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

// normalizeDate приводит дату к MM/DD/YYYY; нечитаемая дата — "N/A", не паника.
func normalizeDate(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	d, ok := parseDate(s)
	if !ok {
		return "N/A"
	}
	return d.Format("01/02/2006")
}

func parseCount(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

func parseMoney(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// formatMoney печатает "$1,234.56".
func formatMoney(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := strconv.FormatFloat(v, 'f', 2, 64)
	dot := strings.Index(s, ".")
	intPart, frac := s[:dot], s[dot:]
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := "$" + b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}
