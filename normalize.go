package docxtemplar

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fenceRx извлекает JSON, обёрнутый в тройные кавычки ``` ... ```.
var fenceRx = regexp.MustCompile("(?s)```[a-zA-Z]*\\n(.*?)```")

func sanitizeJSONBlock(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	m := fenceRx.FindStringSubmatch(s)
	if len(m) >= 2 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// ParseRecord разбирает JSON записи котировки. Терпит обёртку в тройные
// кавычки и мусор вокруг внешних фигурных скобок.
func ParseRecord(jsonText string) (Record, error) {
	s := strings.TrimSpace(sanitizeJSONBlock(jsonText))
	if s == "" {
		return nil, fmt.Errorf("пустая запись")
	}
	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if i := strings.LastIndex(s, "}"); i >= 0 && i < len(s)-1 {
		s = s[:i+1]
	}
	var rec Record
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return nil, fmt.Errorf("разбор записи: %w", err)
	}
	return rec, nil
}

// NormalizeRecord приводит запись к более предсказуемой форме:
// - обрезает пробелы у ключей и строковых значений
// - выбрасывает nil-значения из вложенных объектов
// - удаляет явные дубликаты объектов в массивах (по сериализованному виду)
// - рекурсивно нормализует вложенные структуры
func NormalizeRecord(rec Record) Record {
	if rec == nil {
		return Record{}
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		if v == nil {
			continue
		}
		out[strings.TrimSpace(k)] = deepNormalize(v)
	}
	return out
}

func deepNormalize(v any) any {
	switch vv := v.(type) {
	case string:
		return strings.TrimSpace(vv)
	case []any:
		for i := range vv {
			vv[i] = deepNormalize(vv[i])
		}
		return deduplicateArray(vv)
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, val := range vv {
			if val == nil {
				continue
			}
			out[strings.TrimSpace(k)] = deepNormalize(val)
		}
		return out
	default:
		return vv
	}
}

func deduplicateArray(arr []any) []any {
	seen := make(map[string]struct{})
	out := make([]any, 0, len(arr))
	for _, it := range arr {
		b, err := json.Marshal(it)
		if err != nil {
			out = append(out, it)
			continue
		}
		key := string(b)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}
