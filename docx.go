package docxtemplar

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
)

// RenderResult — итог рендеринга котировки.
type RenderResult struct {
	Success        bool
	ProcessedDocx  []byte
	Error          string
	ProcessingTime time.Duration
	TokensReplaced int
	OriginalSize   int
	FinalSize      int
}

// Render подставляет значения записи во все токены {{...}} шаблона DOCX.
// Шаблон никогда не считается фатально битым: если его не удалось открыть
// или отрендерить, собираем резервный документ из тех же данных.
func Render(templateBytes []byte, rec Record) RenderResult {
	log.Printf("📊 Начинаем рендеринг DOCX котировки...")
	log.Printf("📁 Размер шаблона: %d байт", len(templateBytes))
	log.Printf("📝 Полей в записи: %d", len(rec))

	startTime := time.Now()

	// Нормализуем запись перед разрешением токенов для устойчивости
	table := BuildTokenTable(NormalizeRecord(rec))
	log.Printf("📊 Разрешено токенов: %d", table.NonEmptyCount())

	log.Printf("🔄 Загрузка DOCX шаблона...")
	cont, err := OpenContainer(templateBytes)
	if err != nil {
		log.Printf("❌ Ошибка загрузки шаблона: %v", err)
		return renderFallback(table, startTime, len(templateBytes), err)
	}
	log.Printf("✅ Шаблон загружен успешно: %d частей", len(cont.ListParts()))

	log.Printf("🔄 Подстановка токенов...")
	replaced, err := renderParts(cont, table)
	if err != nil {
		log.Printf("❌ Ошибка рендеринга: %v", err)
		return renderFallback(table, startTime, len(templateBytes), err)
	}
	log.Printf("✅ Подстановка завершена: %d замен", replaced)

	log.Printf("🔄 Очистка документа...")
	SanitizeContainer(cont, table.ruleEnv())

	log.Printf("💾 Сборка файла...")
	out, err := cont.Serialize()
	if err != nil {
		// Сериализация собственного контейнера не должна падать.
		log.Printf("❌ Ошибка сборки: %v", err)
		return failResult(startTime, len(templateBytes), fmt.Errorf("сборка документа: %w", err))
	}
	if err := VerifyDocx(out); err != nil {
		log.Printf("❌ Собранный файл не прошёл проверку: %v", err)
		return failResult(startTime, len(templateBytes), fmt.Errorf("проверка документа: %w", err))
	}

	// Контрольная перечитка: остаточные артефакты лечим повторной очисткой.
	if containsStaleArtifacts(out) {
		log.Printf("🔄 Найдены остаточные артефакты, повторная очистка...")
		if fixed, ok := recleanOnce(out, table); ok {
			out = fixed
		}
	}

	duration := time.Since(startTime)
	log.Printf("✅ DOCX файл создан за %v", duration)
	log.Printf("📄 Итоговый размер: %d байт", len(out))

	return RenderResult{
		Success:        true,
		ProcessedDocx:  out,
		ProcessingTime: duration,
		TokensReplaced: table.NonEmptyCount(),
		OriginalSize:   len(templateBytes),
		FinalSize:      len(out),
	}
}

// renderParts прогоняет подстановку по телу документа и по всем
// колонтитулам.
func renderParts(cont *Container, table *TokenTable) (int, error) {
	body, _ := cont.Part(docPart)
	rendered, replaced, err := renderDocument(string(body), table)
	if err != nil {
		return 0, err
	}
	cont.SetPart(docPart, []byte(rendered))

	for _, name := range cont.headerFooterParts() {
		data, _ := cont.Part(name)
		out, n, err := renderDocument(string(data), table)
		if err != nil {
			// Колонтитул не критичен, оставляем как есть.
			log.Printf("⚠️ Пропускаем часть %s: %v", name, err)
			continue
		}
		cont.SetPart(name, []byte(out))
		replaced += n
	}
	return replaced, nil
}

// renderFallback оборачивает synthesizeFallback в RenderResult.
func renderFallback(table *TokenTable, startTime time.Time, origSize int, cause error) RenderResult {
	log.Printf("🔄 Собираем резервный документ...")
	out, err := synthesizeFallback(table)
	if err != nil {
		log.Printf("❌ Ошибка резервной сборки: %v", err)
		return failResult(startTime, origSize, fmt.Errorf("резервная сборка после %q: %w", cause, err))
	}
	log.Printf("✅ Резервный документ собран: %d байт", len(out))
	return RenderResult{
		Success:        true,
		ProcessedDocx:  out,
		Error:          cause.Error(),
		ProcessingTime: time.Since(startTime),
		TokensReplaced: table.NonEmptyCount(),
		OriginalSize:   origSize,
		FinalSize:      len(out),
	}
}

func failResult(startTime time.Time, origSize int, err error) RenderResult {
	return RenderResult{
		Success:        false,
		Error:          err.Error(),
		ProcessingTime: time.Since(startTime),
		OriginalSize:   origSize,
	}
}

// containsStaleArtifacts проверяет собранный файл на мусор, который обязан
// быть вычищен: слово undefined и нераскрытые маркеры блоков.
func containsStaleArtifacts(data []byte) bool {
	cont, err := OpenContainer(data)
	if err != nil {
		return false
	}
	body, _ := cont.Part(docPart)
	txt := string(body)
	return rxUndefined.MatchString(txt) || rxMarker.MatchString(txt)
}

// recleanOnce делает ровно один дополнительный цикл очистки и пересборки.
func recleanOnce(data []byte, table *TokenTable) ([]byte, bool) {
	cont, err := OpenContainer(data)
	if err != nil {
		return nil, false
	}
	SanitizeContainer(cont, table.ruleEnv())
	out, err := cont.Serialize()
	if err != nil || VerifyDocx(out) != nil {
		return nil, false
	}
	return out, true
}

// rxTag вырезает XML-разметку перед поиском токенов: токен может быть
// разорван границами прогонов w:r.
var rxTag = regexp.MustCompile(`<[^>]*>`)

// ExtractTokens возвращает список токенов шаблона в порядке первого
// появления, без дублей. Маркеры блоков {{#...}} и {{/...}} не включаются.
func ExtractTokens(templateBytes []byte) ([]string, error) {
	cont, err := OpenContainer(templateBytes)
	if err != nil {
		return nil, fmt.Errorf("загрузка шаблона: %w", err)
	}

	parts := append([]string{docPart}, cont.headerFooterParts()...)
	seen := make(map[string]bool)
	var tokens []string
	for _, name := range parts {
		data, ok := cont.Part(name)
		if !ok {
			continue
		}
		flat := rxTag.ReplaceAllString(string(data), "")
		for _, m := range rxToken.FindAllStringSubmatch(flat, -1) {
			tok := strings.TrimSpace(m[1])
			if tok == "" || strings.HasPrefix(tok, "#") || strings.HasPrefix(tok, "/") {
				continue
			}
			// Остатки разметки внутри тела токена означают ложное срабатывание.
			if strings.ContainsAny(tok, "<>") {
				continue
			}
			if !seen[tok] {
				seen[tok] = true
				tokens = append(tokens, tok)
			}
		}
	}
	return tokens, nil
}
