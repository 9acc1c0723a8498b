package docxtemplar

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

// Контейнер DOCX: ZIP-архив с частями OOXML. Единственная обязательная часть —
// word/document.xml; остальные (стили, картинки, колонтитулы) проносятся как есть.

const docPart = "word/document.xml"

var zipSignature = []byte("PK")

// rxBrokenBrace ловит повреждённый токен вида "{{Company_Name}By": вторая
// закрывающая скобка потеряна и токен слипся со следующим словом. Без ремонта
// такой шаблон целиком падает с ошибкой «незакрытый тег».
var rxBrokenBrace = regexp.MustCompile(`(\{\{[^{}]+\})([A-Za-z])`)

type containerPart struct {
	name string
	data []byte
}

// Container — открытый DOCX в памяти. Порядок частей сохраняется как в исходном
// архиве, чтобы пересборка была стабильной.
type Container struct {
	parts []containerPart
	index map[string]int
}

// OpenContainer разбирает байты шаблона и нормализует контейнер.
// Структурные проблемы (не ZIP, HTML вместо файла, нет document.xml) — ошибка;
// вызывающая сторона решает, падать или собирать резервный документ.
func OpenContainer(data []byte) (*Container, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("пустой файл шаблона")
	}
	if !bytes.HasPrefix(data, zipSignature) {
		if looksLikeHTML(data) {
			return nil, fmt.Errorf("вместо DOCX получена HTML-страница (похоже на страницу ошибки сервера)")
		}
		return nil, fmt.Errorf("не ZIP-архив: отсутствует сигнатура PK")
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("чтение ZIP: %w", err)
	}
	c := &Container{index: map[string]int{}}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("открытие части %s: %w", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("чтение части %s: %w", f.Name, err)
		}
		// Архивы, собранные под Windows, могут нести обратные слэши в путях.
		// Пересобираем таблицу путей с канонической косой чертой: переименовать
		// запись внутри zip.Reader нельзя, путь фиксируется при создании.
		c.SetPart(f.Name, b)
	}
	if _, ok := c.Part(docPart); !ok {
		return nil, fmt.Errorf("некорректный DOCX: нет %s; доступные части: %s",
			docPart, strings.Join(c.ListParts(), ", "))
	}
	c.repairBraces()
	return c, nil
}

// looksLikeHTML — частый сбой выше по конвейеру: вместо файла приходит HTML
// страницы ошибки. Нюхаем первые ~100 байт без учёта регистра.
func looksLikeHTML(data []byte) bool {
	head := data
	if len(head) > 100 {
		head = head[:100]
	}
	s := strings.ToLower(string(head))
	return strings.Contains(s, "<html") || strings.Contains(s, "<!doctype")
}

func normalizePartPath(name string) string {
	return strings.ReplaceAll(name, `\`, "/")
}

// Part возвращает содержимое части по каноническому пути.
func (c *Container) Part(name string) ([]byte, bool) {
	i, ok := c.index[normalizePartPath(name)]
	if !ok {
		return nil, false
	}
	return c.parts[i].data, true
}

// SetPart записывает часть; существующая часть заменяется на месте,
// новая добавляется в конец.
func (c *Container) SetPart(name string, data []byte) {
	name = normalizePartPath(name)
	if i, ok := c.index[name]; ok {
		c.parts[i].data = data
		return
	}
	c.index[name] = len(c.parts)
	c.parts = append(c.parts, containerPart{name: name, data: data})
}

// ListParts возвращает пути всех частей по алфавиту.
func (c *Container) ListParts() []string {
	names := make([]string, 0, len(c.parts))
	for _, p := range c.parts {
		names = append(names, p.name)
	}
	sort.Strings(names)
	return names
}

// headerFooterParts — колонтитулы, если они есть в архиве.
func (c *Container) headerFooterParts() []string {
	var out []string
	for _, name := range c.ListParts() {
		if isHeaderFooter(name) {
			out = append(out, name)
		}
	}
	return out
}

func isHeaderFooter(name string) bool {
	if !strings.HasSuffix(name, ".xml") {
		return false
	}
	return strings.HasPrefix(name, "word/header") || strings.HasPrefix(name, "word/footer")
}

// repairBraces чинит потерянную закрывающую скобку в document.xml до рендера:
// "{{Company_Name}By" -> "{{Company_Name}} By".
func (c *Container) repairBraces() {
	doc, ok := c.Part(docPart)
	if !ok {
		return
	}
	repaired := rxBrokenBrace.ReplaceAll(doc, []byte("$1} $2"))
	if !bytes.Equal(repaired, doc) {
		c.SetPart(docPart, repaired)
	}
}

// Serialize пересобирает контейнер в бинарный DOCX.
func (c *Container) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, p := range c.parts {
		w, err := zw.Create(p.name)
		if err != nil {
			return nil, fmt.Errorf("создание записи %s: %w", p.name, err)
		}
		if _, err := w.Write(p.data); err != nil {
			return nil, fmt.Errorf("запись части %s: %w", p.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("закрытие ZIP: %w", err)
	}
	return buf.Bytes(), nil
}

// VerifyDocx проверяет целостность собранного файла. Ошибка здесь фатальна:
// битый выход нельзя молча отдавать пользователю.
func VerifyDocx(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("сериализация вернула пустой результат")
	}
	if !bytes.HasPrefix(data, zipSignature) {
		return fmt.Errorf("результат сериализации не начинается с сигнатуры PK")
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("результат не читается как ZIP: %w", err)
	}
	for _, f := range zr.File {
		if normalizePartPath(f.Name) == docPart {
			return nil
		}
	}
	return fmt.Errorf("в результате нет %s", docPart)
}
