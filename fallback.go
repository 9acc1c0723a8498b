package docxtemplar

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
)

// Резервная сборка документа: когда загруженный шаблон не читается или не
// рендерится, пользователь всё равно получает документ со своей котировкой.
// Собираем минимальный валидный DOCX из трёх частей с простыми абзацами.

const fallbackContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
  <Default Extension="xml" ContentType="application/xml"/>
  <Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const fallbackRootRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

// fallbackSections — раскладка резервного документа: заголовок раздела и
// токены, из которых берутся строки.
var fallbackSections = []struct {
	title string
	lines []struct{ label, token string }
}{
	{title: "Quote Summary", lines: []struct{ label, token string }{
		{"Company", "Company Name"},
		{"Client", "Client Name"},
		{"Prepared By", "Prepared By"},
		{"Date", "Quote Date"},
	}},
	{title: "Configuration", lines: []struct{ label, token string }{
		{"Migration Type", "Instance Type"},
		{"Instances", "Number of Instances"},
		{"Users", "Number of Users"},
		{"Duration", "Duration of Months"},
		{"Start Date", "Start Date"},
		{"End Date", "End Date"},
	}},
	{title: "Pricing", lines: []struct{ label, token string }{
		{"Migration Cost", "Migration Cost"},
		{"Cost Per User", "User Cost"},
		{"Per User Monthly Rate", "Per User Monthly Rate"},
		{"Total Price", "Total Price"},
	}},
}

// synthesizeFallback строит плоский документ из разрешённой таблицы.
func synthesizeFallback(table *TokenTable) ([]byte, error) {
	var body bytes.Buffer
	body.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	body.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">`)
	body.WriteString(`<w:body>`)

	for _, sec := range fallbackSections {
		body.WriteString(`<w:p><w:r><w:rPr><w:b/><w:sz w:val="32"/></w:rPr><w:t xml:space="preserve">`)
		body.WriteString(xmlEscape(sec.title))
		body.WriteString(`</w:t></w:r></w:p>`)
		for _, line := range sec.lines {
			val, _ := table.Lookup(line.token)
			if val == "" {
				continue
			}
			body.WriteString(`<w:p><w:r><w:t xml:space="preserve">`)
			body.WriteString(xmlEscape(line.label + ": " + val))
			body.WriteString(`</w:t></w:r></w:p>`)
		}
	}
	// Комбинации серверов, если они есть в данных.
	if len(table.servers) > 0 {
		body.WriteString(`<w:p><w:r><w:rPr><w:b/><w:sz w:val="32"/></w:rPr><w:t>Servers</w:t></w:r></w:p>`)
		for _, srv := range table.servers {
			line := srv["description"]
			if cost := srv["cost"]; cost != "" {
				line += " - " + cost
			}
			body.WriteString(`<w:p><w:r><w:t xml:space="preserve">`)
			body.WriteString(xmlEscape(line))
			body.WriteString(`</w:t></w:r></w:p>`)
		}
	}

	body.WriteString(`<w:sectPr><w:pgSz w:w="12240" w:h="15840"/><w:pgMar w:top="1440" w:right="1440" w:bottom="1440" w:left="1440"/></w:sectPr>`)
	body.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := []containerPart{
		{name: "[Content_Types].xml", data: []byte(fallbackContentTypes)},
		{name: "_rels/.rels", data: []byte(fallbackRootRels)},
		{name: docPart, data: body.Bytes()},
	}
	for _, p := range parts {
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

func xmlEscape(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}
