package docxtemplar

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

func zipParts(t *testing.T, parts map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	// порядок фиксируем для воспроизводимости
	names := []string{"[Content_Types].xml", "_rels/.rels", docPart}
	for name := range parts {
		found := false
		for _, n := range names {
			if n == name {
				found = true
				break
			}
		}
		if !found {
			names = append(names, name)
		}
	}
	for _, name := range names {
		data, ok := parts[name]
		if !ok {
			continue
		}
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(data)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestOpenContainer_Rejects(t *testing.T) {
	if _, err := OpenContainer(nil); err == nil {
		t.Fatalf("пустой вход принят")
	}
	if _, err := OpenContainer([]byte("plain text")); err == nil {
		t.Fatalf("не-ZIP принят")
	}
	_, err := OpenContainer([]byte("<!DOCTYPE html><html>oops</html>"))
	if err == nil || !strings.Contains(err.Error(), "HTML") {
		t.Fatalf("HTML не распознан: %v", err)
	}
	// ZIP без document.xml: ошибка перечисляет доступные части
	data := zipParts(t, map[string]string{"_rels/.rels": "<x/>"})
	_, err = OpenContainer(data)
	if err == nil || !strings.Contains(err.Error(), "_rels/.rels") {
		t.Fatalf("нет списка частей в ошибке: %v", err)
	}
}

func TestOpenContainer_RepairBraces(t *testing.T) {
	data := zipParts(t, map[string]string{
		docPart: `<w:document><w:body><w:p><w:r><w:t>{{Company_Name}By</w:t></w:r></w:p></w:body></w:document>`,
	})
	c, err := OpenContainer(data)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	doc, _ := c.Part(docPart)
	if !strings.Contains(string(doc), "{{Company_Name}} By") {
		t.Fatalf("скобка не починена: %s", doc)
	}
}

func TestContainer_BackslashPaths(t *testing.T) {
	data := zipParts(t, map[string]string{
		`word\document.xml`: `<w:document/>`,
	})
	c, err := OpenContainer(data)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := c.Part(docPart); !ok {
		t.Fatalf("путь с обратным слэшем не нормализован: %v", c.ListParts())
	}
}

func TestContainer_SerializeRoundTrip(t *testing.T) {
	data := zipParts(t, map[string]string{
		docPart:       `<w:document><w:body/></w:document>`,
		"_rels/.rels": `<Relationships/>`,
	})
	c, err := OpenContainer(data)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	c.SetPart(docPart, []byte(`<w:document><w:body><w:p/></w:body></w:document>`))

	out, err := c.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if err := VerifyDocx(out); err != nil {
		t.Fatalf("verify: %v", err)
	}

	again, err := OpenContainer(out)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	doc, _ := again.Part(docPart)
	if !strings.Contains(string(doc), "<w:p/>") {
		t.Fatalf("правка части потеряна: %s", doc)
	}
}

func TestContainer_HeaderFooterParts(t *testing.T) {
	data := zipParts(t, map[string]string{
		docPart:            `<w:document/>`,
		"word/header1.xml": `<w:hdr/>`,
		"word/footer2.xml": `<w:ftr/>`,
		"word/styles.xml":  `<w:styles/>`,
	})
	c, err := OpenContainer(data)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	hf := c.headerFooterParts()
	if len(hf) != 2 {
		t.Fatalf("headerFooterParts = %v", hf)
	}
	for _, name := range hf {
		if !isHeaderFooter(name) {
			t.Fatalf("%s не колонтитул", name)
		}
	}
	if isHeaderFooter("word/styles.xml") {
		t.Fatalf("styles.xml распознан как колонтитул")
	}
}

func TestVerifyDocx(t *testing.T) {
	if err := VerifyDocx(nil); err == nil {
		t.Fatalf("пустой результат прошёл проверку")
	}
	if err := VerifyDocx([]byte("PK but not a zip")); err == nil {
		t.Fatalf("битый ZIP прошёл проверку")
	}
	data := zipParts(t, map[string]string{"other.xml": "<x/>"})
	if err := VerifyDocx(data); err == nil {
		t.Fatalf("ZIP без document.xml прошёл проверку")
	}
}
