package export

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// docxDocument is the versioned content laid out for DOCX rendering.
type docxDocument struct {
	Title      string
	Citation   string
	Summary    string
	Paragraphs []string
}

// exportDOCX writes a minimal OOXML package: [Content_Types].xml, the package
// relationships and word/document.xml. No external tooling needed.
func exportDOCX(doc docxDocument) (*Result, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	entries := []struct {
		name string
		body string
	}{
		{"[Content_Types].xml", docxContentTypes},
		{"_rels/.rels", docxRels},
		{"word/document.xml", renderDocumentXML(doc)},
	}
	for _, entry := range entries {
		f, err := w.Create(entry.name)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", entry.name, err)
		}
		if _, err := f.Write([]byte(entry.body)); err != nil {
			return nil, fmt.Errorf("write %s: %w", entry.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize docx: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(doc.Title) + ".docx",
		MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}, nil
}

func renderDocumentXML(doc docxDocument) string {
	var body strings.Builder
	body.WriteString(headingXML(doc.Title))
	if doc.Citation != "" {
		body.WriteString(paragraphXML(doc.Citation, true))
	}
	if doc.Summary != "" {
		body.WriteString(paragraphXML(doc.Summary, false))
	}
	for _, para := range doc.Paragraphs {
		body.WriteString(paragraphXML(para, false))
	}
	return fmt.Sprintf(docxDocumentShell, body.String())
}

func headingXML(text string) string {
	return `<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:rPr><w:b/><w:sz w:val="32"/></w:rPr><w:t xml:space="preserve">` +
		xmlEscape(text) + `</w:t></w:r></w:p>`
}

func paragraphXML(text string, italic bool) string {
	props := ""
	if italic {
		props = "<w:rPr><w:i/></w:rPr>"
	}
	return `<w:p><w:r>` + props + `<w:t xml:space="preserve">` + xmlEscape(text) + `</w:t></w:r></w:p>`
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return ""
	}
	return buf.String()
}

const docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
  <Default Extension="xml" ContentType="application/xml"/>
  <Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const docxRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

const docxDocumentShell = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>%s</w:body>
</w:document>`
