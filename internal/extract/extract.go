package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"smartdocq/internal/domain"
)

// Extensions lists the file types the extractor handles.
var Extensions = []string{".pdf", ".docx", ".txt", ".md", ".csv"}

// Text extracts UTF-8 text from an uploaded file based on its extension.
// Unknown extensions are an UnsupportedFileTypeError; a file whose text is
// empty after trimming is ErrEmptyDocument.
func Text(data []byte, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	var (
		text string
		err  error
	)
	switch ext {
	case ".pdf":
		text, err = pdfText(data)
	case ".docx":
		text, err = docxText(data)
	case ".txt", ".md", ".csv":
		text = string(data)
	case "":
		return "", &domain.UnsupportedFileTypeError{Extension: "(none)"}
	default:
		return "", &domain.UnsupportedFileTypeError{Extension: ext}
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", ext, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.ErrEmptyDocument
	}
	return text, nil
}

// Validate rejects uploads before any extraction work: empty files, files
// over the limit, and extensions outside the allow-list.
func Validate(filename string, size int64, maxSize int64, allowed []string) error {
	if strings.TrimSpace(filename) == "" {
		return fmt.Errorf("invalid filename")
	}
	if size <= 0 {
		return fmt.Errorf("file appears to be empty")
	}
	if maxSize > 0 && size > maxSize {
		return &domain.FileTooLargeError{Size: size, Limit: maxSize}
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return &domain.UnsupportedFileTypeError{Extension: "(none)"}
	}
	if len(allowed) == 0 {
		allowed = Extensions
	}
	for _, a := range allowed {
		if ext == a {
			return nil
		}
	}
	return &domain.UnsupportedFileTypeError{Extension: ext}
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	out, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if _, err := io.Copy(&b, out); err != nil {
		return "", err
	}
	return b.String(), nil
}

// docxText walks word/document.xml and collects the text runs, emitting a
// line break at each paragraph end.
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("word/document.xml not found")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var b strings.Builder
	dec := xml.NewDecoder(rc)
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				b.Write(el)
			}
		}
	}
	return b.String(), nil
}
