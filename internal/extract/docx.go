package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	defaultDocxBody  = "word/document.xml"
	docxContentTypes = "[Content_Types].xml"
	docxBodyType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

type contentTypes struct {
	Overrides []struct {
		PartName    string `xml:"PartName,attr"`
		ContentType string `xml:"ContentType,attr"`
	} `xml:"Override"`
}

// extractDOCX reads the main document part of an OOXML package. Runs inside a
// paragraph are joined and paragraphs become blocks.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open DOCX: %w", err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	bodyPath := docxBodyPath(files[docxContentTypes])
	body, ok := files[bodyPath]
	if !ok {
		return "", fmt.Errorf("open DOCX: %s missing", bodyPath)
	}
	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("open DOCX %s: %w", bodyPath, err)
	}
	defer rc.Close()

	paragraphs, err := docxParagraphs(rc)
	if err != nil {
		return "", fmt.Errorf("parse DOCX %s: %w", bodyPath, err)
	}
	return joinBlocks(paragraphs), nil
}

// docxBodyPath resolves the main part from [Content_Types].xml, falling back
// to word/document.xml.
func docxBodyPath(ct *zip.File) string {
	if ct == nil {
		return defaultDocxBody
	}
	rc, err := ct.Open()
	if err != nil {
		return defaultDocxBody
	}
	defer rc.Close()

	var types contentTypes
	if err := xml.NewDecoder(rc).Decode(&types); err != nil {
		return defaultDocxBody
	}
	for _, o := range types.Overrides {
		if o.ContentType == docxBodyType {
			return strings.TrimPrefix(o.PartName, "/")
		}
	}
	return defaultDocxBody
}

func docxParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		paragraphs []string
		cur        strings.Builder
		inText     bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				paragraphs = append(paragraphs, cur.String())
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	if cur.Len() > 0 {
		paragraphs = append(paragraphs, cur.String())
	}
	return paragraphs, nil
}
