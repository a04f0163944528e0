package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/taylorskalyo/goreader/epub"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"readerbot/internal/domain"
)

// Formats lists the accepted document extensions.
var Formats = []string{".pdf", ".epub", ".txt", ".html", ".htm", ".docx", ".md"}

type extractor func(data []byte) (string, error)

var extractors = map[string]extractor{
	".pdf":  extractPDF,
	".epub": extractEPUB,
	".txt":  extractPlain,
	".md":   extractPlain,
	".html": extractHTMLDoc,
	".htm":  extractHTMLDoc,
	".docx": extractDOCX,
}

// Supported reports whether the file name has an accepted extension.
func Supported(name string) bool {
	_, ok := extractors[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Extract returns the plain text of a document, paragraphs separated by a
// blank line. The format is chosen by the file extension.
func Extract(name string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	fn, ok := extractors[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, ext)
	}
	text, err := fn(data)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", ext, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.ErrEmptyDocument
	}
	return text, nil
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// One bad page should not lose the book.
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

func extractEPUB(data []byte) (string, error) {
	r, err := epub.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open epub: %w", err)
	}
	if len(r.Rootfiles) == 0 {
		return "", fmt.Errorf("no rootfiles in epub")
	}
	var sections []string
	for _, ref := range r.Rootfiles[0].Spine.Itemrefs {
		if ref.Item == nil {
			continue
		}
		rc, err := ref.Item.Open()
		if err != nil {
			continue
		}
		doc, err := html.Parse(rc)
		rc.Close()
		if err != nil {
			continue
		}
		if text := paragraphs(doc); text != "" {
			sections = append(sections, text)
		}
	}
	return strings.Join(sections, "\n\n"), nil
}

// extractPlain decodes TXT and Markdown. A BOM wins; otherwise valid UTF-8
// is kept and anything else is read as windows-1252.
func extractPlain(data []byte) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(data), "text/plain")
	if err != nil {
		return "", fmt.Errorf("detect charset: %w", err)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(string(b), "\r\n", "\n"), nil
}

func extractHTMLDoc(data []byte) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(data), "text/html")
	if err != nil {
		return "", fmt.Errorf("detect charset: %w", err)
	}
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return paragraphs(doc), nil
}

func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("docx: word/document.xml missing")
	}
	rc, err := body.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var (
		out  []string
		para strings.Builder
		inT  bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("docx xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inT = true
			case "tab":
				para.WriteByte('\t')
			case "br":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "p":
				if s := strings.TrimSpace(para.String()); s != "" {
					out = append(out, s)
				}
				para.Reset()
			}
		case xml.CharData:
			if inT {
				para.Write(t)
			}
		}
	}
	return strings.Join(out, "\n\n"), nil
}

var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true,
	"nav": true, "header": true, "footer": true, "aside": true, "form": true,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "article": true, "section": true, "main": true,
	"li": true, "ul": true, "ol": true, "blockquote": true, "pre": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "tr": true, "br": true, "hr": true, "body": true,
}

// paragraphs flattens a parsed HTML tree into paragraphs separated by a
// blank line. Whitespace inside a paragraph is collapsed.
func paragraphs(root *html.Node) string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			cur.WriteString(n.Data)
			cur.WriteByte(' ')
			return
		case html.ElementNode:
			if skipTags[n.Data] {
				return
			}
			if blockTags[n.Data] {
				flush()
				defer flush()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	flush()
	return strings.Join(out, "\n\n")
}

// findElement returns the first element named tag in document order.
func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findElement(c, tag); f != nil {
			return f
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
