package parser

import (
	"archive/zip"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"document-qa/internal/models"
)

// Loader turns a document on disk into its pages.
type Loader interface {
	Load(path string) ([]models.Page, error)
}

type FileLoader struct{}

func (FileLoader) Load(path string) ([]models.Page, error) { return Load(path) }

// SupportedExtensions lists the file types Load understands.
var SupportedExtensions = []string{".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".xltx", ".xltm", ".md", ".txt"}

// Load reads a document and returns its non-blank pages in document order.
// Spreadsheets yield one page per sheet and presentations one per slide.
func Load(filePath string) ([]models.Page, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrLoad, filePath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", models.ErrLoad, filePath)
	}

	source := filepath.Base(filePath)
	var raw []string
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		raw, err = parsePDF(filePath)
	case ".docx":
		raw, err = parseDOCX(filePath)
	case ".pptx":
		raw, err = parsePPTX(filePath)
	case ".xlsx":
		raw, err = parseXLSX(filePath)
	case ".xlsm", ".xltx", ".xltm":
		raw, err = parseExcelize(filePath)
	case ".md":
		raw, err = parseMarkdown(filePath)
	case ".txt":
		raw, err = parseText(filePath)
	default:
		return nil, fmt.Errorf("%w: unsupported file format: %q", models.ErrLoad, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrLoad, source, err)
	}

	pages := make([]models.Page, 0, len(raw))
	for i, t := range raw {
		if strings.TrimSpace(t) == "" {
			continue
		}
		t = strings.ToValidUTF8(t, "\uFFFD")
		page, err := models.NewPage(source, i+1, t)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrLoad, err)
		}
		pages = append(pages, page)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %s has no extractable text", models.ErrLoad, source)
	}
	log.Debug().Str("source", source).Int("pages", len(pages)).Int("total", len(raw)).Msg("document loaded")
	return pages, nil
}

// parsePDF returns the plain text of every page, blank ones included, so numbering
// follows the physical document.
func parsePDF(filePath string) (pages []string, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	// the pdf package panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	pages = make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, pageText)
	}
	return pages, nil
}

func parseDOCX(filePath string) ([]string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := r.Editable().GetContent()
	return []string{stripXMLTags(content)}, nil
}

// parsePPTX reads ppt/slides/slideN.xml in slide order.
func parsePPTX(filePath string) ([]string, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		name := file.Name
		if !strings.HasPrefix(name, "ppt/slides/slide") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{num: n, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	pages := make([]string, 0, len(slides))
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", s.num, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", s.num, err)
		}
		pages = append(pages, extractTextFromXML(string(data)))
	}
	return pages, nil
}

func parseXLSX(filePath string) ([]string, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	pages := make([]string, 0, len(f.Sheets))
	for _, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		pages = append(pages, sheetText(sheet.Name, rows))
	}
	return pages, nil
}

func parseExcelize(filePath string) ([]string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	pages := make([]string, 0, len(sheets))
	for _, sheetName := range sheets {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		pages = append(pages, sheetText(sheetName, rows))
	}
	return pages, nil
}

// sheetText renders a sheet as tab separated rows under a heading. A sheet without
// any cell text renders empty so it is dropped like a blank page.
func sheetText(name string, rows [][]string) string {
	var body strings.Builder
	for _, row := range rows {
		line := strings.TrimRight(strings.Join(row, "\t"), "\t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	if body.Len() == 0 {
		return ""
	}
	return fmt.Sprintf("## Sheet: %s\n%s", name, body.String())
}

// parseMarkdown walks the goldmark AST and keeps the readable text only.
func parseMarkdown(filePath string) ([]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(data))

	var out strings.Builder
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				out.Write(node.Segment.Value(data))
				if node.SoftLineBreak() || node.HardLineBreak() {
					out.WriteString("\n")
				}
			}
		case *ast.String:
			if entering {
				out.Write(node.Value)
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					out.Write(seg.Value(data))
				}
				return ast.WalkSkipChildren, nil
			}
		case *ast.Paragraph, *ast.Heading, *ast.ListItem:
			if !entering {
				out.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	return []string{out.String()}, nil
}

func parseText(filePath string) ([]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []string{string(data)}, nil
}

// extractTextFromXML collects the <a:t> runs of a DrawingML document.
func extractTextFromXML(xmlContent string) string {
	var b strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		endIdx := strings.Index(part, "</a:t>")
		if endIdx >= 0 {
			b.WriteString(html.UnescapeString(part[:endIdx]) + " ")
		}
	}
	return strings.TrimSpace(b.String())
}

// stripXMLTags turns raw WordprocessingML into text, one line per paragraph.
func stripXMLTags(content string) string {
	content = strings.ReplaceAll(content, "</w:p>", "\n")
	var out strings.Builder
	inTag := false
	for _, r := range content {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			out.WriteRune(r)
		}
	}
	return html.UnescapeString(out.String())
}
