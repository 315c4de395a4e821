// Package document renders extracted sections into a single PDF.
package document

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/sitegrab/sitegrab/internal/extract"
)

var linkRe = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

// Build renders sections in input order into one PDF. Each section gets its
// title and source URL as a header; nil markdown never reaches here, the
// pipeline filters failed pages first.
func Build(title string, sections []extract.Section) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetFont("Helvetica", "", 11)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.MultiCell(0, 9, title, "", "L", false)
	pdf.Ln(4)

	for i, section := range sections {
		if i > 0 {
			pdf.AddPage()
		}
		writeSectionHeader(pdf, section)
		writeMarkdown(pdf, section.Markdown)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSectionHeader(pdf *gofpdf.Fpdf, section extract.Section) {
	heading := section.Title
	if heading == "" {
		heading = section.URL
	}
	pdf.SetFont("Helvetica", "B", 14)
	pdf.MultiCell(0, 7, heading, "", "L", false)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.SetTextColor(90, 90, 90)
	pdf.WriteLinkString(4, section.URL, section.URL)
	pdf.Ln(7)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 11)
}

// writeMarkdown lays markdown out line by line: headings get a larger bold
// font, links become clickable, everything else flows as body text.
func writeMarkdown(pdf *gofpdf.Fpdf, markdown string) {
	scanner := bufio.NewScanner(strings.NewReader(markdown))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		s := strings.TrimSpace(scanner.Text())
		if s == "" {
			pdf.Ln(5)
			continue
		}
		if strings.HasPrefix(s, "#") {
			writeHeading(pdf, s)
			continue
		}
		writeBodyLine(pdf, s)
	}
}

func writeHeading(pdf *gofpdf.Fpdf, s string) {
	level := 0
	for level < len(s) && s[level] == '#' {
		level++
	}
	text := strings.TrimSpace(s[level:])
	if text == "" {
		return
	}
	size := 14.0
	if level >= 2 {
		size = 12.0
	}
	pdf.SetFont("Helvetica", "B", size)
	pdf.CellFormat(0, 8, text, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
}

func writeBodyLine(pdf *gofpdf.Fpdf, s string) {
	parts := linkRe.FindAllStringSubmatchIndex(s, -1)
	if len(parts) == 0 {
		pdf.MultiCell(0, 5, s, "", "L", false)
		return
	}
	pos := 0
	for _, m := range parts {
		if m[0] > pos {
			pdf.Write(5, s[pos:m[0]])
		}
		text := s[m[2]:m[3]]
		url := s[m[4]:m[5]]
		if strings.HasPrefix(url, "#") {
			pdf.Write(5, text)
		} else {
			pdf.WriteLinkString(5, text, url)
		}
		pos = m[1]
	}
	if pos < len(s) {
		pdf.Write(5, s[pos:])
	}
	pdf.Ln(6)
}
