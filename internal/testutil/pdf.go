package testutil

import (
	"path/filepath"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/require"
)

// WritePDF writes a PDF with one page per entry of pages into dir and returns its
// path. An empty entry produces a blank page.
func WritePDF(t testing.TB, dir, name string, pages []string) string {
	t.Helper()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(false)
	for _, text := range pages {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "", 12)
		if text != "" {
			pdf.MultiCell(0, 6, text, "", "L", false)
		}
	}

	path := filepath.Join(dir, name)
	require.NoError(t, pdf.OutputFileAndClose(path))
	return path
}
