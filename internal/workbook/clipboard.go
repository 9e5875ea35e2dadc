package workbook

import (
	"bytes"
	"context"
	"runtime"
	"strings"

	"github.com/atotto/clipboard"
)

// DefaultClipboardChunk is the number of rows encoded between yields.
const DefaultClipboardChunk = 1000

// ClipboardSink receives the encoded selection.
type ClipboardSink interface {
	WriteAll(text string) error
}

// SystemClipboard writes to the operating system clipboard.
type SystemClipboard struct{}

// WriteAll implements ClipboardSink.
func (SystemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// Available reports whether a system clipboard utility can be used.
func (SystemClipboard) Available() bool { return !clipboard.Unsupported }

// CopyOptions tunes EncodeSelection.
type CopyOptions struct {
	ChunkSize int
	// Progress receives the number of rows encoded so far.
	Progress func(done, total int)
}

// EncodeSelection renders rows as tab-separated cells and newline-separated
// rows. Rows are processed in chunks with a yield between chunks, and the
// context is checked at every yield.
func EncodeSelection(ctx context.Context, rows [][]string, opts CopyOptions) (string, error) {
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultClipboardChunk
	}
	var buf bytes.Buffer
	for from := 0; from < len(rows); from += chunk {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		to := min(from+chunk, len(rows))
		for _, row := range rows[from:to] {
			writeTSVRow(&buf, row)
		}
		if opts.Progress != nil {
			opts.Progress(to, len(rows))
		}
		runtime.Gosched()
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func writeTSVRow(buf *bytes.Buffer, row []string) {
	for i, cell := range row {
		if i > 0 {
			buf.WriteByte('\t')
		}
		buf.WriteString(quoteCell(cell))
	}
	buf.WriteByte('\n')
}

// quoteCell applies spreadsheet-style quoting to cells that contain a tab,
// newline or double quote.
func quoteCell(s string) string {
	if !strings.ContainsAny(s, "\t\n\r\"") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
