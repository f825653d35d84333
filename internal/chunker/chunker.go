// Package chunker splits page text into overlapping, offset-addressed chunks.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/textsplitter"

	"document-qa/internal/models"
)

const (
	StrategyWindow    = "window"
	StrategyRecursive = "recursive"
)

// Settings are measured in runes.
type Settings struct {
	Size     int
	Overlap  int
	Strategy string
}

func DefaultSettings() Settings {
	return Settings{Size: models.DefaultChunkSize, Overlap: models.DefaultChunkOverlap, Strategy: StrategyWindow}
}

type Chunker struct {
	settings Settings
	splitter textsplitter.RecursiveCharacter
}

func New(s Settings) (*Chunker, error) {
	if s.Size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", models.ErrInvalidChunkSettings, s.Size)
	}
	if s.Overlap < 0 || s.Overlap >= s.Size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", models.ErrInvalidChunkSettings, s.Overlap, s.Size)
	}
	if s.Strategy == "" {
		s.Strategy = StrategyWindow
	}
	if s.Strategy != StrategyWindow && s.Strategy != StrategyRecursive {
		return nil, fmt.Errorf("%w: unknown strategy %q", models.ErrInvalidChunkSettings, s.Strategy)
	}
	return &Chunker{
		settings: s,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(s.Size),
			textsplitter.WithChunkOverlap(s.Overlap),
		),
	}, nil
}

func (c *Chunker) Settings() Settings { return c.settings }

// Split chunks every page and returns the chunks in page order. Each chunk's text is
// the substring of its page's text starting at the chunk's rune offset.
func (c *Chunker) Split(pages []models.Page) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, page := range pages {
		var spans []span
		if c.settings.Strategy == StrategyRecursive {
			var ok bool
			spans, ok = c.recursiveSpans(page.Text)
			if !ok {
				log.Debug().Str("source", page.Source).Int("page", page.Number).
					Msg("recursive split could not be located, using window")
				spans = windowSpans(page.Text, c.settings.Size, c.settings.Overlap)
			}
		} else {
			spans = windowSpans(page.Text, c.settings.Size, c.settings.Overlap)
		}

		for _, sp := range spans {
			chunk, err := models.NewChunk(chunkID(page.Source, page.Number, sp.offset, sp.text),
				page.Source, page.Number, sp.offset, sp.text)
			if err != nil {
				return nil, err
			}
			chunk.Seq = len(chunks)
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

type span struct {
	offset int
	text   string
}

// windowSpans slides a window of size runes with step size-overlap. The last window
// is the first one reaching the end of the text, so no trailing text is dropped and
// every consecutive pair overlaps by exactly overlap runes. Windows are cut at byte
// positions so invalid UTF-8 is carried through unchanged, one rune per bad byte.
func windowSpans(text string, size, overlap int) []span {
	if text == "" {
		return nil
	}
	bounds := make([]int, 0, len(text)+1)
	for i := range text {
		bounds = append(bounds, i)
	}
	n := len(bounds)
	bounds = append(bounds, len(text))

	step := size - overlap
	var spans []span
	for start := 0; ; start += step {
		end := min(start+size, n)
		spans = append(spans, span{offset: start, text: text[bounds[start]:bounds[end]]})
		if end >= n {
			break
		}
	}
	return spans
}

// recursiveSpans splits with langchaingo and locates each segment in text, searching
// forward from the previous segment. It reports false if a segment is not a verbatim
// substring, which happens when the splitter trims separators.
func (c *Chunker) recursiveSpans(text string) ([]span, bool) {
	if text == "" {
		return nil, true
	}
	segments, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, false
	}
	spans := make([]span, 0, len(segments))
	from := 0 // byte index
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		idx := strings.Index(text[from:], seg)
		if idx < 0 {
			return nil, false
		}
		at := from + idx
		spans = append(spans, span{offset: utf8.RuneCountInString(text[:at]), text: seg})
		_, w := utf8.DecodeRuneInString(text[at:])
		from = at + w
	}
	return spans, len(spans) > 0
}

func chunkID(source string, page, offset int, text string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(page)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(offset)))
	h.Write([]byte{'|'})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
