package segment

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

// Words per minute at the canonical 1.0x rate, before the complexity
// adjustment slows it down.
const baseWordsPerMinute = 150.0

// Segmenter splits markdown or plain-text chapters into sentence-sized
// segments ready for synthesis.
type Segmenter struct {
	codeBlock  *regexp.Regexp
	inlineCode *regexp.Regexp
	image      *regexp.Regexp
	link       *regexp.Regexp
	strong     *regexp.Regexp
	emphasis   *regexp.Regexp
	heading    *regexp.Regexp
	listItem   *regexp.Regexp
	blockquote *regexp.Regexp
	htmlTag    *regexp.Regexp
	spaces     *regexp.Regexp

	// Sentences shorter than this are noise (stray punctuation,
	// formatting residue) and are dropped.
	minLength int

	abbreviations map[string]struct{}
}

// New creates a segmenter with the default markdown patterns.
func New() *Segmenter {
	return &Segmenter{
		codeBlock:  regexp.MustCompile("(?s)```[^`]*```|~~~[^~]*~~~"),
		inlineCode: regexp.MustCompile("`[^`]+`"),
		image:      regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`),
		link:       regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`),
		strong:     regexp.MustCompile(`\*\*([^*]+)\*\*|__([^_]+)__`),
		emphasis:   regexp.MustCompile(`\*([^*]+)\*|_([^_]+)_`),
		heading:    regexp.MustCompile(`^#{1,6}\s+(.+)$`),
		listItem:   regexp.MustCompile(`^[\s]*[-*+]\s+(.+)$|^[\s]*\d+\.\s+(.+)$`),
		blockquote: regexp.MustCompile(`^>\s*(.+)$`),
		htmlTag:    regexp.MustCompile(`<[^>]+>`),
		spaces:     regexp.MustCompile(`\s+`),

		minLength:     3,
		abbreviations: abbreviationSet(),
	}
}

// Split converts one chapter into ordered segments. SegmentIndex counts
// from zero in the returned order, which is playback order.
func (s *Segmenter) Split(bookID string, chapterIndex int, text string) []ttypes.Segment {
	plain := s.stripMarkdown(text)

	var segs []ttypes.Segment
	for _, sent := range s.sentences(plain) {
		sent = strings.TrimSpace(sent)
		if len(sent) < s.minLength {
			continue
		}
		segs = append(segs, ttypes.Segment{
			BookID:       bookID,
			ChapterIndex: chapterIndex,
			SegmentIndex: len(segs),
			Text:         sent,
		})
	}
	return segs
}

// stripMarkdown flattens markdown to speakable plain text. Headings and
// list items get a terminal period when they lack one so they segment
// on their own instead of merging into the following sentence.
func (s *Segmenter) stripMarkdown(md string) string {
	md = s.codeBlock.ReplaceAllString(md, " ")

	var b strings.Builder
	for _, line := range strings.Split(md, "\n") {
		standalone := false

		if m := s.heading.FindStringSubmatch(line); len(m) > 1 {
			line = m[1]
			standalone = true
		} else if m := s.listItem.FindStringSubmatch(line); len(m) > 0 {
			for _, group := range m[1:] {
				if group != "" {
					line = group
					break
				}
			}
			standalone = true
		} else if m := s.blockquote.FindStringSubmatch(line); len(m) > 1 {
			line = m[1]
		}

		line = s.stripInline(line)
		if line == "" {
			continue
		}
		if standalone && !hasTerminalPunct(line) {
			line += "."
		}

		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(line)
	}
	return b.String()
}

func (s *Segmenter) stripInline(line string) string {
	line = s.htmlTag.ReplaceAllString(line, "")
	line = s.image.ReplaceAllString(line, "")
	line = s.inlineCode.ReplaceAllString(line, "")
	line = s.link.ReplaceAllString(line, "$1")
	line = s.strong.ReplaceAllString(line, "$1$2")
	line = s.emphasis.ReplaceAllString(line, "$1$2")
	line = s.spaces.ReplaceAllString(line, " ")
	return strings.TrimSpace(line)
}

// sentences scans plain text for sentence boundaries.
func (s *Segmenter) sentences(text string) []string {
	runes := []rune(text)

	var out []string
	last := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		end := i + 1
		for end < len(runes) && (runes[end] == '.' || runes[end] == '!' || runes[end] == '?') {
			end++
		}
		if end < len(runes) && isClosing(runes[end]) {
			end++
		}

		if !s.endsSentence(runes, i) {
			continue
		}

		out = append(out, string(runes[last:end]))
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		last = end
		i = end - 1
	}

	if last < len(runes) {
		if rest := strings.TrimSpace(string(runes[last:])); rest != "" {
			out = append(out, rest)
		}
	}
	return out
}

// endsSentence reports whether the punctuation at pos terminates a
// sentence, as opposed to an abbreviation, decimal, or ellipsis.
func (s *Segmenter) endsSentence(runes []rune, pos int) bool {
	if pos < 0 || pos >= len(runes) {
		return false
	}
	punct := runes[pos]

	if punct == '.' {
		word := wordBefore(runes, pos)
		if word != "" {
			if _, ok := s.abbreviations[strings.TrimSuffix(word, ".")]; ok {
				return false
			}
			if _, ok := s.abbreviations[word]; ok {
				return false
			}
			// Multi-part abbreviations like "U.S." or an ellipsis tail.
			if strings.Count(word, ".") > 1 {
				return false
			}
		}

		// Decimal numbers: the dot inside "3.14" never splits.
		if pos > 0 && pos < len(runes)-1 && unicode.IsDigit(runes[pos-1]) {
			if unicode.IsDigit(runes[pos+1]) {
				return false
			}
		}

		if pos+2 < len(runes) && runes[pos+1] == '.' && runes[pos+2] == '.' {
			return false
		}
	}

	next := pos + 1
	for next < len(runes) && isClosing(runes[next]) {
		next++
	}
	if next >= len(runes) {
		return true
	}
	if !unicode.IsSpace(runes[next]) {
		return false
	}
	for next < len(runes) && unicode.IsSpace(runes[next]) {
		next++
	}
	if next < len(runes) && unicode.IsUpper(runes[next]) {
		return true
	}
	if punct == '!' || punct == '?' {
		return true
	}
	return false
}

// wordBefore returns the whitespace-delimited word ending at pos,
// lowercased and including the punctuation at pos.
func wordBefore(runes []rune, pos int) string {
	start := pos - 1
	for start >= 0 && !unicode.IsSpace(runes[start]) {
		start--
	}
	if start+1 > pos {
		return ""
	}
	return strings.ToLower(string(runes[start+1 : pos+1]))
}

func isClosing(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']'
}

func hasTerminalPunct(line string) bool {
	runes := []rune(line)
	for i := len(runes) - 1; i >= 0; i-- {
		if isClosing(runes[i]) {
			continue
		}
		r := runes[i]
		return r == '.' || r == '!' || r == '?' || r == ':' || r == ';'
	}
	return false
}

var (
	digitRuns  = regexp.MustCompile(`\d+`)
	pausePunct = regexp.MustCompile(`[,;:\-()]`)
)

// EstimateDuration predicts speaking time for text at the canonical
// 1.0x rate. Real synthesis replaces the estimate as soon as audio
// exists; until then the prefetch window budgets with this.
func EstimateDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}

	rate := baseWordsPerMinute * (1.0 - complexity(text)*0.2)
	seconds := float64(words) * 60.0 / rate
	return time.Duration(seconds * float64(time.Second))
}

// complexity scores how much slower than the base rate a text reads.
// Numbers and pause punctuation add small penalties, long words a
// ratio-scaled one. Capped at 0.5 so the estimate never more than
// doubles.
func complexity(text string) float64 {
	score := 0.0
	score += float64(len(digitRuns.FindAllString(text, -1))) * 0.02
	score += float64(len(pausePunct.FindAllString(text, -1))) * 0.01

	words := strings.Fields(text)
	long := 0
	for _, w := range words {
		if len(w) > 10 {
			long++
		}
	}
	score += float64(long) / float64(len(words)+1) * 0.1

	if score > 0.5 {
		score = 0.5
	}
	return score
}

func abbreviationSet() map[string]struct{} {
	words := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr",
		"ph.d", "m.d", "b.a", "m.a", "b.s",
		"llc", "inc", "ltd", "co", "corp",
		"i.e", "e.g", "etc", "vs", "cf", "al",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		"mon", "tue", "wed", "thu", "fri", "sat", "sun",
		"st", "rd", "ave", "blvd", "ln", "ct",
		"u.s", "u.k", "u.n", "e.u", "n.y", "l.a",
		"ft", "lbs", "oz", "kg", "km", "cm", "mm", "mi", "yd",
		"hr", "hrs", "min", "mins", "sec", "secs",
	}

	set := make(map[string]struct{}, len(words)*2)
	for _, w := range words {
		set[w] = struct{}{}
		if !strings.Contains(w, ".") {
			set[w+"."] = struct{}{}
		}
	}
	return set
}
