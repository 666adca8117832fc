// Package preprocess cleans and chunks document text before embedding.
// Long documents are split into overlapping, sentence-aligned chunks so
// each piece stays inside a model's useful input window.
package preprocess

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/S-Corkum/deepsearch/pkg/observability"
)

// Config tunes cleaning and chunking.
type Config struct {
	// MaxChunkSize is the chunk length ceiling in bytes.
	MaxChunkSize int

	// ChunkOverlap is how many trailing bytes of a finished chunk are
	// carried into the next one, word-aligned.
	ChunkOverlap int

	// MinChunkSize drops chunks shorter than this many bytes.
	MinChunkSize int

	// RemoveStopWords strips common filler words during cleaning.
	RemoveStopWords bool
}

// DefaultConfig returns the standard preprocessing tuning.
func DefaultConfig() Config {
	return Config{
		MaxChunkSize: 512,
		ChunkOverlap: 50,
		MinChunkSize: 50,
	}
}

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	urlPattern        = regexp.MustCompile(`https?://\S+`)
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	stackedPunct      = regexp.MustCompile(`[\pP]{2,}`)
	sentenceBoundary  = regexp.MustCompile(`[.!?。！？]+`)
)

// stopWords is the filler vocabulary stripped when RemoveStopWords is set.
// Mixed Chinese and English, matching the corpus this system indexes.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"的", "了", "在", "是", "我", "有", "和", "就", "不", "人", "都", "一", "一个", "上", "也", "很", "到", "说", "要", "去", "你",
		"会", "着", "没有", "看", "好", "自己", "这", "那", "他", "她", "它", "我们", "你们", "他们", "她们", "它们",
		"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with", "by", "is", "are", "was", "were", "be", "been",
	} {
		stopWords[w] = struct{}{}
	}
}

// Preprocessor cleans, chunks and profiles raw document text.
type Preprocessor struct {
	config Config
	logger observability.Logger
}

// New builds a preprocessor. Zero config fields fall back to defaults.
func New(config Config, logger observability.Logger) *Preprocessor {
	defaults := DefaultConfig()
	if config.MaxChunkSize <= 0 {
		config.MaxChunkSize = defaults.MaxChunkSize
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = defaults.ChunkOverlap
	}
	if config.MinChunkSize <= 0 {
		config.MinChunkSize = defaults.MinChunkSize
	}
	if logger == nil {
		logger = observability.NewLogger("vector.preprocess")
	}
	return &Preprocessor{config: config, logger: logger}
}

// Preprocess cleans the text and splits it into valid chunks. Chunks
// shorter than MinChunkSize are dropped; empty input yields nil.
func (p *Preprocessor) Preprocess(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	cleaned := p.CleanText(text)
	if cleaned == "" {
		return nil
	}

	chunks := p.ChunkText(cleaned)

	valid := chunks[:0]
	for _, chunk := range chunks {
		if len(chunk) >= p.config.MinChunkSize {
			valid = append(valid, chunk)
		}
	}

	p.logger.Debug("text preprocessed", map[string]interface{}{
		"raw_length":     len(text),
		"cleaned_length": len(cleaned),
		"chunks":         len(valid),
	})
	return valid
}

// CleanText strips markup, URLs, email addresses and stacked punctuation,
// collapses whitespace and lowercases the result.
func (p *Preprocessor) CleanText(text string) string {
	result := htmlTagPattern.ReplaceAllString(text, " ")
	result = urlPattern.ReplaceAllString(result, " ")
	result = emailPattern.ReplaceAllString(result, " ")
	result = whitespacePattern.ReplaceAllString(result, " ")
	result = stackedPunct.ReplaceAllString(result, " ")
	if p.config.RemoveStopWords {
		result = p.stripStopWords(result)
	}
	return strings.ToLower(strings.TrimSpace(result))
}

// ChunkText splits text into sentence-aligned chunks of at most
// MaxChunkSize bytes, carrying ChunkOverlap bytes of word-aligned overlap
// between consecutive chunks.
func (p *Preprocessor) ChunkText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []string
	var current strings.Builder

	for _, sentence := range sentenceBoundary.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		if current.Len() > 0 && current.Len()+len(sentence) > p.config.MaxChunkSize {
			chunk := strings.TrimSpace(current.String())
			if len(chunk) >= p.config.MinChunkSize {
				chunks = append(chunks, chunk)
			}

			current.Reset()
			if p.config.ChunkOverlap > 0 && len(chunk) >= p.config.ChunkOverlap {
				current.WriteString(lastWords(chunk, p.config.ChunkOverlap))
				current.WriteString(" ")
			}
		}

		if current.Len() > 0 && !strings.HasSuffix(current.String(), " ") {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}

	last := strings.TrimSpace(current.String())
	if len(last) >= p.config.MinChunkSize {
		chunks = append(chunks, last)
	}
	return chunks
}

// Complexity scores how demanding a text is to embed, in [0, 1]. It blends
// lexical diversity, average sentence length and punctuation density.
func (p *Preprocessor) Complexity(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	words := strings.Fields(strings.ToLower(text))
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	var lexicalDiversity float64
	if len(words) > 0 {
		lexicalDiversity = float64(len(unique)) / float64(len(words))
	}

	sentences := 0
	for _, s := range sentenceBoundary.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	var avgSentenceLength float64
	if sentences > 0 {
		avgSentenceLength = float64(len(words)) / float64(sentences)
	}

	punct := 0
	total := 0
	for _, r := range text {
		total++
		if unicode.Is(unicode.Po, r) {
			punct++
		}
	}
	var punctuationDensity float64
	if total > 0 {
		punctuationDensity = float64(punct) / float64(total)
	}

	complexity := lexicalDiversity*0.4 +
		min(avgSentenceLength/20, 1)*0.4 +
		punctuationDensity*0.2
	return min(complexity, 1)
}

// EstimateProcessingTime predicts how long embedding the text will take,
// never less than one millisecond.
func (p *Preprocessor) EstimateProcessingTime(text string) time.Duration {
	if text == "" {
		return 0
	}
	ms := int64(len(text)/1000) + int64(p.Complexity(text)*10)
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

func (p *Preprocessor) stripStopWords(text string) string {
	var out []string
	for _, word := range strings.Fields(text) {
		clean := strings.ToLower(strings.TrimSpace(word))
		if _, stop := stopWords[clean]; stop || utf8.RuneCountInString(clean) <= 1 {
			continue
		}
		out = append(out, word)
	}
	return strings.Join(out, " ")
}

// lastWords returns the trailing whole words of text fitting in maxLength
// bytes. The full text is returned when it already fits.
func lastWords(text string, maxLength int) string {
	if len(text) <= maxLength {
		return text
	}

	words := strings.Fields(text)
	var kept []string
	length := 0
	for i := len(words) - 1; i >= 0; i-- {
		add := len(words[i])
		if len(kept) > 0 {
			add++
		}
		if length+add > maxLength {
			break
		}
		kept = append([]string{words[i]}, kept...)
		length += add
	}
	return strings.Join(kept, " ")
}
