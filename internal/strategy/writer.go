// Package strategy composes prompts for writer and judge agents and
// parses model output back into structured results. Strategies are
// stateless; every call carries its own inputs and the adapters behind
// the registry handle transport.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/plumelit/plume/internal/llm"
	"github.com/plumelit/plume/internal/model"
)

// writerBasePrompt anchors every writer call. The personality prompt
// and call-site context are injected between it and the format
// instruction.
const writerBasePrompt = `You are a creative writer participating in a literary contest. ` +
	`Write an original short text that fits the context below. ` +
	`Stay within the spirit of the contest and avoid meta commentary about being an AI.`

// writerFormatInstruction pins the output shape the parser expects.
const writerFormatInstruction = `Respond with exactly this format and nothing else:
Title: <title>
Text: <the full text>`

const (
	maxTitleRunes     = 200
	minContentRunes   = 10
	maxVariants       = 4
	titleMaxWords     = 25
	fallbackTitleCut  = 80
	writerTemperature = 0.9
)

// Writer generates contest texts through a provider adapter.
type Writer struct {
	providers *llm.Registry
	logger    *slog.Logger
	maxTokens int64
}

func NewWriter(providers *llm.Registry, maxTokens int64, logger *slog.Logger) *Writer {
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &Writer{providers: providers, logger: logger, maxTokens: maxTokens}
}

// WriterInput is one generation request. Variants above 1 fan out as a
// provider batch; the first parseable variant wins and the usage of
// every variant is summed for settlement.
type WriterInput struct {
	Provider           model.Provider
	Model              string
	Personality        string
	Title              string
	Requirements       string
	ContestDescription string
	Variants           int
}

// WriterResult carries the chosen text plus everything settlement and
// auditing need. FallbackLevel records which parse stage produced the
// title: 1 strict, 2 heuristic, 3 synthesized.
type WriterResult struct {
	Title            string
	Content          string
	PromptTokens     int64
	CompletionTokens int64
	ParsingSuccess   bool
	FallbackLevel    int
	Warnings         []string
}

// Prompt returns the exact prompt Generate would send, for pre-flight
// token estimates.
func (w *Writer) Prompt(in WriterInput) string { return buildWriterPrompt(in) }

// MaxTokens is the completion budget applied to every call.
func (w *Writer) MaxTokens() int64 { return w.maxTokens }

// ClampVariants bounds a requested variant count to what Generate will
// actually run, so cost estimates and executions agree.
func ClampVariants(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxVariants {
		return maxVariants
	}
	return n
}

// Generate runs the writer strategy end to end: compose, call, parse.
func (w *Writer) Generate(ctx context.Context, in WriterInput) (WriterResult, error) {
	provider, err := w.providers.Provider(in.Provider)
	if err != nil {
		return WriterResult{}, err
	}

	variants := ClampVariants(in.Variants)

	prompt := buildWriterPrompt(in)
	req := llm.GenerateRequest{
		Model:       in.Model,
		Prompt:      prompt,
		Temperature: writerTemperature,
		MaxTokens:   w.maxTokens,
	}

	if variants == 1 {
		gen, err := provider.Generate(ctx, req)
		if err != nil {
			return WriterResult{}, err
		}
		return w.pick(in, []llm.Generation{gen})
	}

	reqs := make([]llm.GenerateRequest, variants)
	for i := range reqs {
		reqs[i] = req
	}
	gens, err := provider.GenerateBatch(ctx, reqs)
	if err != nil {
		return WriterResult{}, err
	}
	return w.pick(in, gens)
}

// pick sums usage across variants and keeps the first one whose output
// parses. Placeholder items from partial batch failures are skipped
// but still counted as warnings.
func (w *Writer) pick(in WriterInput, gens []llm.Generation) (WriterResult, error) {
	result := WriterResult{}
	chosen := false

	for i, gen := range gens {
		result.PromptTokens += gen.PromptTokens
		result.CompletionTokens += gen.CompletionTokens

		if gen.Empty() {
			result.Warnings = append(result.Warnings, fmt.Sprintf("variant %d returned no output", i+1))
			continue
		}
		if chosen {
			continue
		}

		parsed, ok := parseWriterOutput(gen.Text, in.Title)
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("variant %d produced unusable output", i+1))
			continue
		}
		result.Title = parsed.title
		result.Content = parsed.content
		result.FallbackLevel = parsed.level
		result.ParsingSuccess = parsed.level < 3
		chosen = true
	}

	if !chosen {
		return WriterResult{}, model.E(model.KindParseError, "writer produced no usable output across %d variant(s)", len(gens))
	}
	if result.FallbackLevel > 1 {
		w.logger.Warn("writer output needed fallback parsing",
			"model", in.Model, "level", result.FallbackLevel)
	}
	return result, nil
}

func buildWriterPrompt(in WriterInput) string {
	var sb strings.Builder
	sb.WriteString(writerBasePrompt)
	if p := strings.TrimSpace(in.Personality); p != "" {
		sb.WriteString("\n\nPersonality:\n")
		sb.WriteString(p)
	}
	sb.WriteString("\n\nContext:")
	if d := strings.TrimSpace(in.ContestDescription); d != "" {
		sb.WriteString("\nContest description: ")
		sb.WriteString(d)
	}
	if t := strings.TrimSpace(in.Title); t != "" {
		sb.WriteString("\nSuggested title: ")
		sb.WriteString(t)
	}
	if r := strings.TrimSpace(in.Requirements); r != "" {
		sb.WriteString("\nRequirements: ")
		sb.WriteString(r)
	}
	sb.WriteString("\n\n")
	sb.WriteString(writerFormatInstruction)
	return sb.String()
}

// ---------------------------------------------------------------------------
// Output parsing
// ---------------------------------------------------------------------------

// strictWriterRe matches the requested "Title: ...\nText: ..." shape.
var strictWriterRe = regexp.MustCompile(`(?s)\ATitle:[ \t]*(.+?)\s*\n\s*Text:[ \t]*(.+)\z`)

type parsedWriter struct {
	title   string
	content string
	level   int
}

// parseWriterOutput recovers (title, content) from raw model output.
// Three stages, each strictly more permissive:
//  1. the requested Title:/Text: format,
//  2. first plausible line treated as a title,
//  3. synthesized title over the raw output.
//
// Returns ok=false only when even stage 3 cannot produce valid content.
func parseWriterOutput(raw, fallbackTitle string) (parsedWriter, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return parsedWriter{}, false
	}

	if m := strictWriterRe.FindStringSubmatch(trimmed); m != nil {
		title := cleanTitle(m[1])
		content := strings.TrimSpace(m[2])
		if validTitle(title) && validContent(content) {
			return parsedWriter{title: title, content: content, level: 1}, true
		}
	}

	if p, ok := parseWriterLines(trimmed); ok {
		return p, true
	}

	return synthesizeWriter(trimmed, fallbackTitle)
}

// parseWriterLines treats the first non-decorated line as the title
// when it is shaped like one: short, few words, no sentence-final
// punctuation.
func parseWriterLines(raw string) (parsedWriter, bool) {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		candidate := cleanTitle(line)
		if candidate == "" {
			continue
		}
		rest := strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		if !titleShaped(candidate) || !validContent(rest) {
			return parsedWriter{}, false
		}
		return parsedWriter{title: candidate, content: rest, level: 2}, true
	}
	return parsedWriter{}, false
}

// synthesizeWriter keeps the whole output as content and makes up a
// title: the caller-provided one when present, otherwise the first
// sentence.
func synthesizeWriter(raw, fallbackTitle string) (parsedWriter, bool) {
	content := strings.TrimSpace(stripFormatKeywords(raw))
	if !validContent(content) {
		return parsedWriter{}, false
	}
	title := strings.TrimSpace(fallbackTitle)
	if title == "" {
		title = firstSentence(content)
	}
	title = cleanTitle(title)
	if title == "" || len([]rune(title)) > maxTitleRunes {
		title = truncateRunes(title, maxTitleRunes)
	}
	if title == "" {
		return parsedWriter{}, false
	}
	return parsedWriter{title: title, content: content, level: 3}, true
}

// cleanTitle strips markdown decoration, wrapping quotes, and any
// leaked format keywords from a title candidate.
func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "Title:")
	for _, decor := range []string{"#", "*", "_", "=", "-", ">"} {
		s = strings.Trim(s, decor+" \t")
	}
	s = strings.Trim(s, `"'“”« »`)
	return strings.TrimSpace(s)
}

func validTitle(title string) bool {
	if title == "" || len([]rune(title)) > maxTitleRunes {
		return false
	}
	return !containsFormatKeyword(title)
}

func validContent(content string) bool {
	return len([]rune(content)) >= minContentRunes
}

// titleShaped is the stage-2 shape filter.
func titleShaped(candidate string) bool {
	if !validTitle(candidate) {
		return false
	}
	if len(strings.Fields(candidate)) > titleMaxWords {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(candidate)
	return !strings.ContainsRune(".!?,;:", last)
}

func containsFormatKeyword(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "title:") || strings.Contains(lower, "text:")
}

// stripFormatKeywords drops leaked "Title:"/"Text:" markers from
// synthesized content so the artifact reads clean.
func stripFormatKeywords(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		t := strings.TrimSpace(line)
		t = strings.TrimSpace(strings.TrimPrefix(t, "Title:"))
		t = strings.TrimSpace(strings.TrimPrefix(t, "Text:"))
		out = append(out, t)
	}
	return strings.Join(out, "\n")
}

func firstSentence(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.IndexAny(content, ".!?\n"); idx > 0 {
		content = content[:idx]
	}
	return truncateRunes(strings.TrimSpace(content), fallbackTitleCut)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max]))
}
