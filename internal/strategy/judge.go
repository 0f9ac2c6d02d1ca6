package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/plumelit/plume/internal/llm"
	"github.com/plumelit/plume/internal/model"
)

const judgeBasePrompt = `You are a literary judge evaluating contest submissions. ` +
	`Read every text carefully and rank them by literary merit: originality, craft, ` +
	`and how well each fits the contest. Judge the work, not the author.`

const judgeTemperature = 0.3

// Judge ranks contest submissions through a provider adapter.
type Judge struct {
	providers *llm.Registry
	logger    *slog.Logger
	maxTokens int64
}

func NewJudge(providers *llm.Registry, maxTokens int64, logger *slog.Logger) *Judge {
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &Judge{providers: providers, logger: logger, maxTokens: maxTokens}
}

// JudgeEntry is one submission shown to the model. The title doubles
// as the match-back key, so it must be the stored contest title.
type JudgeEntry struct {
	TextID  uuid.UUID
	Title   string
	Content string
}

// JudgeInput is one evaluation request over a full contest.
type JudgeInput struct {
	Provider           model.Provider
	Model              string
	Personality        string
	ContestDescription string
	Entries            []JudgeEntry
}

// JudgeVote is one parsed ranking entry matched back to a submission.
// Place is nil for entries ranked below the podium; the commentary is
// kept either way.
type JudgeVote struct {
	TextID  uuid.UUID
	Place   *int
	Comment string
}

// JudgeResult carries the parsed votes plus settlement usage.
// Duplicate places are passed through untouched; the vote writer
// enforces podium uniqueness.
type JudgeResult struct {
	Votes            []JudgeVote
	PromptTokens     int64
	CompletionTokens int64
	ParsingSuccess   bool
	Warnings         []string
}

// Prompt returns the exact prompt Evaluate would send, for pre-flight
// token estimates. The prompt does not depend on the model, so one
// estimate covers a multi-model run.
func (j *Judge) Prompt(in JudgeInput) string { return buildJudgePrompt(in) }

// MaxTokens is the completion budget applied to every call.
func (j *Judge) MaxTokens() int64 { return j.maxTokens }

// Evaluate runs the judge strategy end to end: compose, call, parse,
// match back by title.
func (j *Judge) Evaluate(ctx context.Context, in JudgeInput) (JudgeResult, error) {
	if len(in.Entries) == 0 {
		return JudgeResult{}, model.E(model.KindInvalidInput, "contest has no submissions to judge")
	}
	provider, err := j.providers.Provider(in.Provider)
	if err != nil {
		return JudgeResult{}, err
	}

	gen, err := provider.Generate(ctx, llm.GenerateRequest{
		Model:       in.Model,
		Prompt:      buildJudgePrompt(in),
		Temperature: judgeTemperature,
		MaxTokens:   j.maxTokens,
	})
	if err != nil {
		return JudgeResult{}, err
	}

	votes, warnings := parseJudgeOutput(gen.Text, in.Entries)
	result := JudgeResult{
		Votes:            votes,
		PromptTokens:     gen.PromptTokens,
		CompletionTokens: gen.CompletionTokens,
		ParsingSuccess:   len(warnings) == 0,
		Warnings:         warnings,
	}
	if len(votes) == 0 {
		return result, model.E(model.KindParseError, "judge output matched none of the %d submissions", len(in.Entries))
	}
	for _, w := range warnings {
		j.logger.Warn("judge output partially unparseable", "model", in.Model, "detail", w)
	}
	return result, nil
}

func buildJudgePrompt(in JudgeInput) string {
	var sb strings.Builder
	sb.WriteString(judgeBasePrompt)
	if p := strings.TrimSpace(in.Personality); p != "" {
		sb.WriteString("\n\nPersonality:\n")
		sb.WriteString(p)
	}
	if d := strings.TrimSpace(in.ContestDescription); d != "" {
		sb.WriteString("\n\nContest description: ")
		sb.WriteString(d)
	}
	sb.WriteString("\n\nSubmissions:\n")
	for _, entry := range in.Entries {
		sb.WriteString("\nText: ")
		sb.WriteString(entry.Title)
		sb.WriteString("\nContent:\n")
		sb.WriteString(entry.Content)
		sb.WriteString("\n")
	}
	n := len(in.Entries)
	fmt.Fprintf(&sb, "\nReturn exactly %d entries ordered from best (1) to worst (%d). "+
		"Use the exact titles shown above. Each entry must follow this format:\n"+
		"<rank>. <title>\n   Commentary: <one or two sentences on the placement>\n", n, n)
	return sb.String()
}

// ---------------------------------------------------------------------------
// Output parsing
// ---------------------------------------------------------------------------

// judgeHeaderRe finds "<rank>. <title>" lines; the commentary for an
// entry is whatever sits between its header and the next one.
var (
	judgeHeaderRe     = regexp.MustCompile(`(?m)^\s*(\d+)\.\s*(.+)$`)
	judgeCommentaryRe = regexp.MustCompile(`(?s)Commentary:\s*(.*)`)
)

// parseJudgeOutput extracts ranked entries and matches each back to a
// submission by title. Unmatchable titles are dropped with a warning;
// ranks above 3 produce a nil place but keep their commentary.
func parseJudgeOutput(raw string, entries []JudgeEntry) ([]JudgeVote, []string) {
	headers := judgeHeaderRe.FindAllStringSubmatchIndex(raw, -1)
	if len(headers) == 0 {
		return nil, []string{"no ranked entries found in output"}
	}

	index := newTitleIndex(entries)
	var votes []JudgeVote
	var warnings []string

	for i, h := range headers {
		rank := parseRank(raw[h[2]:h[3]])
		title := cleanTitle(raw[h[4]:h[5]])

		segEnd := len(raw)
		if i+1 < len(headers) {
			segEnd = headers[i+1][0]
		}
		comment := ""
		if m := judgeCommentaryRe.FindStringSubmatch(raw[h[1]:segEnd]); m != nil {
			comment = strings.TrimSpace(m[1])
		}

		textID, ok := index.match(title)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("rank %d title %q matches no submission", rank, title))
			continue
		}

		var place *int
		if rank >= 1 && rank <= 3 {
			r := rank
			place = &r
		}
		votes = append(votes, JudgeVote{TextID: textID, Place: place, Comment: comment})
	}
	return votes, warnings
}

func parseRank(s string) int {
	rank := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		rank = rank*10 + int(c-'0')
		if rank > 1000 {
			return 0
		}
	}
	return rank
}

// titleIndex matches model-echoed titles back to submissions. Exact
// normalized matches win; a unique substring overlap is accepted as a
// second chance for models that embellish titles.
type titleIndex struct {
	exact  map[string]uuid.UUID
	titles []string
	ids    []uuid.UUID
}

func newTitleIndex(entries []JudgeEntry) *titleIndex {
	idx := &titleIndex{exact: make(map[string]uuid.UUID, len(entries))}
	for _, e := range entries {
		norm := normalizeTitle(e.Title)
		idx.exact[norm] = e.TextID
		idx.titles = append(idx.titles, norm)
		idx.ids = append(idx.ids, e.TextID)
	}
	return idx
}

func (idx *titleIndex) match(title string) (uuid.UUID, bool) {
	norm := normalizeTitle(title)
	if norm == "" {
		return uuid.Nil, false
	}
	if id, ok := idx.exact[norm]; ok {
		return id, true
	}

	var found uuid.UUID
	hits := 0
	for i, stored := range idx.titles {
		if strings.Contains(norm, stored) || strings.Contains(stored, norm) {
			found = idx.ids[i]
			hits++
		}
	}
	if hits == 1 {
		return found, true
	}
	return uuid.Nil, false
}

func normalizeTitle(s string) string {
	s = strings.ToLower(cleanTitle(s))
	return strings.Join(strings.Fields(s), " ")
}
