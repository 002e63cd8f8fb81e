// Package retrieval answers questions over one or more ready contexts:
// embed the query, search every context index, rank the combined hits,
// assemble a token-budgeted prompt, and generate a cited answer.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ragline/ragline/internal/core"
	"github.com/ragline/ragline/internal/models"
)

const systemPrompt = `You are a precise assistant that answers strictly from the provided context snippets.
Cite snippets by their bracketed number, e.g. [2]. If the snippets do not contain the answer, say so plainly.`

// Config tunes the assembler.
type Config struct {
	KPerContext     int
	TokenBudget     int // budget for context snippets in the prompt
	SearchTimeout   time.Duration // per-context search deadline
	MaxAnswerTokens int
	HistoryLimit    int           // chat turns included in the prompt
	RetryBackoff    time.Duration // pause before the second generation attempt
}

// Answer is a generated reply plus the snippets that were actually sent to
// the model. Citations list exactly the selected snippets, nothing more.
type Answer struct {
	Text       string
	Citations  []models.Citation
	TokensUsed int
}

// Assembler wires the retrieval pipeline together.
type Assembler struct {
	indexes  core.IndexProvider
	embedder core.EmbeddingProvider
	llm      core.LLMProvider
	cfg      Config
	logger   *slog.Logger
}

func NewAssembler(indexes core.IndexProvider, embedder core.EmbeddingProvider, llm core.LLMProvider, cfg Config, logger *slog.Logger) *Assembler {
	if cfg.KPerContext <= 0 {
		cfg.KPerContext = 5
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 3000
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 5 * time.Second
	}
	if cfg.MaxAnswerTokens <= 0 {
		cfg.MaxAnswerTokens = 1024
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	return &Assembler{indexes: indexes, embedder: embedder, llm: llm, cfg: cfg, logger: logger}
}

// hit is a match tagged with its originating context.
type hit struct {
	contextName string
	match       core.Match
	order       int // arrival order for stable tie-breaks
}

// Answer runs the full retrieval flow. Every context must be ready; a
// context that fails to search is skipped (logged) as long as at least one
// succeeds.
func (a *Assembler) Answer(ctx context.Context, question string, contexts []*models.Context, history []models.ChatMessage) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("empty question")
	}
	if len(contexts) == 0 {
		return nil, fmt.Errorf("no contexts selected")
	}
	for _, kc := range contexts {
		if kc.Status != models.StatusReady {
			return nil, fmt.Errorf("%w: %s is %s", core.ErrContextNotReady, kc.Name, kc.Status)
		}
	}

	qvec, err := a.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := a.searchAll(ctx, qvec, contexts)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return &Answer{Text: "I could not find anything relevant in the selected contexts.", Citations: []models.Citation{}}, nil
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].match.Score != hits[j].match.Score {
			return hits[i].match.Score > hits[j].match.Score
		}
		return hits[i].order < hits[j].order
	})

	selected := a.selectWithinBudget(hits)
	prompt := a.buildPrompt(question, selected, history)

	text, err := a.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	citations := make([]models.Citation, len(selected))
	for i, h := range selected {
		citations[i] = models.Citation{
			ContextName: h.contextName,
			Source:      h.match.Source,
			Score:       h.match.Score,
			Section:     h.match.Meta.Section,
			Table:       h.match.Meta.Table,
		}
	}
	return &Answer{
		Text:       text,
		Citations:  citations,
		TokensUsed: Estimate(prompt) + Estimate(text),
	}, nil
}

// searchAll fans out one search per context with a per-context deadline.
// Individual failures degrade the answer rather than failing it; only a run
// where every context failed is an error.
func (a *Assembler) searchAll(ctx context.Context, qvec []float32, contexts []*models.Context) ([]hit, error) {
	var (
		mu     sync.Mutex
		hits   []hit
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, kc := range contexts {
		kc := kc
		g.Go(func() error {
			searchCtx, cancel := context.WithTimeout(gctx, a.cfg.SearchTimeout)
			defer cancel()

			matches, err := a.searchOne(searchCtx, kc, qvec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				a.logger.Warn("context search failed", "context", kc.Name, "error", err)
				return nil
			}
			for _, m := range matches {
				hits = append(hits, hit{contextName: kc.Name, match: m, order: len(hits)})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if failed == len(contexts) {
		return nil, fmt.Errorf("all %d context searches failed", failed)
	}
	return hits, nil
}

func (a *Assembler) searchOne(ctx context.Context, kc *models.Context, qvec []float32) ([]core.Match, error) {
	idx, err := a.indexes.Open(ctx, kc.ID, a.embedder.Dim())
	if err != nil {
		return nil, err
	}
	return idx.Search(ctx, qvec, a.cfg.KPerContext)
}

// selectWithinBudget keeps the highest-ranked hits whose combined token
// estimate fits the snippet budget. Greedy in rank order; the top hit is
// always kept.
func (a *Assembler) selectWithinBudget(hits []hit) []hit {
	budget := NewBudget(a.cfg.TokenBudget)
	var selected []hit
	for _, h := range hits {
		if !budget.TryAdd(Estimate(h.match.Text)) {
			break
		}
		selected = append(selected, h)
	}
	return selected
}

func (a *Assembler) buildPrompt(question string, selected []hit, history []models.ChatMessage) string {
	var b strings.Builder

	b.WriteString("Context snippets:\n\n")
	for i, h := range selected {
		fmt.Fprintf(&b, "[%d] (%s / %s", i+1, h.contextName, h.match.Source)
		if h.match.Meta.Section != "" {
			fmt.Fprintf(&b, " / %s", h.match.Meta.Section)
		}
		b.WriteString(")\n")
		b.WriteString(h.match.Text)
		b.WriteString("\n\n")
	}

	if n := len(history); n > 0 {
		start := 0
		if n > a.cfg.HistoryLimit {
			start = n - a.cfg.HistoryLimit
		}
		b.WriteString("Conversation so far:\n")
		for _, m := range history[start:] {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

// generate calls the model, retrying once after a short backoff.
func (a *Assembler) generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		text, err := a.llm.Generate(ctx, systemPrompt, prompt, a.cfg.MaxAnswerTokens)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		a.logger.Warn("generation attempt failed", "attempt", attempt, "error", err)
		if attempt < 2 {
			select {
			case <-ctx.Done():
			case <-time.After(a.cfg.RetryBackoff):
			}
		}
	}
	return "", fmt.Errorf("%w: %v", core.ErrGenerationFailed, lastErr)
}
