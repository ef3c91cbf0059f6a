// Package llm is the single gateway through which every other
// component talks to a chat model: three call shapes (chat, json,
// embed/rerank) with provider quirks — JSON-mode word injection,
// markdown-fence stripping, response-shape coercion — encapsulated
// here and nowhere else. The json() shape does not clamp max_tokens:
// the Anthropic arm sends a fixed 4096 on every call, and the OpenAI
// and Ollama arms send no max_tokens value.
package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/reflective-memory-kernel/internal/errs"
)

// Provider is a named backend the gateway can route calls to.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
)

// chatBackend is the minimal shape every provider implementation
// satisfies; the gateway layers JSON-mode coercion and embedding
// support on top of it.
type chatBackend interface {
	chat(ctx context.Context, system, user, model string) (string, error)
}

// embedBackend is implemented by providers that can produce embeddings.
type embedBackend interface {
	embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Config selects providers and models per call shape.
type Config struct {
	ChatProvider  Provider
	JSONProvider  Provider
	EmbedProvider Provider
	ChatModel     string
	JSONModel     string
	EmbedModel    string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	OllamaBaseURL   string
}

// Gateway is the only component in the repository allowed to make an
// outbound call to a language model.
type Gateway struct {
	cfg       Config
	logger    *zap.Logger
	backends  map[Provider]chatBackend
	embedders map[Provider]embedBackend
}

func New(cfg Config, logger *zap.Logger) *Gateway {
	g := &Gateway{
		cfg:       cfg,
		logger:    logger.Named("llm"),
		backends:  map[Provider]chatBackend{},
		embedders: map[Provider]embedBackend{},
	}

	if cfg.OpenAIAPIKey != "" {
		p := newOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		g.backends[ProviderOpenAI] = p
		g.embedders[ProviderOpenAI] = p
	}
	if cfg.AnthropicAPIKey != "" {
		g.backends[ProviderAnthropic] = newAnthropicProvider(cfg.AnthropicAPIKey)
	}
	g.backends[ProviderOllama] = newOllamaProvider(cfg.OllamaBaseURL)

	return g
}

// ChatRequest is a plain conversational call: no shape is enforced on
// the response.
type ChatRequest struct {
	System string
	User   string
	Model  string
}

// Chat performs an unconstrained chat completion.
func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (string, error) {
	backend, ok := g.backends[g.cfg.ChatProvider]
	if !ok {
		return "", errs.LLMFailure("llm.Chat", fmt.Errorf("no backend configured for provider %q", g.cfg.ChatProvider))
	}
	model := req.Model
	if model == "" {
		model = g.cfg.ChatModel
	}
	out, err := backend.chat(ctx, req.System, req.User, model)
	if err != nil {
		return "", errs.LLMFailure("llm.Chat", err)
	}
	return stripThinkingTags(out), nil
}

// JSONRequest is a call whose response MUST parse as the shape named
// by Schema (a human-readable description injected into the prompt,
// not a formal JSON Schema document — matching the teacher's
// "mention the word JSON" convention rather than a strict validator).
type JSONRequest struct {
	System string
	User   string
	Model  string
	Schema string
}

// JSON performs a call whose output is coerced into a JSON object.
// This is the one place in the codebase permitted to re-shape model
// output: bare arrays are wrapped, scalars are promoted to singleton
// lists, and numeric strings are coerced — everywhere else a shape
// mismatch is a hard failure.
func (g *Gateway) JSON(ctx context.Context, req JSONRequest) (map[string]interface{}, error) {
	backend, ok := g.backends[g.cfg.JSONProvider]
	if !ok {
		return nil, errs.LLMFailure("llm.JSON", fmt.Errorf("no backend configured for provider %q", g.cfg.JSONProvider))
	}
	model := req.Model
	if model == "" {
		model = g.cfg.JSONModel
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.WriteString(req.System)
	buf.WriteString("\n\nRespond with a single JSON object matching this shape: ")
	buf.WriteString(req.Schema)
	buf.WriteString("\nYour entire reply must be valid JSON. Do not wrap it in markdown fences.")

	raw, err := backend.chat(ctx, buf.String(), req.User, model)
	if err != nil {
		return nil, errs.LLMFailure("llm.JSON", err)
	}

	cleaned := stripThinkingTags(stripCodeFences(raw))
	parsed, err := parseJSONFromResponse(cleaned)
	if err != nil {
		return nil, errs.LLMShapeFailure("llm.JSON", err)
	}
	return coerceShape(parsed), nil
}

// Embed produces one embedding vector per input text.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embedder, ok := g.embedders[g.cfg.EmbedProvider]
	if !ok {
		return nil, errs.LLMFailure("llm.Embed", fmt.Errorf("no embedder configured for provider %q", g.cfg.EmbedProvider))
	}
	out, err := embedder.embed(ctx, g.cfg.EmbedModel, texts)
	if err != nil {
		return nil, errs.LLMFailure("llm.Embed", err)
	}
	return out, nil
}

// RerankResult pairs a candidate document with its relevance score.
type RerankResult struct {
	Index int
	Score float64
}

// Rerank scores candidates against query using cosine similarity over
// embeddings from the configured embed provider — there is no
// dedicated rerank endpoint in the wired provider set, so the gateway
// implements it in terms of Embed, matching the "rerank is a call
// shape, not necessarily a distinct endpoint" design note.
func (g *Gateway) Rerank(ctx context.Context, query string, docs []string) ([]RerankResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	vectors, err := g.Embed(ctx, append([]string{query}, docs...))
	if err != nil {
		return nil, err
	}
	qv := vectors[0]
	results := make([]RerankResult, len(docs))
	for i, dv := range vectors[1:] {
		results[i] = RerankResult{Index: i, Score: cosineSimilarity(qv, dv)}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (sqrt(na) * sqrt(nb))
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
