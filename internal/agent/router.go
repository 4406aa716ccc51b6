package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ProviderFactory lazily constructs a provider adapter.
type ProviderFactory func() (Provider, error)

// Router selects a provider per request and drives the tool-use loop on top
// of the selected adapter's raw stream.
type Router struct {
	mu        sync.Mutex
	factories map[string]ProviderFactory
	providers map[string]Provider

	defaultProvider string
	defaultModel    string

	// smallModel, when set, is preferred for simple tool-free queries.
	smallModel string

	logger *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the logger.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSmallModel enables the simple-query heuristic: short prompts with no
// tools route to the given model.
func WithSmallModel(model string) RouterOption {
	return func(r *Router) {
		r.smallModel = model
	}
}

// NewRouter creates a router with the given default provider/model pair.
func NewRouter(defaultProvider, defaultModel string, opts ...RouterOption) *Router {
	r := &Router{
		factories:       make(map[string]ProviderFactory),
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
		defaultModel:    defaultModel,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterProvider installs a lazily constructed adapter under a provider tag.
func (r *Router) RegisterProvider(name string, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = factory
}

// provider returns the adapter for the given tag, constructing it on first use.
func (r *Router) provider(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	p, err := factory()
	if err != nil {
		return nil, fmt.Errorf("create provider %s: %w", name, err)
	}
	r.providers[name] = p
	return p, nil
}

// simpleQueryThreshold is the prompt length under which a tool-free request
// is considered simple enough for the small model.
const simpleQueryThreshold = 200

// resolve maps a request to (provider tag, model id). Model overrides may be
// prefixed "provider/model"; otherwise the configured default applies, with
// the simple-query heuristic in between.
func (r *Router) resolve(opts *LoopOptions) (string, string) {
	model := opts.Model
	if model != "" {
		if prov, rest, ok := strings.Cut(model, "/"); ok {
			if _, err := r.provider(strings.ToLower(prov)); err == nil {
				return strings.ToLower(prov), rest
			}
		}
		return r.providerForModel(model), model
	}

	if r.smallModel != "" && len(opts.Tools) == 0 && promptSize(opts) < simpleQueryThreshold {
		return r.providerForModel(r.smallModel), r.smallModel
	}

	return r.defaultProvider, r.defaultModel
}

func promptSize(opts *LoopOptions) int {
	n := 0
	for _, m := range opts.Messages {
		n += len(m.Content)
	}
	return n
}

// providerForModel guesses a provider tag from a bare model id.
func (r *Router) providerForModel(model string) string {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "claude"):
		return "anthropic"
	case strings.HasPrefix(lower, "gpt") || strings.HasPrefix(lower, "o1") || strings.HasPrefix(lower, "o3"):
		return "openai"
	case strings.Contains(lower, "."): // bedrock ids look like anthropic.claude-...
		return "bedrock"
	default:
		return r.defaultProvider
	}
}

// visionFamilies is the allow-list of model families known to accept images.
var visionFamilies = []string{
	"claude-3",
	"claude-sonnet",
	"claude-opus",
	"claude-haiku",
	"gpt-4o",
	"gpt-4-turbo",
	"gpt-4.1",
	"nova",
	"pixtral",
}

// SupportsVision reports whether the model belongs to a known vision family.
func (r *Router) SupportsVision(model string) bool {
	lower := strings.ToLower(model)
	for _, family := range visionFamilies {
		if strings.Contains(lower, family) {
			return true
		}
	}
	return false
}

// StreamWithToolLoop resolves a provider, emits one routing_info event, and
// drives the tool-use loop over the adapter's raw stream. The returned
// channel is closed after the terminal event.
func (r *Router) StreamWithToolLoop(ctx context.Context, opts LoopOptions) (<-chan StreamEvent, error) {
	providerName, model := r.resolve(&opts)
	provider, err := r.provider(providerName)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		if !emit(ctx, out, StreamEvent{Type: EventRoutingInfo, Provider: providerName, Model: model}) {
			return
		}
		r.logger.Debug("routing request", "provider", providerName, "model", model, "tools", len(opts.Tools))
		runToolLoop(ctx, provider, model, opts, out)
	}()
	return out, nil
}

// emit sends an event unless the context is done. Returns false when the
// caller should stop producing.
func emit(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- ev:
		return true
	}
}
