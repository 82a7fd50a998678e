package engine

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/cvagent/internal/prompts"
)

// ControllerBuilder helps construct a Controller with a fluent API.
// Stages not supplied explicitly are built on the LLM client.
type ControllerBuilder struct {
	config  ControllerConfig
	llm     LLMClient
	tools   ToolRegistry
	hooks   Hooks
	store   Checkpointer
	logger  *zap.Logger
	decider Decider
	planner Planner
	actor   Actor
	judge   Judge
}

// NewControllerBuilder creates a new builder with default configuration.
func NewControllerBuilder() *ControllerBuilder {
	return &ControllerBuilder{
		config: DefaultControllerConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *ControllerBuilder) WithConfig(cfg ControllerConfig) *ControllerBuilder {
	b.config = cfg
	return b
}

// WithModel sets the model name.
func (b *ControllerBuilder) WithModel(model string) *ControllerBuilder {
	b.config.Model = model
	return b
}

// WithLLM sets the LLM client.
func (b *ControllerBuilder) WithLLM(llm LLMClient) *ControllerBuilder {
	b.llm = llm
	return b
}

// WithRetryCap sets how many judge rejections are allowed before the run ends.
func (b *ControllerBuilder) WithRetryCap(n int) *ControllerBuilder {
	b.config.RetryCap = n
	return b
}

// WithMaxActTurns bounds the acting loop.
func (b *ControllerBuilder) WithMaxActTurns(n int) *ControllerBuilder {
	b.config.MaxActTurns = n
	return b
}

// WithToolRegistry sets the tools offered to the acting stage.
func (b *ControllerBuilder) WithToolRegistry(reg ToolRegistry) *ControllerBuilder {
	b.tools = reg
	return b
}

// WithCheckpointer sets where state is saved after each transition.
func (b *ControllerBuilder) WithCheckpointer(store Checkpointer) *ControllerBuilder {
	b.store = store
	return b
}

// WithHooks sets custom hooks. A LoggerHook is added when a logger is set.
func (b *ControllerBuilder) WithHooks(hooks ...Hook) *ControllerBuilder {
	b.hooks = append(b.hooks, hooks...)
	return b
}

// WithLogger sets the logger used for the default LoggerHook.
func (b *ControllerBuilder) WithLogger(l *zap.Logger) *ControllerBuilder {
	b.logger = l
	return b
}

// WithStages overrides the LLM-backed stages. Nil arguments keep the default.
func (b *ControllerBuilder) WithStages(d Decider, p Planner, a Actor, j Judge) *ControllerBuilder {
	b.decider, b.planner, b.actor, b.judge = d, p, a, j
	return b
}

// Build constructs the Controller instance.
func (b *ControllerBuilder) Build() (*Controller, error) {
	if err := b.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid controller config: %w", err)
	}
	if b.tools == nil {
		return nil, fmt.Errorf("tools not configured: use WithToolRegistry")
	}

	hooks := b.hooks
	if b.logger != nil {
		hooks = append(Hooks{LoggerHook{L: b.logger, Model: b.config.Model}}, hooks...)
	}

	needLLM := b.decider == nil || b.planner == nil || b.actor == nil || b.judge == nil
	if needLLM {
		if b.llm == nil {
			return nil, fmt.Errorf("LLM client not configured: use WithLLM")
		}
		if err := b.buildStages(observedClient{next: b.llm, hooks: hooks}); err != nil {
			return nil, err
		}
	}

	if b.logger != nil {
		logConfiguration(b.logger, b.config, b.tools)
	}

	return &Controller{
		decider: b.decider,
		planner: b.planner,
		actor:   b.actor,
		judge:   b.judge,
		tools:   b.tools,
		store:   b.store,
		hooks:   hooks,
		cfg:     b.config,
	}, nil
}

func (b *ControllerBuilder) buildStages(llm LLMClient) error {
	vars := map[string]string{
		"dialect": b.config.Dialect,
		"tools":   DescribeTools(b.tools),
		"ilike":   ilikeHint(b.config.Dialect),
	}
	render := func(id string) (string, error) {
		return prompts.Render(id, vars)
	}
	opts := b.config.chatOptions()

	if b.decider == nil {
		p, err := render(prompts.IDDecision)
		if err != nil {
			return err
		}
		b.decider = NewLLMDecider(llm, b.config.Model, opts, p)
	}
	if b.planner == nil {
		p, err := render(prompts.IDPlanning)
		if err != nil {
			return err
		}
		b.planner = NewLLMPlanner(llm, b.config.Model, opts, p)
	}
	if b.actor == nil {
		p, err := render(prompts.IDActing)
		if err != nil {
			return err
		}
		b.actor = NewLLMActor(llm, b.config.Model, opts, p)
	}
	if b.judge == nil {
		p, err := render(prompts.IDJudge)
		if err != nil {
			return err
		}
		b.judge = NewLLMJudge(llm, b.config.Model, opts, p)
	}
	return nil
}

// DescribeTools renders the registry as a bullet list for prompts.
func DescribeTools(reg ToolRegistry) string {
	var sb strings.Builder
	for _, s := range reg.Schemas() {
		fmt.Fprintf(&sb, "- %s: %s\n", s.Name, s.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func ilikeHint(dialect string) string {
	if strings.EqualFold(dialect, "postgresql") || strings.EqualFold(dialect, "postgres") {
		return "ILIKE"
	}
	return "LIKE (already case-insensitive for ASCII) or lower(column) LIKE lower('%term%')"
}

func logConfiguration(l *zap.Logger, cfg ControllerConfig, tools ToolRegistry) {
	tk := GetTokenizerForModel(cfg.Model)
	toolTokens := 0
	categories := map[string]bool{}
	for _, name := range tools.Names() {
		t := tools[name]
		n, _ := tk.CountTokens(t.Name+t.Description+t.SchemaJSON, cfg.Model)
		toolTokens += n + 10
		categories[t.GetCategory()] = true
	}
	cats := make([]string, 0, len(categories))
	for c := range categories {
		cats = append(cats, c)
	}
	l.Info("controller ready",
		zap.String("model", cfg.Model),
		zap.Int("retry_cap", cfg.RetryCap),
		zap.Int("max_act_turns", cfg.MaxActTurns),
		zap.Duration("stage_timeout", cfg.StageTimeout),
		zap.Strings("tools", tools.Names()),
		zap.Strings("categories", cats),
		zap.Int("tool_tokens", toolTokens))
}
