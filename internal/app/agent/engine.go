package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/backstage-ai/backstage-agent/internal/app/cache"
	"github.com/backstage-ai/backstage-agent/internal/app/contextwindow"
	"github.com/backstage-ai/backstage-agent/internal/app/tools"
	"github.com/backstage-ai/backstage-agent/internal/app/usage"
	"github.com/backstage-ai/backstage-agent/internal/domain"
	"github.com/backstage-ai/backstage-agent/internal/observability"
)

// MaxToolIterations caps provider round-trips within one turn. When
// the cap is hit the turn ends with whatever text accumulated, not
// with an error.
const MaxToolIterations = 5

// TurnContext is the conversational state one Execute call runs in.
type TurnContext struct {
	SessionID domain.SessionID
	UserID    domain.UserID
	History   []*domain.Message
}

// Engine runs one turn of an agent: truncate history to budget, call
// the provider, dispatch tool calls, repeat until a final answer.
type Engine struct {
	llm     domain.ModelClient
	cache   *cache.Cache
	tracker *usage.Tracker

	defaultModel string
	tokenBudget  int
}

func NewEngine(llm domain.ModelClient, c *cache.Cache, tracker *usage.Tracker, defaultModel string, tokenBudget int) *Engine {
	return &Engine{
		llm:          llm,
		cache:        c,
		tracker:      tracker,
		defaultModel: defaultModel,
		tokenBudget:  tokenBudget,
	}
}

// Execute runs one turn and returns the agent's final text. Quota is
// checked before every provider call; a cache hit needs neither quota
// nor provider. Returns *domain.QuotaExceededError when the user is
// over their daily limit, or a classified provider error.
func (e *Engine) Execute(ctx context.Context, cfg *Config, input string, turn TurnContext) (string, error) {
	return e.run(ctx, cfg, input, turn, nil)
}

// ExecuteStream is Execute with incremental text delivery: chunks of
// model output reach onChunk as they arrive. Cached responses are
// delivered through onChunk in one piece.
func (e *Engine) ExecuteStream(ctx context.Context, cfg *Config, input string, turn TurnContext, onChunk func(text string)) (string, error) {
	return e.run(ctx, cfg, input, turn, onChunk)
}

func (e *Engine) run(ctx context.Context, cfg *Config, input string, turn TurnContext, onChunk func(text string)) (string, error) {
	log := observability.LoggerFromContext(ctx).With(
		"agent", cfg.ID,
		"session_id", turn.SessionID,
		"user_id", turn.UserID,
	)

	model := cfg.Model
	if model == "" {
		model = e.defaultModel
	}

	history := contextwindow.Truncate(turn.History, e.tokenBudget, cfg.SystemPrompt)
	contents := make([]domain.Content, 0, len(history)+1)
	for _, m := range history {
		contents = append(contents, domain.Content{Role: m.Role, Text: m.Text})
	}
	contents = append(contents, domain.Content{Role: domain.RoleUser, Text: input})

	start := time.Now()
	log.Info("turn start", "history_len", len(history))

	var (
		pieces  []string
		prevSig string
	)

	for iter := 0; iter < MaxToolIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		req := domain.GenerateRequest{
			Model:    model,
			System:   cfg.SystemPrompt,
			Contents: contents,
			Tools:    cfg.Tools,
		}

		key := cache.Fingerprint(req)
		resp := e.cache.Get(key)
		if resp != nil {
			log.Debug("response cache hit", "iteration", iter)
			if onChunk != nil && resp.Text != "" {
				onChunk(resp.Text)
			}
		} else {
			if err := e.tracker.CheckQuota(ctx, turn.UserID); err != nil {
				return "", err
			}

			var err error
			if onChunk != nil {
				resp, err = e.llm.GenerateStream(ctx, req, onChunk)
			} else {
				resp, err = e.llm.GenerateContent(ctx, req)
			}
			if err != nil {
				classified := domain.ClassifyProviderError(err)
				log.Error("provider call failed",
					"iteration", iter,
					"error", err,
				)
				return "", classified
			}

			e.tracker.TrackUsage(ctx, turn.UserID, model, resp.InputTokens, resp.OutputTokens)
			e.cache.Set(key, resp)
		}

		if resp.Text != "" {
			pieces = append(pieces, resp.Text)
		}
		if len(resp.Calls) == 0 {
			log.Info("turn end",
				"iterations", iter+1,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return strings.Join(pieces, "\n\n"), nil
		}

		sig := callSignature(resp.Calls)
		if sig == prevSig {
			log.Warn("repeated identical tool call, stopping turn", "iteration", iter)
			break
		}
		prevSig = sig

		contents = append(contents,
			domain.Content{Role: domain.RoleModel, Text: describeCalls(resp.Text, resp.Calls)},
			domain.Content{Role: domain.RoleUser, Text: e.dispatch(ctx, log, cfg, resp.Calls)},
		)
	}

	log.Warn("tool iteration cap reached",
		"cap", MaxToolIterations,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return strings.Join(pieces, "\n\n"), nil
}

// dispatch runs every requested tool call and renders the composite
// results message fed back to the model. A tool the agent does not
// have, and a tool that fails, both become failed results; neither
// ends the turn.
func (e *Engine) dispatch(ctx context.Context, log *slog.Logger, cfg *Config, calls []domain.FunctionCall) string {
	type callResult struct {
		Tool   string       `json:"tool"`
		Result tools.Result `json:"result"`
	}

	results := make([]callResult, 0, len(calls))
	for _, call := range calls {
		fn, ok := cfg.Funcs[call.Name]
		if !ok {
			log.Warn("unknown tool requested", "tool", call.Name)
			results = append(results, callResult{Tool: call.Name, Result: tools.Unknown(call.Name)})
			continue
		}

		res, err := fn(ctx, call.Args)
		if err != nil {
			log.Error("tool failed", "tool", call.Name, "error", err)
			res = tools.Fail("tool %s failed: %v", call.Name, err)
		}
		results = append(results, callResult{Tool: call.Name, Result: res})
	}

	raw, err := json.Marshal(results)
	if err != nil {
		return fmt.Sprintf("tool results could not be encoded: %v", err)
	}
	return "Tool results: " + string(raw)
}

// callSignature canonicalizes a call batch so two consecutive
// identical batches can be detected. json.Marshal sorts map keys, so
// equal args always produce equal signatures.
func callSignature(calls []domain.FunctionCall) string {
	var b strings.Builder
	for _, c := range calls {
		raw, _ := json.Marshal(c.Args)
		b.WriteString(c.Name)
		b.WriteByte('(')
		b.Write(raw)
		b.WriteByte(')')
	}
	return b.String()
}

func describeCalls(text string, calls []domain.FunctionCall) string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	desc := "Calling tools: " + strings.Join(names, ", ")
	if text != "" {
		return text + "\n" + desc
	}
	return desc
}
