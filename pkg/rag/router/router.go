package router

import (
	"context"
	"time"

	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/pkg/llm"
	"deepsearch-be/pkg/rag/prompt"
	"deepsearch-be/pkg/vectorstore"
)

const module = "CollectionRouter"

// Selection is the set of collections chosen for a question.
type Selection struct {
	Collections []string
	Tokens      int
	ParseFailed bool
}

// Router lets the model pick which collections are worth searching.
// Collections without a description and the default collection are always kept.
type Router struct {
	llm      llm.Provider
	composer *prompt.Composer
	timeout  time.Duration
	logger   logger.ILogger
}

func NewRouter(provider llm.Provider, composer *prompt.Composer, timeout time.Duration, logger logger.ILogger) *Router {
	return &Router{llm: provider, composer: composer, timeout: timeout, logger: logger}
}

func (r *Router) Route(ctx context.Context, question string, infos []vectorstore.CollectionInfo) Selection {
	all := names(infos)
	if len(infos) <= 1 {
		return Selection{Collections: all}
	}

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp, err := r.llm.Generate(callCtx, r.composer.Route(question, infos), llm.WithTemperature(0))
	if err != nil {
		r.logger.Warn(module, "Routing call failed, searching every collection", map[string]interface{}{
			"error": err.Error(),
		})
		return Selection{Collections: all}
	}

	parsed := prompt.ParseStringList(resp.Content)
	if !parsed.OK() {
		r.logger.Warn(module, "Routing output unparseable, searching every collection", map[string]interface{}{
			"error": parsed.Err.Error(),
		})
		return Selection{Collections: all, Tokens: resp.TotalTokens, ParseFailed: true}
	}

	picked := make(map[string]bool, len(parsed.Value))
	for _, name := range parsed.Value {
		picked[name] = true
	}

	var selected []string
	for _, info := range infos {
		if picked[info.Name] || info.Description == "" || info.Default {
			selected = append(selected, info.Name)
		}
	}
	if len(selected) == 0 {
		selected = all
	}

	r.logger.Info(module, "Collections selected", map[string]interface{}{
		"question":    question,
		"collections": selected,
		"tokens":      resp.TotalTokens,
	})
	return Selection{Collections: selected, Tokens: resp.TotalTokens}
}

func names(infos []vectorstore.CollectionInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}
