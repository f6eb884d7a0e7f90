package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/catalog-mcp/internal/kv"
	"github.com/dshills/catalog-mcp/pkg/types"
)

// SessionContext is the per-session state kept between intents
type SessionContext struct {
	LastIntent  string    `json:"last_intent,omitempty"`
	LastResults []string  `json:"last_results,omitempty"` // product headcodes, best first
	Suggestions []string  `json:"suggested_prompts,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

// Session returns the stored context for sessionID. A missing or expired
// session yields an empty context.
func (e *Engine) Session(ctx context.Context, sessionID string) (SessionContext, error) {
	if strings.TrimSpace(sessionID) == "" {
		return SessionContext{}, types.ErrMissingSession
	}
	sc, err := kv.GetJSON[SessionContext](ctx, e.sessions, sessionKey(sessionID))
	if errors.Is(err, kv.ErrMiss) {
		return SessionContext{}, nil
	}
	if err != nil {
		return SessionContext{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return sc, nil
}

// Suggestions returns the follow-up prompts produced by the session's last
// intent
func (e *Engine) Suggestions(ctx context.Context, sessionID string) ([]string, error) {
	sc, err := e.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sc.Suggestions, nil
}

// ClearSession forgets the stored context
func (e *Engine) ClearSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return types.ErrMissingSession
	}
	return e.sessions.Delete(ctx, sessionKey(sessionID))
}

// remember stores the response's suggestions and, for product results,
// the headcodes used to resolve later cost and material questions.
// Failures are logged only.
func (e *Engine) remember(ctx context.Context, sessionID string, resp *Response) {
	if sessionID == "" {
		return
	}
	sc, err := e.Session(ctx, sessionID)
	if err != nil {
		e.log.Warn().Err(err).Str("session_id", sessionID).Msg("session context unreadable, starting fresh")
		sc = SessionContext{}
	}

	sc.LastIntent = resp.Intent
	sc.Suggestions = resp.Suggestions
	sc.UpdatedAt = time.Now().UTC()
	if resp.Kind == types.KindProduct && len(resp.Items) > 0 {
		sc.LastResults = make([]string, len(resp.Items))
		for i, it := range resp.Items {
			sc.LastResults[i] = it.EntityCode
		}
	}

	if err := kv.SetJSON(ctx, e.sessions, sessionKey(sessionID), sc, e.cfg.SessionTTL); err != nil {
		e.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to store session context")
	}
}

// resolveHeadcode prefers the explicit code and falls back to the best
// product of the session's last search
func (e *Engine) resolveHeadcode(ctx context.Context, code, sessionID string) string {
	if code = strings.TrimSpace(code); code != "" || sessionID == "" {
		return code
	}
	sc, err := e.Session(ctx, sessionID)
	if err != nil || len(sc.LastResults) == 0 {
		return ""
	}
	return sc.LastResults[0]
}
