package engine

import "context"

// Status renders the cached dashboard, per spec.md §4.8/§6.
func (e *Engine) Status(ctx context.Context, projectHash string) (string, error) {
	if err := e.requireOpen(); err != nil {
		return "", err
	}
	body, err := e.statusCache.Render(ctx, projectHash)
	if err != nil {
		return "", err
	}
	return e.withPiggyback(ctx, projectHash, body)
}
