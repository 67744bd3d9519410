package socrata

import (
	"context"
	"os"
	"strings"

	"github.com/lox/crimedash/internal/datasets"
)

// TokenSource supplies the app token for a dataset, or "" for none
type TokenSource interface {
	Token(ds datasets.Dataset) string
}

// StaticTokens maps dataset ids to tokens with an optional default
type StaticTokens struct {
	Default    string
	PerDataset map[string]string
}

func (s StaticTokens) Token(ds datasets.Dataset) string {
	if t := strings.TrimSpace(s.PerDataset[ds.ID]); t != "" {
		return t
	}
	return strings.TrimSpace(s.Default)
}

// EnvTokens reads CRIMEDASH_TOKEN_<ID> for each dataset, falling back to
// Default
type EnvTokens struct {
	Default string
	Lookup  func(string) string
}

func (e EnvTokens) Token(ds datasets.Dataset) string {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.Getenv
	}
	if t := strings.TrimSpace(lookup(ds.TokenEnvKey())); t != "" {
		return t
	}
	return strings.TrimSpace(e.Default)
}

type ctxKey int

const (
	tokenKey ctxKey = iota
	loadIDKey
)

// WithToken overrides the app token for queries made with ctx
func WithToken(ctx context.Context, token string) context.Context {
	token = strings.TrimSpace(token)
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext returns the override token, if any
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

// WithLoadID tags queries made with ctx as part of one load
func WithLoadID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, loadIDKey, id)
}

// LoadIDFromContext returns the load id, if any
func LoadIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(loadIDKey).(string)
	return id
}
