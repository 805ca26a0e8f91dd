package handoff

import "context"

// StaticProvider serves every request from the fallback bank. It backs
// development runs with no model API key configured; sessions stay fully
// functional on canned content and heuristic grading.
type StaticProvider struct {
	bank *Bank
}

// NewStaticProvider creates a bank-backed provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{bank: NewBank()}
}

// Generate implements Provider.
func (p *StaticProvider) Generate(_ context.Context, req Request) (*Response, error) {
	return p.bank.Generate(req), nil
}

// Grade implements Provider.
func (p *StaticProvider) Grade(_ context.Context, req Request) (*Response, error) {
	return p.bank.Grade(req), nil
}
