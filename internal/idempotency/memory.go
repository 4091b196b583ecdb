package idempotency

import (
	"context"
	"sync"
)

// Compile-time check that MemGuard implements Guard.
var _ Guard = (*MemGuard)(nil)

type claim struct {
	jobID     string
	processed bool
	resultKey string
}

// MemGuard is an in-memory Guard used in tests and local runs.
type MemGuard struct {
	mu     sync.Mutex
	claims map[string]*claim
}

// NewMemGuard creates an empty MemGuard.
func NewMemGuard() *MemGuard {
	return &MemGuard{claims: make(map[string]*claim)}
}

// Claim records the key as in-flight; duplicates return ErrAlreadyClaimed.
func (g *MemGuard) Claim(_ context.Context, key, jobID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.claims[key]; ok {
		return ErrAlreadyClaimed
	}
	g.claims[key] = &claim{jobID: jobID}
	return nil
}

// MarkProcessed flips the processed flag and records the result key,
// creating the record if needed.
func (g *MemGuard) MarkProcessed(_ context.Context, key, resultKey string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.claims[key]
	if !ok {
		c = &claim{}
		g.claims[key] = c
	}
	c.processed = true
	c.resultKey = resultKey
	return nil
}

// IsProcessed reports whether the key completed the pipeline.
func (g *MemGuard) IsProcessed(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.claims[key]
	return ok && c.processed, nil
}

// Release removes a claim.
func (g *MemGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, key)
	return nil
}

// HolderOf returns the job ID holding a claim; test helper.
func (g *MemGuard) HolderOf(key string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.claims[key]; ok {
		return c.jobID
	}
	return ""
}

// ResultKeyOf returns the result key recorded at mark-processed; test helper.
func (g *MemGuard) ResultKeyOf(key string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.claims[key]; ok {
		return c.resultKey
	}
	return ""
}
