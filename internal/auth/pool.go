package auth

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// HashPool bounds the number of concurrent hash and verify calls so that a
// burst of logins cannot saturate every CPU.
type HashPool struct {
	hasher PasswordHasher
	sem    *semaphore.Weighted
}

// NewHashPool wraps hasher with a limit of workers concurrent operations.
// A non-positive workers value selects runtime.NumCPU().
func NewHashPool(hasher PasswordHasher, workers int) *HashPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &HashPool{
		hasher: hasher,
		sem:    semaphore.NewWeighted(int64(workers)),
	}
}

// Hash waits for a free slot, or for ctx to be done, then hashes password.
func (p *HashPool) Hash(ctx context.Context, password string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.sem.Release(1)

	return p.hasher.Hash(password)
}

// Verify waits for a free slot, or for ctx to be done, then verifies password.
func (p *HashPool) Verify(ctx context.Context, password, hash string) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer p.sem.Release(1)

	return p.hasher.Verify(password, hash)
}
