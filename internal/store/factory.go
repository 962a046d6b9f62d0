package store

import (
	"hyperion-taskctl/internal/models"
)

// Environment selects which concrete repository family the Factory hands
// back (spec.md §4.8).
type Environment string

const (
	EnvTest       Environment = "test"
	EnvStaging    Environment = "staging"
	EnvProduction Environment = "production"
)

// Backend bundles the repository contracts a Factory hands back. A single
// process only ever serves one backend.
type Backend struct {
	Tasks    TaskRepository
	Subtasks SubtaskRepository
	Projects ProjectRepository
	Branches GitBranchRepository
	Contexts func(level models.ContextLevel) ContextRepository
	Tokens   ApiTokenRepository
}

// CacheDecorator wraps a read-heavy repository with a caching layer. Only
// TaskRepository.Get and ContextRepository.Get are decorated in practice —
// spec.md §4.8 calls this out as optional ("cache_enabled wraps the repo in
// a caching decorator"), so the Factory only applies it when asked.
type CacheDecorator interface {
	WrapTasks(TaskRepository) TaskRepository
	WrapContexts(ContextRepository) ContextRepository
}

// Factory is the Repository Factory (spec.md §4.8): a central switch keyed
// by environment and cache_enabled that returns the test Backend or the
// real one. database_type is not consulted here: the real Backend is the
// one concrete driver the caller built. Concrete backend construction
// (mongostore.Database wiring, memstore.Store wiring) lives with its
// caller — Factory itself only holds the already-built backends and
// decides which to serve.
type Factory struct {
	environment Environment
	test        Backend
	real        Backend
	cache       CacheDecorator
	cacheOn     bool
}

func NewFactory(environment Environment, test, real Backend) *Factory {
	return &Factory{environment: environment, test: test, real: real}
}

// WithCache enables the caching decorator for the real (non-test) backend.
func (f *Factory) WithCache(d CacheDecorator) *Factory {
	f.cache = d
	f.cacheOn = true
	return f
}

// Backend returns the repository set this environment resolves to,
// decorated with caching when enabled. The test environment never gets
// cache-wrapped: its repositories are already deterministic in-memory
// implementations, and wrapping them would just reintroduce TTL-based
// flakiness into tests.
func (f *Factory) Backend() Backend {
	if f.environment == EnvTest {
		return f.test
	}

	b := f.real
	if f.cacheOn && f.cache != nil {
		b.Tasks = f.cache.WrapTasks(b.Tasks)
		levelCtor := b.Contexts
		b.Contexts = func(level models.ContextLevel) ContextRepository {
			return f.cache.WrapContexts(levelCtor(level))
		}
	}
	return b
}
