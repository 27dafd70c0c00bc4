package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/siavashhub/lemonade/internal/domain"
	"golang.org/x/sync/singleflight"
)

// BackendFactory constructs the concrete WrappedServer for a model's recipe.
// ModelManager never branches on recipe itself; that dispatch lives here.
type BackendFactory func(model domain.Model, onWaiting readyLogger) (domain.WrappedServer, error)

// BinaryPaths resolves each recipe to its subprocess executable.
type BinaryPaths struct {
	LlamaServer   string
	WhisperServer string
	OGAServer     string
	RyzenAIServer string
	FLMServer     string
}

// NewBackendFactory builds the default factory dispatching on recipe.
func NewBackendFactory(paths BinaryPaths, approxTokens bool) BackendFactory {
	return func(model domain.Model, onWaiting readyLogger) (domain.WrappedServer, error) {
		switch model.Recipe {
		case domain.RecipeLlamaCpp:
			return NewLlamaBackend(paths.LlamaServer, model, onWaiting, approxTokens), nil
		case domain.RecipeWhisperCpp:
			return NewAudioBackend(paths.WhisperServer, model, onWaiting, approxTokens), nil
		case domain.RecipeOGANPU, domain.RecipeOGAHybrid, domain.RecipeOGACPU:
			return NewAcceleratorBackend(paths.OGAServer, model, onWaiting, approxTokens), nil
		case domain.RecipeRyzenAI:
			return NewAcceleratorBackend(paths.RyzenAIServer, model, onWaiting, approxTokens), nil
		case domain.RecipeFLM:
			return NewAcceleratorBackend(paths.FLMServer, model, onWaiting, approxTokens), nil
		default:
			return nil, fmt.Errorf("no backend wrapper registered for recipe %q", model.Recipe)
		}
	}
}

// slot occupies one unit of a class's capacity. server is nil while the
// slot is reserved but its backend is still spawning: the reservation holds
// the capacity accounting without holding the class lock across the spawn.
type slot struct {
	modelID      string
	recipe       domain.Recipe
	server       domain.WrappedServer
	loadTime     time.Time
	lastUsedTime time.Time
}

func (s *slot) pending() bool { return s.server == nil }

// classPool is a single model class's bounded set of slots. Its lock
// guards only map lookups, reservations, and finalization — never the
// blocking Stop/Start calls a spawn makes, so distinct model_ids in the
// same class can reserve their own slot and spawn in parallel.
type classPool struct {
	mu       sync.Mutex
	capacity int
	slots    map[string]*slot
}

// ModelManager owns the bounded per-class pools of loaded backends and
// coalesces concurrent loads of the same model.
type ModelManager struct {
	store   domain.ModelStore
	factory BackendFactory
	classes map[domain.ModelClass]*classPool
	sf      singleflight.Group
}

// NewModelManager builds a manager with one pool per class in capacities.
// Every capacity must be at least 1.
func NewModelManager(store domain.ModelStore, capacities map[domain.ModelClass]int, factory BackendFactory) (*ModelManager, error) {
	classes := make(map[domain.ModelClass]*classPool, len(capacities))
	for class, capacity := range capacities {
		if capacity < 1 {
			return nil, fmt.Errorf("%w: class %s capacity %d", domain.ErrInvalidClass, class, capacity)
		}
		classes[class] = &classPool{capacity: capacity, slots: make(map[string]*slot)}
	}
	return &ModelManager{store: store, factory: factory, classes: classes}, nil
}

// EnsureLoaded returns the WrappedServer for modelID, loading it if
// necessary. Concurrent calls for the same modelID coalesce onto one spawn
// via single-flight; distinct model_ids proceed independently, each
// reserving its own slot before doing the actual (potentially
// minutes-long) spawn work.
func (m *ModelManager) EnsureLoaded(ctx context.Context, modelID string) (domain.WrappedServer, error) {
	v, err, _ := m.sf.Do(modelID, func() (any, error) {
		return m.ensureLoadedOnce(ctx, modelID)
	})
	if err != nil {
		return nil, err
	}
	return v.(domain.WrappedServer), nil
}

// ensureLoadedOnce reserves a slot under the class lock, releases the lock
// for the eviction Stop and the spawn Start, then reacquires the lock to
// finalize the slot or roll the reservation back on failure. The class
// lock is never held across either blocking call.
func (m *ModelManager) ensureLoadedOnce(ctx context.Context, modelID string) (domain.WrappedServer, error) {
	model, err := m.store.Get(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownModel, modelID)
	}

	pool, ok := m.classes[model.Class]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidClass, model.Class)
	}

	var victim domain.WrappedServer

	pool.mu.Lock()
	if s, exists := pool.slots[modelID]; exists && !s.pending() {
		s.lastUsedTime = time.Now()
		srv := s.server
		pool.mu.Unlock()
		return srv, nil
	}

	if len(pool.slots) >= pool.capacity {
		victimID, victimSlot := pickLRU(pool.slots)
		if victimSlot == nil {
			pool.mu.Unlock()
			return nil, domain.ErrPoolExhausted
		}
		delete(pool.slots, victimID)
		victim = victimSlot.server
	}
	pool.slots[modelID] = &slot{modelID: modelID, recipe: model.Recipe}
	pool.mu.Unlock()

	if victim != nil {
		_ = victim.Stop(ctx)
	}

	srv, startErr := m.spawn(ctx, model)

	pool.mu.Lock()
	defer pool.mu.Unlock()

	if startErr != nil {
		delete(pool.slots, modelID)
		return nil, startErr
	}

	now := time.Now()
	pool.slots[modelID] = &slot{
		modelID:      modelID,
		recipe:       model.Recipe,
		server:       srv,
		loadTime:     now,
		lastUsedTime: now,
	}
	return srv, nil
}

func (m *ModelManager) spawn(ctx context.Context, model domain.Model) (domain.WrappedServer, error) {
	srv, err := m.factory(model, readyWaitLogger(model))
	if err != nil {
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}

func readyWaitLogger(model domain.Model) readyLogger {
	return func(waited time.Duration) {
		slog.Info("still waiting for backend to become ready", "model", model.ID, "recipe", model.Recipe, "waited", waited.Round(time.Second))
	}
}

// pickLRU returns the slot with the oldest lastUsedTime, breaking ties by
// the oldest loadTime. Pending slots are never eligible: there is no
// running server to Stop yet, and evicting one would race its own
// finalize step.
func pickLRU(slots map[string]*slot) (string, *slot) {
	var victimID string
	var victim *slot
	for id, s := range slots {
		if s.pending() {
			continue
		}
		if victim == nil {
			victimID, victim = id, s
			continue
		}
		if s.lastUsedTime.Before(victim.lastUsedTime) ||
			(s.lastUsedTime.Equal(victim.lastUsedTime) && s.loadTime.Before(victim.loadTime)) {
			victimID, victim = id, s
		}
	}
	return victimID, victim
}

// Unload stops and removes modelID's slot, wherever it lives. A slot still
// being spawned is left alone; its own finalize step owns its lifecycle.
func (m *ModelManager) Unload(ctx context.Context, modelID string) error {
	for _, pool := range m.classes {
		pool.mu.Lock()
		s, ok := pool.slots[modelID]
		if ok && !s.pending() {
			delete(pool.slots, modelID)
		}
		pool.mu.Unlock()
		if ok && s.server != nil {
			return s.server.Stop(ctx)
		}
	}
	return domain.ErrModelNotLoaded
}

// UnloadAll stops every fully-loaded slot across every class.
func (m *ModelManager) UnloadAll(ctx context.Context) {
	for _, pool := range m.classes {
		pool.mu.Lock()
		slots := pool.slots
		pool.slots = make(map[string]*slot)
		pool.mu.Unlock()

		for _, s := range slots {
			if s.server != nil {
				_ = s.server.Stop(ctx)
			}
		}
	}
}

// ListLoaded returns the model_ids currently holding a fully-loaded slot.
func (m *ModelManager) ListLoaded() []string {
	var ids []string
	for _, pool := range m.classes {
		pool.mu.Lock()
		for id, s := range pool.slots {
			if !s.pending() {
				ids = append(ids, id)
			}
		}
		pool.mu.Unlock()
	}
	return ids
}

// ReapDead removes slots whose backend process is no longer running and
// returns the model_ids it removed.
func (m *ModelManager) ReapDead() []string {
	var reaped []string
	for _, pool := range m.classes {
		pool.mu.Lock()
		for id, s := range pool.slots {
			if s.pending() {
				continue
			}
			if !s.server.Ready() {
				delete(pool.slots, id)
				reaped = append(reaped, id)
			}
		}
		pool.mu.Unlock()
	}
	return reaped
}
