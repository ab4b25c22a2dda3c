package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/annel0/tile-engine/internal/tile"
)

// MemoryTileSetRepo — репозиторий наборов тайлов в памяти для тестов
// и инструментов без персистентности
type MemoryTileSetRepo struct {
	mutex sync.RWMutex
	sets  map[string][]tile.Record
}

// NewMemoryTileSetRepo создаёт пустой репозиторий в памяти
func NewMemoryTileSetRepo() *MemoryTileSetRepo {
	return &MemoryTileSetRepo{
		sets: make(map[string][]tile.Record),
	}
}

// SaveTileSet сохраняет копию списка записей под именем name
func (r *MemoryTileSetRepo) SaveTileSet(ctx context.Context, name string, records []tile.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.sets[name] = append([]tile.Record(nil), records...)
	return nil
}

// LoadTileSet возвращает копию сохранённого набора; несуществующий
// набор — пустой список, не ошибка
func (r *MemoryTileSetRepo) LoadTileSet(ctx context.Context, name string) ([]tile.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	records, exists := r.sets[name]
	if !exists {
		return nil, nil
	}
	return append([]tile.Record(nil), records...), nil
}

// ListTileSets возвращает отсортированные имена наборов
func (r *MemoryTileSetRepo) ListTileSets(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.sets))
	for name := range r.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteTileSet удаляет набор; несуществующий набор — no-op
func (r *MemoryTileSetRepo) DeleteTileSet(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.sets, name)
	return nil
}
