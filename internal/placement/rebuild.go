package placement

import (
	"context"
	"sort"

	"github.com/annel0/tile-engine/internal/logging"
	"github.com/annel0/tile-engine/internal/tile"
)

// TileSetRepo — минимальный контракт персистентности набора тайлов;
// реализации живут в internal/storage
type TileSetRepo interface {
	SaveTileSet(ctx context.Context, name string, records []tile.Record) error
	LoadTileSet(ctx context.Context, name string) ([]tile.Record, error)
}

// RebuildFrom полностью перестраивает движок из плоского списка записей:
// авторитетный снимок, всё остальное — производные структуры. Операция
// идемпотентна: повторный вызов с тем же списком даёт то же состояние.
// Невалидные записи пропускаются с предупреждением, не прерывая
// перестроение. Журнал команд не трогается.
func (e *Engine) RebuildFrom(records []tile.Record) error {
	e.Clear()

	e.chunks.BeginBatch()
	for i := range records {
		rec := records[i]
		if !rec.Key.Orientation().Valid() || !rec.Shape.Valid() || !rec.TextureMode.Valid() {
			logging.LogWarn("RebuildFrom: запись %d пропущена (ключ %s, форма %d, режим %d)",
				i, rec.Key, rec.Shape, rec.TextureMode)
			continue
		}
		if _, exists := e.records[rec.Key]; exists {
			logging.LogWarn("RebuildFrom: дубликат ключа %s, запись %d пропущена", rec.Key, i)
			continue
		}
		if err := e.placeInternal(rec); err != nil {
			logging.LogWarn("RebuildFrom: запись %d (%s) пропущена: %v", i, rec.Key, err)
		}
	}
	if err := e.chunks.EndBatch(); err != nil {
		logging.LogError("RebuildFrom: %v", err)
	}

	e.metrics.SetLiveTiles(len(e.records))
	logging.LogInfo("Хранилище тайлов перестроено: %d записей на входе, %d размещено",
		len(records), len(e.records))
	return nil
}

// Clear опустошает все структуры движка; журнал команд не трогается
func (e *Engine) Clear() {
	for key, rec := range e.records {
		delete(e.records, key)
		e.arena.release(rec)
	}
	e.index.Clear()
	e.chunks.Clear()
	e.metrics.SetLiveTiles(0)
}

// Records возвращает снимок всех записей, отсортированный по ключу:
// детерминированный порядок для сохранения и сравнения снимков
func (e *Engine) Records() []tile.Record {
	out := make([]tile.Record, 0, len(e.records))
	for _, rec := range e.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// SaveTo сохраняет снимок записей в репозиторий под именем name
func (e *Engine) SaveTo(ctx context.Context, repo TileSetRepo, name string) error {
	records := e.Records()
	if err := repo.SaveTileSet(ctx, name, records); err != nil {
		return err
	}
	logging.LogInfo("Набор тайлов «%s» сохранён: %d записей", name, len(records))
	return nil
}

// LoadFrom загружает набор из репозитория и перестраивает движок
func (e *Engine) LoadFrom(ctx context.Context, repo TileSetRepo, name string) error {
	records, err := repo.LoadTileSet(ctx, name)
	if err != nil {
		return err
	}
	return e.RebuildFrom(records)
}
