package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tile-engine/internal/config"
	"github.com/annel0/tile-engine/internal/placement"
	"github.com/annel0/tile-engine/internal/render"
	"github.com/annel0/tile-engine/internal/storage"
	"github.com/annel0/tile-engine/internal/tile"
	"github.com/annel0/tile-engine/internal/undo"
	"github.com/annel0/tile-engine/internal/vec"
)

func newEngine(t *testing.T, log undo.CommandLog) (*placement.Engine, *render.RecordingRenderer) {
	t.Helper()
	renderer := render.NewRecordingRenderer()
	cfg := config.Default().Engine
	cfg.ChunkCapacity = 16
	engine, err := placement.NewEngine(renderer, render.StaticGeometry{}, log, cfg)
	require.NoError(t, err)
	return engine, renderer
}

// Полный жизненный цикл: массовое заполнение, одиночные правки,
// стирание области, полный откат и накат, сохранение и перестроение.
func TestEngineFullLifecycle(t *testing.T) {
	undoLog := undo.NewMemoryLog()
	engine, renderer := newEngine(t, undoLog)

	floor := tile.Record{Shape: tile.ShapeFlat, TextureMode: tile.TextureAtlas, TerrainID: 1}
	placed, err := engine.FillArea(
		vec.Vec3Float{X: 0, Y: 0, Z: 0},
		vec.Vec3Float{X: 9, Y: 0, Z: 9},
		tile.OrientFloor, floor, 1.0,
	)
	require.NoError(t, err)
	require.Equal(t, 100, placed)
	assert.Equal(t, 1, undoLog.Len(), "массовая операция — одна команда")
	assert.Greater(t, renderer.TotalCommits(), 0, "заполнение должно синхронизировать батчи")

	// Одиночные правки поверх решётки
	key, err := engine.Place(vec.Vec3Float{X: 5, Y: 0, Z: 5}, tile.OrientFloor,
		tile.Record{Shape: tile.ShapeFlat, TextureMode: tile.TextureAtlas, TerrainID: 9})
	require.NoError(t, err)
	require.NoError(t, engine.Patch(key, func(r *tile.Record) { r.Tint = [4]uint8{255, 0, 0, 255} }))
	assert.Equal(t, 100, engine.Count(), "замена на месте не меняет население")

	erased, err := engine.EraseArea(
		vec.Vec3Float{X: 0, Y: -1, Z: 0},
		vec.Vec3Float{X: 4, Y: 1, Z: 4},
	)
	require.NoError(t, err)
	assert.Equal(t, 25, erased)
	assert.Equal(t, 75, engine.Count())

	// Полный откат возвращает пустое хранилище
	for undoLog.Undo() {
	}
	assert.Equal(t, 0, engine.Count(), "полный откат должен опустошить хранилище")

	// Полный накат воспроизводит конечное состояние
	for undoLog.Redo() {
	}
	assert.Equal(t, 75, engine.Count())
	rec, ok := engine.Record(key)
	require.True(t, ok)
	assert.Equal(t, uint8(9), rec.TerrainID)
	assert.Equal(t, [4]uint8{255, 0, 0, 255}, rec.Tint)

	report := engine.Validate()
	assert.True(t, report.OK(), "после наката проверка целостности: %v", report.Errors)

	// Сохранение и перестроение в свежем движке
	repo := storage.NewMemoryTileSetRepo()
	ctx := context.Background()
	require.NoError(t, engine.SaveTo(ctx, repo, "lifecycle"))

	restored, _ := newEngine(t, nil)
	require.NoError(t, restored.LoadFrom(ctx, repo, "lifecycle"))
	assert.Equal(t, engine.Count(), restored.Count())
	assert.Equal(t, engine.Records(), restored.Records(), "перестроенный снимок должен совпасть байт в байт")
	assert.True(t, restored.Validate().OK())
}

// Конфликтные правила на общей позиции: пара плоских панелей
// сосуществует, не-плоская форма вытесняет, undo восстанавливает.
func TestEngineConflictRules(t *testing.T) {
	undoLog := undo.NewMemoryLog()
	engine, _ := newEngine(t, undoLog)
	pos := vec.Vec3Float{X: 2, Y: 0, Z: 3}

	floorKey, err := engine.Place(pos, tile.OrientFloor,
		tile.Record{Shape: tile.ShapeFlat, TextureMode: tile.TextureAtlas, TerrainID: 1})
	require.NoError(t, err)

	ceilKey, err := engine.Place(pos, tile.OrientCeiling,
		tile.Record{Shape: tile.ShapeFlat, TextureMode: tile.TextureAtlas, TerrainID: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, engine.Count(), "пол и потолок сосуществуют")

	// Рампа на потолке вытесняет обе стороны конфликтного слота? Нет:
	// только ориентации своей оси; пол конфликтует, потолок заменяется
	// на месте тем же ключом.
	rampKey, err := engine.Place(pos, tile.OrientCeiling,
		tile.Record{Shape: tile.ShapeRamp, TextureMode: tile.TextureAtlas, TerrainID: 3})
	require.NoError(t, err)
	assert.Equal(t, ceilKey, rampKey, "тот же ключ — замена на месте")

	rec, ok := engine.Record(rampKey)
	require.True(t, ok)
	assert.Equal(t, tile.ShapeRamp, rec.Shape)
	_, floorAlive := engine.Record(floorKey)
	assert.True(t, floorAlive, "замена на месте не трогает соседнюю ориентацию")

	// Теперь рампа на полу: плоской пары больше нет, пол вытесняется
	_, err = engine.Place(pos, tile.OrientFloor,
		tile.Record{Shape: tile.ShapeRamp, TextureMode: tile.TextureAtlas, TerrainID: 4})
	require.NoError(t, err)

	for undoLog.Undo() {
	}
	assert.Equal(t, 0, engine.Count())
	for undoLog.Redo() {
	}
	assert.True(t, engine.Validate().OK())
}

// Батч-скоуп: вложенные мутации дают ровно один Commit на затронутый
// чанк при закрытии внешнего скоупа.
func TestEngineBatchCommitOnce(t *testing.T) {
	engine, renderer := newEngine(t, nil)

	engine.BeginBatch()
	for i := 0; i < 10; i++ {
		_, err := engine.Place(vec.Vec3Float{X: float64(i), Y: 0, Z: 0}, tile.OrientFloor,
			tile.Record{Shape: tile.ShapeFlat, TextureMode: tile.TextureAtlas, TerrainID: 1})
		require.NoError(t, err)
	}
	commitsInside := renderer.TotalCommits()
	require.NoError(t, engine.EndBatch())

	// 10 тайлов одного семейства в одной области при ёмкости 16 — один чанк
	assert.Equal(t, renderer.TotalCommits()-commitsInside, 1,
		"закрытие скоупа должно дать один Commit на затронутый чанк")
	assert.True(t, engine.Validate().OK())
}
