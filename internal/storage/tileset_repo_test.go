package storage

import (
	"context"
	"testing"

	"github.com/annel0/tile-engine/internal/tile"
	"github.com/annel0/tile-engine/internal/vec"
)

func sampleRecords(t *testing.T) []tile.Record {
	t.Helper()
	var records []tile.Record
	for i := 0; i < 5; i++ {
		rec := tile.Record{
			Key:         tile.MustEncodeKey(vec.Vec3Float{X: float64(i)}, tile.OrientFloor),
			Shape:       tile.ShapeFlat,
			TextureMode: tile.TextureAtlas,
			TerrainID:   uint8(i),
			Offset:      vec.Vec3Float{X: 0.25},
			Tint:        [4]uint8{uint8(i * 10), 0, 0, 255},
		}
		records = append(records, rec)
	}
	return records
}

func TestMemoryRepoRoundTrip(t *testing.T) {
	repo := NewMemoryTileSetRepo()
	ctx := context.Background()
	records := sampleRecords(t)

	if err := repo.SaveTileSet(ctx, "test", records); err != nil {
		t.Fatalf("SaveTileSet: %v", err)
	}

	loaded, err := repo.LoadTileSet(ctx, "test")
	if err != nil {
		t.Fatalf("LoadTileSet: %v", err)
	}
	if len(loaded) != len(records) {
		t.Fatalf("загружено %d записей, ожидалось %d", len(loaded), len(records))
	}
	for i := range records {
		if loaded[i] != records[i] {
			t.Errorf("запись %d изменилась при круговом пути", i)
		}
	}

	// Репозиторий хранит копию, а не срез вызывающего
	records[0].TerrainID = 200
	loaded, _ = repo.LoadTileSet(ctx, "test")
	if loaded[0].TerrainID == 200 {
		t.Error("репозиторий разделяет память с вызывающим")
	}
}

func TestMemoryRepoMissingSet(t *testing.T) {
	repo := NewMemoryTileSetRepo()
	loaded, err := repo.LoadTileSet(context.Background(), "absent")
	if err != nil {
		t.Fatalf("LoadTileSet несуществующего набора: %v", err)
	}
	if loaded != nil {
		t.Errorf("несуществующий набор должен давать nil, получено %d записей", len(loaded))
	}
}

func TestMemoryRepoListAndDelete(t *testing.T) {
	repo := NewMemoryTileSetRepo()
	ctx := context.Background()
	records := sampleRecords(t)

	_ = repo.SaveTileSet(ctx, "b", records)
	_ = repo.SaveTileSet(ctx, "a", records)

	names, err := repo.ListTileSets(ctx)
	if err != nil {
		t.Fatalf("ListTileSets: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("ListTileSets вернул %v, ожидалось [a b]", names)
	}

	if err := repo.DeleteTileSet(ctx, "a"); err != nil {
		t.Fatalf("DeleteTileSet: %v", err)
	}
	names, _ = repo.ListTileSets(ctx)
	if len(names) != 1 || names[0] != "b" {
		t.Errorf("после удаления осталось %v, ожидалось [b]", names)
	}
}

func TestRecordDeltaRoundTrip(t *testing.T) {
	for _, rec := range sampleRecords(t) {
		if got := fromDelta(toDelta(rec)); got != rec {
			t.Errorf("запись %s изменилась при преобразовании в дельту", rec.Key)
		}
	}
}

func TestMemoryRepoContextCancelled(t *testing.T) {
	repo := NewMemoryTileSetRepo()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := repo.SaveTileSet(ctx, "x", nil); err == nil {
		t.Error("сохранение с отменённым контекстом должно отклоняться")
	}
	if _, err := repo.LoadTileSet(ctx, "x"); err == nil {
		t.Error("загрузка с отменённым контекстом должна отклоняться")
	}
}
