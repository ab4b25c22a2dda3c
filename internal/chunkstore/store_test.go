package chunkstore

import (
	"errors"
	"testing"

	"github.com/annel0/tile-engine/internal/render"
	"github.com/annel0/tile-engine/internal/tile"
	"github.com/annel0/tile-engine/internal/vec"
)

func testStore(capacity int) (*Store, *render.RecordingRenderer) {
	renderer := render.NewRecordingRenderer()
	store := NewStore(renderer, render.StaticGeometry{}, capacity, 64.0)
	return store, renderer
}

func instanceAt(x float64) render.Instance {
	return render.Instance{
		Position:    vec.Vec3Float{X: x},
		Orientation: tile.OrientFloor,
		Scale:       vec.Vec3Float{X: 1, Y: 1, Z: 1},
	}
}

func insertN(t *testing.T, store *Store, n int) []tile.TileKey {
	t.Helper()
	fam := FamilyKey{Shape: tile.ShapeFlat, Mode: tile.TextureAtlas}
	keys := make([]tile.TileKey, 0, n)
	for i := 0; i < n; i++ {
		inst := instanceAt(float64(i))
		key, _, err := store.InsertInstance(fam, RegionFor(inst.Position, 64.0), inst, tile.InvalidKey)
		if err != nil {
			t.Fatalf("Ошибка вставки %d: %v", i, err)
		}
		keys = append(keys, key)
	}
	return keys
}

func TestSwapRemoveInvariant(t *testing.T) {
	store, _ := testStore(16)
	keys := insertN(t, store, 5)

	fam := FamilyKey{Shape: tile.ShapeFlat, Mode: tile.TextureAtlas}
	chunk, ok := store.ChunkAt(fam, 0)
	if !ok {
		t.Fatal("Чанк семейства не создан")
	}
	if chunk.Count() != 5 {
		t.Fatalf("Ожидалось 5 живых экземпляров, получено %d", chunk.Count())
	}

	lastKey := keys[4]
	victim := keys[1] // не последний слот

	removed, err := store.RemoveInstance(victim)
	if err != nil || !removed {
		t.Fatalf("Ошибка удаления: removed=%v err=%v", removed, err)
	}

	// Живой счётчик уменьшился ровно на один
	if chunk.Count() != 4 {
		t.Errorf("Ожидалось 4 живых экземпляра, получено %d", chunk.Count())
	}

	// Удалённый ключ отсутствует в обеих картах
	if _, ok := chunk.SlotOf(victim); ok {
		t.Error("Удалённый ключ остался в прямой карте")
	}
	for slot := 0; slot < chunk.Count(); slot++ {
		if k, _ := chunk.KeyAt(slot); k == victim {
			t.Error("Удалённый ключ остался в обратной карте")
		}
	}

	// Бывший последний ключ занял освободившийся слот в обеих картах
	slot, ok := chunk.SlotOf(lastKey)
	if !ok || slot != 1 {
		t.Errorf("Перемещённый ключ не в слоте 1: slot=%d ok=%v", slot, ok)
	}
	if k, ok := chunk.KeyAt(1); !ok || k != lastKey {
		t.Errorf("Обратная карта слота 1 не согласована: %v", k)
	}

	// Ссылка перемещённого ключа обновлена
	ref, ok := store.Ref(lastKey)
	if !ok || ref.Slot != 1 {
		t.Errorf("Ссылка перемещённого ключа не обновлена: %+v", ref)
	}
}

func TestRemoveLastSlot(t *testing.T) {
	store, _ := testStore(16)
	keys := insertN(t, store, 3)

	removed, err := store.RemoveInstance(keys[2])
	if err != nil || !removed {
		t.Fatalf("Ошибка удаления последнего слота: %v", err)
	}

	fam := FamilyKey{Shape: tile.ShapeFlat, Mode: tile.TextureAtlas}
	chunk, _ := store.ChunkAt(fam, 0)
	if chunk.Count() != 2 {
		t.Errorf("Ожидалось 2 живых экземпляра, получено %d", chunk.Count())
	}
	if k, ok := chunk.KeyAt(2); ok {
		t.Errorf("Обратная карта сохранила освобождённый слот: %v", k)
	}
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	store, _ := testStore(16)
	key := tile.MustEncodeKey(vec.Vec3Float{X: 99}, tile.OrientFloor)

	removed, err := store.RemoveInstance(key)
	if err != nil {
		t.Errorf("Удаление отсутствующего ключа вернуло ошибку: %v", err)
	}
	if removed {
		t.Error("Удаление отсутствующего ключа сообщило об удалении")
	}
}

func TestBatchSyncIdempotence(t *testing.T) {
	store, renderer := testStore(64)

	store.BeginBatch()
	insertN(t, store, 30)
	if err := store.EndBatch(); err != nil {
		t.Fatalf("Ошибка закрытия батча: %v", err)
	}

	// 30 операций тронули один чанк — ровно один Commit
	fam := FamilyKey{Shape: tile.ShapeFlat, Mode: tile.TextureAtlas}
	chunk, _ := store.ChunkAt(fam, 0)
	if got := renderer.Commits[chunk.Batch]; got != 1 {
		t.Errorf("Ожидался ровно 1 Commit на чанк, получено %d", got)
	}
}

func TestBatchNesting(t *testing.T) {
	store, renderer := testStore(64)

	store.BeginBatch()
	store.BeginBatch()
	insertN(t, store, 10)
	if err := store.EndBatch(); err != nil {
		t.Fatalf("Ошибка закрытия вложенного скоупа: %v", err)
	}

	// Внутренний скоуп закрыт — синхронизаций ещё нет
	if renderer.TotalCommits() != 0 {
		t.Errorf("Синхронизация произошла до закрытия внешнего скоупа: %d", renderer.TotalCommits())
	}

	if err := store.EndBatch(); err != nil {
		t.Fatalf("Ошибка закрытия внешнего скоупа: %v", err)
	}
	if renderer.TotalCommits() != 1 {
		t.Errorf("Ожидался 1 Commit после закрытия внешнего скоупа, получено %d", renderer.TotalCommits())
	}
}

func TestBatchUnderflow(t *testing.T) {
	store, _ := testStore(64)

	if err := store.EndBatch(); !errors.Is(err, ErrBatchUnderflow) {
		t.Errorf("Ожидался ErrBatchUnderflow, получено: %v", err)
	}
	// Состояние защитно сброшено — хранилище продолжает работать
	insertN(t, store, 1)
}

func TestChunkCleanupOnEmpty(t *testing.T) {
	store, renderer := testStore(16)
	keys := insertN(t, store, 3)

	fam := FamilyKey{Shape: tile.ShapeFlat, Mode: tile.TextureAtlas}
	chunk, _ := store.ChunkAt(fam, 0)
	batch := chunk.Batch

	for _, key := range keys {
		if _, err := store.RemoveInstance(key); err != nil {
			t.Fatalf("Ошибка удаления: %v", err)
		}
	}

	// Опустевший чанк освобождён немедленно (вне батч-скоупа)
	if store.ChunkCount() != 0 {
		t.Errorf("Опустевший чанк не освобождён: %d чанков", store.ChunkCount())
	}
	found := false
	for _, released := range renderer.Released {
		if released == batch {
			found = true
		}
	}
	if !found {
		t.Error("Батч рендерера не освобождён")
	}
}

func TestChunkCleanupDeferredInBatch(t *testing.T) {
	store, _ := testStore(16)
	keys := insertN(t, store, 2)

	store.BeginBatch()
	for _, key := range keys {
		if _, err := store.RemoveInstance(key); err != nil {
			t.Fatalf("Ошибка удаления: %v", err)
		}
	}

	// Внутри скоупа чанк ещё жив: хранилище не переиспользует слоты
	if store.ChunkCount() != 1 {
		t.Errorf("Чанк освобождён внутри открытого скоупа")
	}

	if err := store.EndBatch(); err != nil {
		t.Fatalf("Ошибка закрытия скоупа: %v", err)
	}
	if store.ChunkCount() != 0 {
		t.Errorf("Отложенное освобождение не выполнено: %d чанков", store.ChunkCount())
	}
}

func TestCleanupRenumbersFamily(t *testing.T) {
	store, _ := testStore(2) // маленькие чанки, чтобы получить несколько
	keys := insertN(t, store, 6)

	fam := FamilyKey{Shape: tile.ShapeFlat, Mode: tile.TextureAtlas}
	if store.ChunkCount() != 3 {
		t.Fatalf("Ожидалось 3 чанка, получено %d", store.ChunkCount())
	}

	// Опустошаем средний чанк (слоты 2 и 3 живут в чанке 1)
	for _, key := range []tile.TileKey{keys[2], keys[3]} {
		if _, err := store.RemoveInstance(key); err != nil {
			t.Fatalf("Ошибка удаления: %v", err)
		}
	}

	if store.ChunkCount() != 2 {
		t.Fatalf("Ожидалось 2 чанка после освобождения, получено %d", store.ChunkCount())
	}

	// Ссылки оставшихся тайлов указывают на фактические чанки
	for _, key := range []tile.TileKey{keys[0], keys[1], keys[4], keys[5]} {
		ref, ok := store.Ref(key)
		if !ok {
			t.Fatalf("Ссылка ключа %s потеряна", key)
		}
		chunk, ok := store.ChunkAt(fam, ref.ChunkIndex)
		if !ok {
			t.Fatalf("Ссылка ключа %s указывает за пределы массива: %+v", key, ref)
		}
		if chunk.Index != ref.ChunkIndex {
			t.Errorf("Индекс чанка %d не совпадает с позицией в массиве %d", chunk.Index, ref.ChunkIndex)
		}
		if slot, ok := chunk.SlotOf(key); !ok || slot != ref.Slot {
			t.Errorf("Прямая карта чанка не согласована со ссылкой %s: slot=%d ref=%+v", key, slot, ref)
		}
	}
}

func TestRemoveRescuesLostForwardEntry(t *testing.T) {
	store, _ := testStore(16)
	keys := insertN(t, store, 2)

	fam := FamilyKey{Shape: tile.ShapeFlat, Mode: tile.TextureAtlas}
	chunk, _ := store.ChunkAt(fam, 0)

	// Симулируем потерю записи в прямой карте
	delete(chunk.keyToSlot, keys[0])

	removed, err := store.RemoveInstance(keys[0])
	if err != nil {
		t.Fatalf("Восстановимое повреждение не было восстановлено: %v", err)
	}
	if !removed {
		t.Fatal("Экземпляр не удалён после восстановления")
	}
	if chunk.Count() != 1 {
		t.Errorf("Ожидался 1 живой экземпляр, получено %d", chunk.Count())
	}
}

func TestRemoveUnrescuableCorruption(t *testing.T) {
	store, _ := testStore(16)
	keys := insertN(t, store, 2)

	fam := FamilyKey{Shape: tile.ShapeFlat, Mode: tile.TextureAtlas}
	chunk, _ := store.ChunkAt(fam, 0)

	// Ключ исчез из обеих карт — восстановление невозможно
	slot := chunk.keyToSlot[keys[0]]
	delete(chunk.keyToSlot, keys[0])
	delete(chunk.slotToKey, slot)

	_, err := store.RemoveInstance(keys[0])
	var corr *CorruptionError
	if !errors.As(err, &corr) {
		t.Fatalf("Ожидался CorruptionError, получено: %v", err)
	}
	if corr.Key != keys[0] {
		t.Errorf("Диагностика несёт неверный ключ: %s", corr.Key)
	}

	// Повреждённая ссылка вычищена — хранилище согласовано для остальных
	if _, ok := store.Ref(keys[0]); ok {
		t.Error("Повреждённая ссылка не вычищена")
	}
	if removed, err := store.RemoveInstance(keys[1]); err != nil || !removed {
		t.Errorf("Хранилище не восстановилось после повреждения: %v", err)
	}
}

func TestUpdateInstance(t *testing.T) {
	store, renderer := testStore(16)
	keys := insertN(t, store, 1)

	err := store.UpdateInstance(keys[0], func(inst *render.Instance) {
		inst.TerrainID = 9
	})
	if err != nil {
		t.Fatalf("Ошибка правки экземпляра: %v", err)
	}

	inst, ok := store.InstanceOf(keys[0])
	if !ok || inst.TerrainID != 9 {
		t.Errorf("Правка не применена: %+v", inst)
	}

	fam := FamilyKey{Shape: tile.ShapeFlat, Mode: tile.TextureAtlas}
	chunk, _ := store.ChunkAt(fam, 0)
	got, ok := renderer.Instance(chunk.Batch, 0)
	if !ok || got.TerrainID != 9 {
		t.Errorf("Правка не дошла до рендерера: %+v", got)
	}
}

func TestInsertDuplicateKeyRejected(t *testing.T) {
	store, _ := testStore(16)
	fam := FamilyKey{Shape: tile.ShapeFlat, Mode: tile.TextureAtlas}

	inst := instanceAt(1.0)
	key, _, err := store.InsertInstance(fam, RegionFor(inst.Position, 64.0), inst, tile.InvalidKey)
	if err != nil {
		t.Fatalf("Ошибка вставки: %v", err)
	}

	if _, _, err := store.InsertInstance(fam, RegionFor(inst.Position, 64.0), inst, key); err == nil {
		t.Error("Повторная вставка того же ключа не была отклонена")
	}
}

func TestInsertOverrideKey(t *testing.T) {
	store, _ := testStore(16)
	fam := FamilyKey{Shape: tile.ShapeFlat, Mode: tile.TextureAtlas}

	// Трансформация со смещением, из которой ключ уже не вывести
	held := tile.MustEncodeKey(vec.Vec3Float{X: 2.0}, tile.OrientFloor)
	inst := render.Instance{
		Position:    vec.Vec3Float{X: 2.3, Y: 0.2}, // позиция со смещением
		Orientation: tile.OrientFloor,
	}

	key, _, err := store.InsertInstance(fam, RegionFor(inst.Position, 64.0), inst, held)
	if err != nil {
		t.Fatalf("Ошибка вставки с override: %v", err)
	}
	if key != held {
		t.Errorf("Слот записан не под переданным ключом: %s != %s", key, held)
	}
}
