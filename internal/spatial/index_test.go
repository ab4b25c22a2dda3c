package spatial

import (
	"testing"

	"github.com/annel0/tile-engine/internal/tile"
	"github.com/annel0/tile-engine/internal/vec"
)

func keyAt(t *testing.T, pos vec.Vec3Float) tile.TileKey {
	t.Helper()
	key, err := tile.EncodeKey(pos, tile.OrientFloor)
	if err != nil {
		t.Fatalf("Ошибка кодирования ключа: %v", err)
	}
	return key
}

func TestIndexInsertRemoveRoundTrip(t *testing.T) {
	idx := NewIndex(8.0)
	pos := vec.Vec3Float{X: 2.0, Y: 0, Z: 3.0}
	key := keyAt(t, pos)

	if err := idx.Insert(key, pos); err != nil {
		t.Fatalf("Ошибка вставки: %v", err)
	}
	if idx.Count() != 1 || idx.BucketCount() != 1 {
		t.Fatalf("Ожидался 1 ключ в 1 ячейке, получено %d/%d", idx.Count(), idx.BucketCount())
	}

	idx.Remove(key)

	if idx.Count() != 0 {
		t.Errorf("Ключ остался в индексе после удаления")
	}
	if idx.BucketCount() != 0 {
		t.Errorf("Опустевшая ячейка не была удалена")
	}

	// Запрос области, содержащей позицию, не возвращает удалённый ключ
	found := idx.QueryRange(vec.Vec3Float{X: -10, Y: -10, Z: -10}, vec.Vec3Float{X: 10, Y: 10, Z: 10})
	for _, k := range found {
		if k == key {
			t.Error("Удалённый ключ вернулся из QueryRange")
		}
	}
}

func TestIndexDoubleInsert(t *testing.T) {
	idx := NewIndex(8.0)
	pos := vec.Vec3Float{X: 1.0}
	key := keyAt(t, pos)

	if err := idx.Insert(key, pos); err != nil {
		t.Fatalf("Ошибка вставки: %v", err)
	}

	// Повторная вставка в ту же ячейку — no-op
	if err := idx.Insert(key, pos); err != nil {
		t.Errorf("Повторная вставка в ту же ячейку должна быть no-op: %v", err)
	}
	if idx.Count() != 1 {
		t.Errorf("Ожидался 1 ключ, получено %d", idx.Count())
	}

	// Вставка под другой ячейкой без Remove — ошибка вызывающего
	if err := idx.Insert(key, vec.Vec3Float{X: 100.0}); err == nil {
		t.Error("Вставка проиндексированного ключа в другую ячейку не была отклонена")
	}
}

func TestIndexRemoveAbsent(t *testing.T) {
	idx := NewIndex(8.0)
	// Удаление отсутствующего ключа — no-op, не паника
	idx.Remove(keyAt(t, vec.Vec3Float{X: 5.0}))
	if idx.Count() != 0 {
		t.Error("Индекс изменился после удаления отсутствующего ключа")
	}
}

func TestQueryRangeNoDuplicates(t *testing.T) {
	idx := NewIndex(4.0)

	// Ключи в соседних ячейках вокруг начала координат
	positions := []vec.Vec3Float{
		{X: 1, Y: 1, Z: 1},
		{X: -1, Y: 1, Z: 1},
		{X: 1, Y: -1, Z: 1},
		{X: 5, Y: 5, Z: 5},
		{X: -5, Y: -5, Z: -5},
	}
	for _, pos := range positions {
		if err := idx.Insert(keyAt(t, pos), pos); err != nil {
			t.Fatalf("Ошибка вставки %v: %v", pos, err)
		}
	}

	found := idx.QueryRange(vec.Vec3Float{X: -8, Y: -8, Z: -8}, vec.Vec3Float{X: 8, Y: 8, Z: 8})
	if len(found) != len(positions) {
		t.Fatalf("Ожидалось %d кандидатов, получено %d", len(positions), len(found))
	}

	seen := make(map[tile.TileKey]struct{})
	for _, k := range found {
		if _, dup := seen[k]; dup {
			t.Errorf("Дубликат кандидата %s", k)
		}
		seen[k] = struct{}{}
	}
}

func TestQueryRangeNegativeCoords(t *testing.T) {
	idx := NewIndex(8.0)

	pos := vec.Vec3Float{X: -3.0, Y: -0.5, Z: -7.9}
	key := keyAt(t, pos)
	if err := idx.Insert(key, pos); err != nil {
		t.Fatalf("Ошибка вставки: %v", err)
	}

	// Узкая область вокруг позиции находит ключ
	found := idx.QueryRange(pos.Sub(vec.Vec3Float{X: 0.5, Y: 0.5, Z: 0.5}), pos.Add(vec.Vec3Float{X: 0.5, Y: 0.5, Z: 0.5}))
	if len(found) != 1 || found[0] != key {
		t.Errorf("Ключ в отрицательных координатах не найден: %v", found)
	}

	// Область далеко от позиции не находит ничего
	found = idx.QueryRange(vec.Vec3Float{X: 100, Y: 100, Z: 100}, vec.Vec3Float{X: 110, Y: 110, Z: 110})
	if len(found) != 0 {
		t.Errorf("Ожидался пустой результат, получено %d кандидатов", len(found))
	}
}

func TestIndexClear(t *testing.T) {
	idx := NewIndex(8.0)
	for i := 0; i < 10; i++ {
		pos := vec.Vec3Float{X: float64(i) * 10}
		if err := idx.Insert(keyAt(t, pos), pos); err != nil {
			t.Fatalf("Ошибка вставки: %v", err)
		}
	}

	idx.Clear()

	if idx.Count() != 0 || idx.BucketCount() != 0 {
		t.Errorf("Clear не опустошил индекс: %d ключей, %d ячеек", idx.Count(), idx.BucketCount())
	}
}
