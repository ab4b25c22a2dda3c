package spatial

import (
	"fmt"
	"math"

	"github.com/annel0/tile-engine/internal/tile"
	"github.com/annel0/tile-engine/internal/vec"
)

// BucketKey — 64-битный ключ ячейки пространственной сетки, отличный от
// TileKey: три знаковые, смещённые и зажатые 20-битные координаты ячейки
// (позиция, делённая на размер ячейки, с округлением вниз). Несколько
// TileKey могут делить один BucketKey.
type BucketKey uint64

const (
	bucketBits   = 20
	bucketOffset = 1 << (bucketBits - 1) // 524288
	bucketMask   = 1<<bucketBits - 1
)

// packBucket упаковывает координаты ячейки, зажимая их в 20-битный диапазон
func packBucket(bx, by, bz int) BucketKey {
	return BucketKey(clampBucket(bx)) |
		BucketKey(clampBucket(by))<<bucketBits |
		BucketKey(clampBucket(bz))<<(2*bucketBits)
}

func clampBucket(c int) uint64 {
	c += bucketOffset
	if c < 0 {
		c = 0
	} else if c > bucketMask {
		c = bucketMask
	}
	return uint64(c)
}

// Index — равномерный пространственный хэш: ячейка -> упорядоченный
// набор ключей тайлов, плюс обратная карта ключ -> ячейка. Это генератор
// кандидатов для AABB-запросов, а не точный оракул: вызывающий обязан
// дофильтровать кандидатов по точным границам.
//
// Доступ только из одного логического потока редактирования — без блокировок.
type Index struct {
	bucketSize float64
	buckets    map[BucketKey][]tile.TileKey
	reverse    map[tile.TileKey]BucketKey
}

// NewIndex создаёт индекс с заданным размером ячейки.
// Размер ячейки — настраиваемая гранулярность, независимая от размера
// тайла: крупнее ячейки — меньше накладных расходов, но больше ложных
// кандидатов на запрос.
func NewIndex(bucketSize float64) *Index {
	if bucketSize <= 0 {
		bucketSize = 8.0
	}
	return &Index{
		bucketSize: bucketSize,
		buckets:    make(map[BucketKey][]tile.TileKey),
		reverse:    make(map[tile.TileKey]BucketKey),
	}
}

// bucketCoord переводит мировую координату в координату ячейки
func (idx *Index) bucketCoord(c float64) int {
	return int(math.Floor(c / idx.bucketSize))
}

// BucketFor возвращает ключ ячейки для мировой позиции
func (idx *Index) BucketFor(pos vec.Vec3Float) BucketKey {
	return packBucket(idx.bucketCoord(pos.X), idx.bucketCoord(pos.Y), idx.bucketCoord(pos.Z))
}

// Insert добавляет ключ тайла в ячейку его позиции. Ключ, уже
// проиндексированный под другой ячейкой, — ошибка вызывающего: при
// перемещении сначала Remove, затем Insert.
func (idx *Index) Insert(key tile.TileKey, pos vec.Vec3Float) error {
	bucket := idx.BucketFor(pos)

	if prev, exists := idx.reverse[key]; exists {
		if prev == bucket {
			return nil
		}
		return fmt.Errorf("ключ %s уже проиндексирован в другой ячейке: Remove перед повторным Insert", key)
	}

	idx.buckets[bucket] = append(idx.buckets[bucket], key)
	idx.reverse[key] = bucket
	return nil
}

// Remove удаляет ключ из индекса. Отсутствующий ключ — no-op.
// Опустевшая ячейка удаляется целиком: висячих пустых ячеек не остаётся.
func (idx *Index) Remove(key tile.TileKey) {
	bucket, exists := idx.reverse[key]
	if !exists {
		return
	}
	delete(idx.reverse, key)

	keys := idx.buckets[bucket]
	for i, k := range keys {
		if k == key {
			keys = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	if len(keys) == 0 {
		delete(idx.buckets, bucket)
	} else {
		idx.buckets[bucket] = keys
	}
}

// QueryRange возвращает ключи-кандидаты всех ячеек, пересекающих AABB.
// Набор посещённых ячеек гарантирует, что каждая ячейка вносит вклад
// ровно один раз (зажатие 20-битного диапазона может склеить крайние
// координаты в один ключ ячейки).
func (idx *Index) QueryRange(minCorner, maxCorner vec.Vec3Float) []tile.TileKey {
	lo := minCorner.Min(maxCorner)
	hi := minCorner.Max(maxCorner)

	minX, maxX := idx.bucketCoord(lo.X), idx.bucketCoord(hi.X)
	minY, maxY := idx.bucketCoord(lo.Y), idx.bucketCoord(hi.Y)
	minZ, maxZ := idx.bucketCoord(lo.Z), idx.bucketCoord(hi.Z)

	visited := make(map[BucketKey]struct{})
	var result []tile.TileKey

	for bx := minX; bx <= maxX; bx++ {
		for by := minY; by <= maxY; by++ {
			for bz := minZ; bz <= maxZ; bz++ {
				bucket := packBucket(bx, by, bz)
				if _, seen := visited[bucket]; seen {
					continue
				}
				visited[bucket] = struct{}{}
				result = append(result, idx.buckets[bucket]...)
			}
		}
	}
	return result
}

// Clear опустошает индекс
func (idx *Index) Clear() {
	idx.buckets = make(map[BucketKey][]tile.TileKey)
	idx.reverse = make(map[tile.TileKey]BucketKey)
}

// Count возвращает количество проиндексированных ключей
func (idx *Index) Count() int {
	return len(idx.reverse)
}

// BucketCount возвращает количество непустых ячеек
func (idx *Index) BucketCount() int {
	return len(idx.buckets)
}

// BucketLen возвращает размер набора ячейки, содержащей позицию
func (idx *Index) BucketLen(pos vec.Vec3Float) int {
	return len(idx.buckets[idx.BucketFor(pos)])
}

// Stats возвращает статистику индекса для диагностики
func (idx *Index) Stats() string {
	maxPerBucket := 0
	for _, keys := range idx.buckets {
		if len(keys) > maxPerBucket {
			maxPerBucket = len(keys)
		}
	}

	avg := 0.0
	if len(idx.buckets) > 0 {
		avg = float64(len(idx.reverse)) / float64(len(idx.buckets))
	}

	return fmt.Sprintf("SpatialIndex: %d ключей, %d ячеек, в среднем %.2f ключей/ячейку, максимум %d",
		len(idx.reverse), len(idx.buckets), avg, maxPerBucket)
}
