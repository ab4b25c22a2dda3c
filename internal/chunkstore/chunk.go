package chunkstore

import (
	"fmt"

	"github.com/annel0/tile-engine/internal/render"
	"github.com/annel0/tile-engine/internal/tile"
)

// FamilyKey — идентичность семейства чанков: (форма × режим текстуры).
// Внутри семейства чанки дополнительно группируются по областям.
type FamilyKey struct {
	Shape tile.Shape
	Mode  tile.TextureMode
}

func (f FamilyKey) String() string {
	return f.Shape.String() + "/" + f.Mode.String()
}

// Chunk — контейнер фиксированной ёмкости для экземпляров рендеринга
// одного семейства в одной области. Держит прямую (ключ -> слот) и
// обратную (слот -> ключ) карты, всегда взаимно согласованные, живой
// счётчик и собственную позицию в массиве семейства.
type Chunk struct {
	Family FamilyKey
	Region RegionID
	Index  int // позиция в массиве чанков семейства
	Batch  render.BatchID

	capacity  int
	count     int
	instances []render.Instance
	keyToSlot map[tile.TileKey]int
	slotToKey map[int]tile.TileKey
}

func newChunk(family FamilyKey, region RegionID, index int, batch render.BatchID, capacity int) *Chunk {
	return &Chunk{
		Family:    family,
		Region:    region,
		Index:     index,
		Batch:     batch,
		capacity:  capacity,
		instances: make([]render.Instance, capacity),
		keyToSlot: make(map[tile.TileKey]int),
		slotToKey: make(map[int]tile.TileKey),
	}
}

// Count возвращает число живых экземпляров
func (c *Chunk) Count() int {
	return c.count
}

// Capacity возвращает ёмкость чанка
func (c *Chunk) Capacity() int {
	return c.capacity
}

// Full сообщает, заполнен ли чанк
func (c *Chunk) Full() bool {
	return c.count >= c.capacity
}

// SlotOf возвращает слот ключа по прямой карте
func (c *Chunk) SlotOf(key tile.TileKey) (int, bool) {
	slot, ok := c.keyToSlot[key]
	return slot, ok
}

// KeyAt возвращает ключ слота по обратной карте
func (c *Chunk) KeyAt(slot int) (tile.TileKey, bool) {
	key, ok := c.slotToKey[slot]
	return key, ok
}

// InstanceAt возвращает копию экземпляра в слоте
func (c *Chunk) InstanceAt(slot int) render.Instance {
	return c.instances[slot]
}

// EachKey обходит прямую карту чанка; возврат false прерывает обход
func (c *Chunk) EachKey(fn func(key tile.TileKey, slot int) bool) {
	for key, slot := range c.keyToSlot {
		if !fn(key, slot) {
			return
		}
	}
}

// insert добавляет экземпляр в новый слот на текущем живом счётчике
func (c *Chunk) insert(key tile.TileKey, inst render.Instance) int {
	slot := c.count
	c.instances[slot] = inst
	c.keyToSlot[key] = slot
	c.slotToKey[slot] = key
	c.count++
	return slot
}

// removeAt удаляет слот приёмом swap-and-pop: не-последний слот
// перезаписывается последним живым экземпляром, обе карты обновляются
// для перемещённого ключа, счётчик уменьшается. Возвращает перемещённый
// ключ (moved=true), если перестановка произошла.
func (c *Chunk) removeAt(key tile.TileKey, slot int) (movedKey tile.TileKey, moved bool) {
	last := c.count - 1

	if slot != last {
		movedKey = c.slotToKey[last]
		c.instances[slot] = c.instances[last]
		c.keyToSlot[movedKey] = slot
		c.slotToKey[slot] = movedKey
		moved = true
	}

	delete(c.keyToSlot, key)
	delete(c.slotToKey, last)
	c.count--
	return movedKey, moved
}

// String форматирует идентичность чанка для диагностики
func (c *Chunk) String() string {
	return fmt.Sprintf("chunk{%s, область %d, индекс %d, %d/%d}",
		c.Family, c.Region, c.Index, c.count, c.capacity)
}
