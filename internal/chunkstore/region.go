package chunkstore

import (
	"math"

	"github.com/annel0/tile-engine/internal/vec"
)

// RegionID — идентификатор грубой пространственной области, группирующей
// чанки семейства для локальности. Ячейка области существенно крупнее
// ячейки пространственного индекса: одна область обычно покрывает много
// ячеек индекса. Упаковка — три смещённые 20-битные координаты.
type RegionID uint64

const (
	regionBits   = 20
	regionOffset = 1 << (regionBits - 1)
	regionMask   = 1<<regionBits - 1
)

// RegionFor вычисляет область для мировой позиции при заданном размере
// ячейки области
func RegionFor(pos vec.Vec3Float, regionSize float64) RegionID {
	rx := clampRegion(int(math.Floor(pos.X / regionSize)))
	ry := clampRegion(int(math.Floor(pos.Y / regionSize)))
	rz := clampRegion(int(math.Floor(pos.Z / regionSize)))
	return RegionID(rx) | RegionID(ry)<<regionBits | RegionID(rz)<<(2*regionBits)
}

func clampRegion(c int) uint64 {
	c += regionOffset
	if c < 0 {
		c = 0
	} else if c > regionMask {
		c = regionMask
	}
	return uint64(c)
}
