package tile

import (
	"errors"
	"fmt"
	"math"

	"github.com/annel0/tile-engine/internal/vec"
)

// TileKey — единственная идентичность размещённого тайла.
// Упаковывает квантованную позицию (шаг 0.1, по 16 бит на ось)
// и ориентацию (5 бит) в непересекающиеся диапазоны битов:
//
//	биты  0..15 — X
//	биты 16..31 — Y
//	биты 32..47 — Z
//	биты 48..52 — ориентация
//
// Кодирование тотально и без коллизий на допустимом домене;
// позиции вне домена отклоняются, а не зажимаются — зажатие
// молча слило бы два разных тайла в один ключ.
type TileKey uint64

const (
	// GridStep — шаг квантования позиции в мировых единицах
	GridStep = 0.1

	// maxQuant — максимум квантованной координаты (±3276.7 единиц на ось)
	maxQuant = 32767

	// InvalidKey — значение-страж; EncodeKey никогда его не порождает
	// (биты ориентации дали бы 31 при максимуме 17)
	InvalidKey TileKey = ^TileKey(0)
)

// ErrOutOfRange возвращается, когда позиция или ориентация вне домена кодека
var ErrOutOfRange = errors.New("позиция вне домена кодека тайлов")

// quantize переводит координату в целочисленную сетку с шагом GridStep
func quantize(c float64) (int, bool) {
	q := int(math.Round(c / GridStep))
	if q < -maxQuant || q > maxQuant {
		return 0, false
	}
	return q, true
}

// EncodeKey кодирует (позиция, ориентация) в TileKey.
// Возвращает ErrOutOfRange для позиций вне ±3276.7 и неизвестных ориентаций.
func EncodeKey(pos vec.Vec3Float, o Orientation) (TileKey, error) {
	if o >= OrientationCount {
		return 0, fmt.Errorf("%w: ориентация %d", ErrOutOfRange, o)
	}

	qx, ok := quantize(pos.X)
	if !ok {
		return 0, fmt.Errorf("%w: X=%.2f", ErrOutOfRange, pos.X)
	}
	qy, ok := quantize(pos.Y)
	if !ok {
		return 0, fmt.Errorf("%w: Y=%.2f", ErrOutOfRange, pos.Y)
	}
	qz, ok := quantize(pos.Z)
	if !ok {
		return 0, fmt.Errorf("%w: Z=%.2f", ErrOutOfRange, pos.Z)
	}

	key := TileKey(uint16(int16(qx))) |
		TileKey(uint16(int16(qy)))<<16 |
		TileKey(uint16(int16(qz)))<<32 |
		TileKey(o)<<48

	return key, nil
}

// MustEncodeKey — вариант EncodeKey для констант и тестов; паникует при ошибке
func MustEncodeKey(pos vec.Vec3Float, o Orientation) TileKey {
	key, err := EncodeKey(pos, o)
	if err != nil {
		panic(err)
	}
	return key
}

// Quantized возвращает квантованные целочисленные координаты ключа
func (k TileKey) Quantized() (int16, int16, int16) {
	return int16(k), int16(k >> 16), int16(k >> 32)
}

// Position восстанавливает позицию тайла (в диагностических целях;
// горячий путь никогда не зависит от декодирования)
func (k TileKey) Position() vec.Vec3Float {
	qx, qy, qz := k.Quantized()
	return vec.Vec3Float{
		X: float64(qx) * GridStep,
		Y: float64(qy) * GridStep,
		Z: float64(qz) * GridStep,
	}
}

// Orientation возвращает ориентацию тайла
func (k TileKey) Orientation() Orientation {
	return Orientation(k>>48) & 0x1F
}

// String форматирует ключ для диагностики
func (k TileKey) String() string {
	qx, qy, qz := k.Quantized()
	return fmt.Sprintf("tile(%d,%d,%d/%s)", qx, qy, qz, k.Orientation())
}
