package tile

import (
	"encoding/binary"
	"fmt"

	"github.com/annel0/tile-engine/internal/vec"
)

// Record — полные редактируемые атрибуты размещённого тайла («что»),
// намеренно отделённые от физического расположения экземпляра («где»,
// см. TileRef в chunkstore): перенос слота никогда не требует трогать
// обе структуры в хрупком порядке.
type Record struct {
	Key          TileKey
	Shape        Shape
	TextureMode  TextureMode
	RotationStep uint8 // поворот вокруг нормали, шаги по 90°
	Flip         bool
	TerrainID    uint8

	// Непрерывные параметры трансформации внутри ячейки
	Offset  vec.Vec3Float // смещение от центра ячейки
	Scale   vec.Vec3Float // покомпонентный масштаб (0 означает 1.0)
	UVShift [2]float64
	Skew    float64
	Tint    [4]uint8 // RGBA
}

// Orientation возвращает ориентацию, закодированную в ключе записи
func (r *Record) Orientation() Orientation {
	return r.Key.Orientation()
}

// Position возвращает позицию, закодированную в ключе записи
func (r *Record) Position() vec.Vec3Float {
	return r.Key.Position()
}

// RecordSize — размер одной записи в бинарном формате массовых операций.
// Формат фиксированный: O(1) доступ к i-й записи по смещению.
const RecordSize = 48

const recordFlagFlip = 1 << 0

// AppendBinary сериализует запись в фиксированный 48-байтный формат и
// дописывает её в buf. Позиция хранится квантованной (int16, шаг 0.1),
// поэтому проходит круговой путь точно; вторичные поля — в половинной
// точности.
//
// Раскладка (little-endian):
//
//	 0  int16 x3  квантованная позиция
//	 6  uint8     ориентация
//	 7  uint8     шаг поворота
//	 8  uint8     флаги (бит 0 — flip)
//	 9  uint8     форма
//	10  uint8     режим текстуры
//	11  uint8     id террейна
//	12  f16 x3    смещение
//	18  f16 x3    масштаб
//	24  f16 x2    сдвиг UV
//	28  f16       скос
//	30  u8  x4    tint RGBA
//	34  резерв до 48
func (r *Record) AppendBinary(buf []byte) []byte {
	var rec [RecordSize]byte

	qx, qy, qz := r.Key.Quantized()
	binary.LittleEndian.PutUint16(rec[0:], uint16(qx))
	binary.LittleEndian.PutUint16(rec[2:], uint16(qy))
	binary.LittleEndian.PutUint16(rec[4:], uint16(qz))

	rec[6] = uint8(r.Key.Orientation())
	rec[7] = r.RotationStep
	if r.Flip {
		rec[8] |= recordFlagFlip
	}
	rec[9] = uint8(r.Shape)
	rec[10] = uint8(r.TextureMode)
	rec[11] = r.TerrainID

	binary.LittleEndian.PutUint16(rec[12:], halfFromFloat(r.Offset.X))
	binary.LittleEndian.PutUint16(rec[14:], halfFromFloat(r.Offset.Y))
	binary.LittleEndian.PutUint16(rec[16:], halfFromFloat(r.Offset.Z))
	binary.LittleEndian.PutUint16(rec[18:], halfFromFloat(r.Scale.X))
	binary.LittleEndian.PutUint16(rec[20:], halfFromFloat(r.Scale.Y))
	binary.LittleEndian.PutUint16(rec[22:], halfFromFloat(r.Scale.Z))
	binary.LittleEndian.PutUint16(rec[24:], halfFromFloat(r.UVShift[0]))
	binary.LittleEndian.PutUint16(rec[26:], halfFromFloat(r.UVShift[1]))
	binary.LittleEndian.PutUint16(rec[28:], halfFromFloat(r.Skew))
	copy(rec[30:34], r.Tint[:])

	return append(buf, rec[:]...)
}

// DecodeRecord восстанавливает запись из 48-байтного бинарного формата.
// data должна содержать не менее RecordSize байт.
func DecodeRecord(data []byte) (Record, error) {
	if len(data) < RecordSize {
		return Record{}, fmt.Errorf("запись тайла обрезана: %d байт из %d", len(data), RecordSize)
	}

	qx := int16(binary.LittleEndian.Uint16(data[0:]))
	qy := int16(binary.LittleEndian.Uint16(data[2:]))
	qz := int16(binary.LittleEndian.Uint16(data[4:]))
	o := Orientation(data[6])

	pos := vec.Vec3Float{
		X: float64(qx) * GridStep,
		Y: float64(qy) * GridStep,
		Z: float64(qz) * GridStep,
	}
	key, err := EncodeKey(pos, o)
	if err != nil {
		return Record{}, fmt.Errorf("повреждённая запись тайла: %w", err)
	}

	r := Record{
		Key:          key,
		RotationStep: data[7],
		Flip:         data[8]&recordFlagFlip != 0,
		Shape:        Shape(data[9]),
		TextureMode:  TextureMode(data[10]),
		TerrainID:    data[11],
		Offset: vec.Vec3Float{
			X: halfToFloat(binary.LittleEndian.Uint16(data[12:])),
			Y: halfToFloat(binary.LittleEndian.Uint16(data[14:])),
			Z: halfToFloat(binary.LittleEndian.Uint16(data[16:])),
		},
		Scale: vec.Vec3Float{
			X: halfToFloat(binary.LittleEndian.Uint16(data[18:])),
			Y: halfToFloat(binary.LittleEndian.Uint16(data[20:])),
			Z: halfToFloat(binary.LittleEndian.Uint16(data[22:])),
		},
		UVShift: [2]float64{
			halfToFloat(binary.LittleEndian.Uint16(data[24:])),
			halfToFloat(binary.LittleEndian.Uint16(data[26:])),
		},
		Skew: halfToFloat(binary.LittleEndian.Uint16(data[28:])),
	}
	copy(r.Tint[:], data[30:34])

	if !r.Shape.Valid() {
		return Record{}, fmt.Errorf("повреждённая запись тайла: форма %d", r.Shape)
	}
	if !r.TextureMode.Valid() {
		return Record{}, fmt.Errorf("повреждённая запись тайла: режим текстуры %d", r.TextureMode)
	}
	return r, nil
}
