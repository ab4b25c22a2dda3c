package tile

import "github.com/annel0/tile-engine/internal/vec"

// Orientation задаёт монтажную плоскость тайла: шесть базовых граней
// ячейки, каждая в трёх классах наклона (ровно, наклон вперёд, наклон
// назад). Итого 18 значений; индекс % 6 даёт грань, индекс / 6 — класс
// наклона.
type Orientation uint8

const (
	OrientFloor Orientation = iota
	OrientCeiling
	OrientWallNorth
	OrientWallSouth
	OrientWallEast
	OrientWallWest

	OrientFloorTiltFwd
	OrientCeilingTiltFwd
	OrientWallNorthTiltFwd
	OrientWallSouthTiltFwd
	OrientWallEastTiltFwd
	OrientWallWestTiltFwd

	OrientFloorTiltBack
	OrientCeilingTiltBack
	OrientWallNorthTiltBack
	OrientWallSouthTiltBack
	OrientWallEastTiltBack
	OrientWallWestTiltBack

	// OrientationCount — число допустимых ориентаций
	OrientationCount
)

// Axis — ось глубины монтажной плоскости
type Axis uint8

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// faceNames индексируется по face() ориентации
var faceNames = [6]string{"floor", "ceiling", "north", "south", "east", "west"}

// faceAxes: пол/потолок делят ось Y, северная/южная стены — Z,
// восточная/западная — X
var faceAxes = [6]Axis{AxisY, AxisY, AxisZ, AxisZ, AxisX, AxisX}

// faceNormals — единичные нормали граней
var faceNormals = [6]vec.Vec3Float{
	{Y: 1},  // floor
	{Y: -1}, // ceiling
	{Z: -1}, // north
	{Z: 1},  // south
	{X: -1}, // east
	{X: 1},  // west
}

// opposites внутри одной грани: пол↔потолок, север↔юг, восток↔запад
var oppositeFaces = [6]uint8{1, 0, 3, 2, 5, 4}

func (o Orientation) face() uint8 {
	return uint8(o) % 6
}

// Valid сообщает, входит ли значение в допустимый диапазон
func (o Orientation) Valid() bool {
	return o < OrientationCount
}

// Axis возвращает ось глубины ориентации. Ориентации с одной осью
// занимают один концептуальный слот позиции (см. правила конфликтов).
func (o Orientation) Axis() Axis {
	return faceAxes[o.face()]
}

// Normal возвращает единичную нормаль монтажной плоскости
func (o Orientation) Normal() vec.Vec3Float {
	return faceNormals[o.face()]
}

// Opposite возвращает ориентацию противоположной грани в том же классе наклона
func (o Orientation) Opposite() Orientation {
	tiltClass := uint8(o) / 6
	return Orientation(tiltClass*6 + oppositeFaces[o.face()])
}

// Tilted сообщает, наклонена ли монтажная плоскость
func (o Orientation) Tilted() bool {
	return o >= 6
}

// String возвращает имя ориентации для диагностики
func (o Orientation) String() string {
	if !o.Valid() {
		return "invalid"
	}
	name := faceNames[o.face()]
	switch uint8(o) / 6 {
	case 1:
		return name + "+fwd"
	case 2:
		return name + "+back"
	}
	return name
}

// SameAxisOrientations возвращает все ориентации с заданной осью глубины.
// Используется сканом конфликтов при размещении.
func SameAxisOrientations(axis Axis) []Orientation {
	result := make([]Orientation, 0, 6)
	for o := Orientation(0); o < OrientationCount; o++ {
		if o.Axis() == axis {
			result = append(result, o)
		}
	}
	return result
}
