package tile

// Shape задаёт вид геометрии тайла. Геометрический шаблон для каждого
// вида поставляет внешний генератор форм; здесь форма — только часть
// идентичности семейства чанков и правил конфликтов.
type Shape uint8

const (
	ShapeFlat Shape = iota // плоская панель
	ShapeRamp
	ShapeCornerOuter
	ShapeCornerInner
	ShapeStairs
	ShapePillar

	// ShapeCount — число известных видов форм
	ShapeCount
)

var shapeNames = [ShapeCount]string{
	"flat", "ramp", "corner_outer", "corner_inner", "stairs", "pillar",
}

// Valid сообщает, известен ли вид формы
func (s Shape) Valid() bool {
	return s < ShapeCount
}

// Flat сообщает, является ли форма плоской панелью. Только плоские
// панели могут сосуществовать на противоположных ориентациях одной
// позиции (пол + потолок «спина к спине»).
func (s Shape) Flat() bool {
	return s == ShapeFlat
}

// String возвращает имя формы для диагностики
func (s Shape) String() string {
	if !s.Valid() {
		return "invalid"
	}
	return shapeNames[s]
}

// TextureMode задаёт способ наложения текстуры на экземпляры семейства
type TextureMode uint8

const (
	// TextureAtlas — UV из общего атласа террейна
	TextureAtlas TextureMode = iota
	// TextureSurface — UV проецируются по мировой поверхности
	TextureSurface

	// TextureModeCount — число режимов текстурирования
	TextureModeCount
)

// Valid сообщает, известен ли режим текстурирования
func (m TextureMode) Valid() bool {
	return m < TextureModeCount
}

// String возвращает имя режима для диагностики
func (m TextureMode) String() string {
	switch m {
	case TextureAtlas:
		return "atlas"
	case TextureSurface:
		return "surface"
	}
	return "invalid"
}
