package render

import (
	"github.com/annel0/tile-engine/internal/tile"
	"github.com/annel0/tile-engine/internal/vec"
)

// BatchID — непрозрачный идентификатор батча экземпляров на стороне
// рендерера; выдаётся хранилищем чанков и никогда не переиспользуется
// после освобождения батча.
type BatchID uint64

// GeometryRef — непрозрачная ссылка на геометрический шаблон формы,
// поставляемая внешним генератором форм/UV при создании семейства.
type GeometryRef string

// Instance — трансформация и компактные метаданные одного экземпляра
// в батче рендерера.
type Instance struct {
	Position     vec.Vec3Float // мировая позиция с учётом смещения внутри ячейки
	Scale        vec.Vec3Float
	Orientation  tile.Orientation
	RotationStep uint8
	Flip         bool
	TerrainID    uint8
	UVShift      [2]float64
	Skew         float64
	Tint         [4]uint8
}

// GeometrySource поставляет геометрический шаблон для семейства чанков.
// Генерация мешей и UV — забота внешнего генератора форм.
type GeometrySource interface {
	TemplateFor(shape tile.Shape, mode tile.TextureMode) GeometryRef
}

// Renderer — граница с внешним рендерером: запись слотов экземпляров,
// установка видимого количества и синхронизация буфера батча (Commit).
// Все вызовы синхронны; модель потоков рендерера — вне этой подсистемы.
type Renderer interface {
	// EnsureBatch создаёт батч под указанный геометрический шаблон,
	// если он ещё не существует
	EnsureBatch(id BatchID, capacity int, geom GeometryRef)

	// SetInstance записывает слот экземпляра батча
	SetInstance(id BatchID, slot int, inst Instance)

	// SetVisibleCount устанавливает число живых экземпляров батча
	SetVisibleCount(id BatchID, count int)

	// Commit синхронизирует GPU-буфер батча с накопленными записями
	Commit(id BatchID)

	// ReleaseBatch освобождает ресурсы батча
	ReleaseBatch(id BatchID)
}

// StaticGeometry — тривиальный GeometrySource с детерминированными
// именами шаблонов; достаточно для инструментов и тестов.
type StaticGeometry struct{}

// TemplateFor возвращает ссылку вида "shape/mode"
func (StaticGeometry) TemplateFor(shape tile.Shape, mode tile.TextureMode) GeometryRef {
	return GeometryRef(shape.String() + "/" + mode.String())
}

// NullRenderer — пустая реализация Renderer для офлайн-инструментов
// (инспектор, перестроение из сохранённого набора без визуализации).
type NullRenderer struct{}

func (NullRenderer) EnsureBatch(BatchID, int, GeometryRef) {}
func (NullRenderer) SetInstance(BatchID, int, Instance)    {}
func (NullRenderer) SetVisibleCount(BatchID, int)          {}
func (NullRenderer) Commit(BatchID)                        {}
func (NullRenderer) ReleaseBatch(BatchID)                  {}
