package placement

import (
	"fmt"
	"math"

	"github.com/annel0/tile-engine/internal/logging"
	"github.com/annel0/tile-engine/internal/tile"
	"github.com/annel0/tile-engine/internal/undo"
	"github.com/annel0/tile-engine/internal/vec"
)

// collectArea возвращает ключи всех тайлов внутри прямоугольной области
// (границы включительно). Планировщик трёхъярусный, пороги — из
// конфигурации движка:
//   - малая область: запрос индекса + точная проверка позиции;
//   - средняя область: запрос индекса с допуском по границам + точная
//     проверка (страховка от тайлов на краю ячейки);
//   - большая область: линейный проход по записям — дешевле, чем
//     обход тысяч ячеек индекса.
func (e *Engine) collectArea(minCorner, maxCorner vec.Vec3Float) []tile.TileKey {
	lo := minCorner.Min(maxCorner)
	hi := minCorner.Max(maxCorner)
	volume := (hi.X - lo.X) * (hi.Y - lo.Y) * (hi.Z - lo.Z)

	inside := func(p vec.Vec3Float) bool {
		return p.X >= lo.X && p.X <= hi.X &&
			p.Y >= lo.Y && p.Y <= hi.Y &&
			p.Z >= lo.Z && p.Z <= hi.Z
	}

	switch {
	case volume <= e.cfg.AreaSmallVolume:
		candidates := e.index.QueryRange(lo, hi)
		keys := make([]tile.TileKey, 0, len(candidates))
		for _, key := range candidates {
			if inside(key.Position()) {
				keys = append(keys, key)
			}
		}
		return keys

	case volume <= e.cfg.AreaMediumVolume:
		// Допуск расширяет только запрос индекса; итоговый фильтр
		// остаётся точным, чтобы все три яруса возвращали один и тот же
		// набор ключей для одной области
		pad := vec.Vec3Float{X: e.cfg.AreaTolerance, Y: e.cfg.AreaTolerance, Z: e.cfg.AreaTolerance}
		candidates := e.index.QueryRange(lo.Sub(pad), hi.Add(pad))
		keys := make([]tile.TileKey, 0, len(candidates))
		for _, key := range candidates {
			if inside(key.Position()) {
				keys = append(keys, key)
			}
		}
		return keys

	default:
		keys := make([]tile.TileKey, 0)
		for key := range e.records {
			if inside(key.Position()) {
				keys = append(keys, key)
			}
		}
		return keys
	}
}

// QueryArea возвращает ключи тайлов в области; порядок не определён
func (e *Engine) QueryArea(minCorner, maxCorner vec.Vec3Float) []tile.TileKey {
	return e.collectArea(minCorner, maxCorner)
}

// EraseArea стирает все тайлы в области одной обратимой операцией.
// Полные записи стёртых тайлов уходят в сжатый блоб «до»: undo
// восстанавливает каждый тайл с исходными атрибутами, redo стирает их
// снова. Возвращает число стёртых тайлов.
func (e *Engine) EraseArea(minCorner, maxCorner vec.Vec3Float) (int, error) {
	keys := e.collectArea(minCorner, maxCorner)
	if len(keys) == 0 {
		return 0, nil
	}

	before := make([]tile.Record, 0, len(keys))
	for _, key := range keys {
		if rec, exists := e.records[key]; exists {
			before = append(before, *rec)
		}
	}

	e.chunks.BeginBatch()
	for _, key := range keys {
		if err := e.eraseInternal(key); err != nil {
			logging.LogError("EraseArea: стирание %s: %v", key, err)
		}
		e.metrics.IncErase()
	}
	if err := e.chunks.EndBatch(); err != nil {
		logging.LogError("EraseArea: %v", err)
	}
	e.metrics.SetLiveTiles(len(e.records))

	if err := e.pushBulk(fmt.Sprintf("erase area (%d tiles)", len(before)), before, nil); err != nil {
		return len(keys), err
	}
	return len(keys), nil
}

// FillArea заполняет область решёткой тайлов с шагом spacing (минимум —
// шаг сетки), одной обратимой операцией. Семантика каждой точки решётки
// повторяет Place: точное совпадение ключа — замена на месте, конфликт
// по оси глубины — атомарная замена, пара плоских панелей на
// противоположных ориентациях сосуществует. Вытесненные тайлы уходят в
// блоб «до», размещённые — в блоб «после». Возвращает число размещений.
func (e *Engine) FillArea(minCorner, maxCorner vec.Vec3Float, o tile.Orientation, attrs tile.Record, spacing float64) (int, error) {
	if !o.Valid() {
		return 0, fmt.Errorf("недопустимая ориентация %d", o)
	}
	if spacing < tile.GridStep {
		spacing = tile.GridStep
	}
	lo := minCorner.Min(maxCorner)
	hi := minCorner.Max(maxCorner)

	// Узлы решётки считаются от целого индекса, не накоплением шага:
	// накопленная ошибка плавающей точки при дробном шаге теряет
	// граничный ряд
	steps := func(span float64) int {
		return int(math.Floor(span/spacing + 1e-9))
	}
	nx, ny, nz := steps(hi.X-lo.X), steps(hi.Y-lo.Y), steps(hi.Z-lo.Z)

	var before, after []tile.Record

	e.chunks.BeginBatch()
	placed := 0
	for ix := 0; ix <= nx; ix++ {
		for iy := 0; iy <= ny; iy++ {
			for iz := 0; iz <= nz; iz++ {
				pos := vec.Vec3Float{
					X: lo.X + float64(ix)*spacing,
					Y: lo.Y + float64(iy)*spacing,
					Z: lo.Z + float64(iz)*spacing,
				}
				key, err := tile.EncodeKey(pos, o)
				if err != nil {
					continue
				}
				rec := attrs
				rec.Key = key

				if old, exists := e.records[key]; exists {
					before = append(before, *old)
					if err := e.replaceInPlace(key, rec); err != nil {
						logging.LogError("FillArea: замена %s: %v", key, err)
						continue
					}
					e.metrics.IncReplacement()
				} else if conflicts := e.findConflicts(pos, o, rec.Shape); len(conflicts) > 0 {
					for _, conflictKey := range conflicts {
						before = append(before, *e.records[conflictKey])
						if err := e.eraseInternal(conflictKey); err != nil {
							logging.LogError("FillArea: стирание конфликта %s: %v", conflictKey, err)
						}
					}
					if err := e.placeInternal(rec); err != nil {
						logging.LogError("FillArea: размещение %s: %v", key, err)
						continue
					}
					e.metrics.IncReplacement()
				} else {
					if err := e.placeInternal(rec); err != nil {
						logging.LogError("FillArea: размещение %s: %v", key, err)
						continue
					}
					e.metrics.IncPlacement()
				}

				after = append(after, rec)
				placed++
			}
		}
	}
	if err := e.chunks.EndBatch(); err != nil {
		logging.LogError("FillArea: %v", err)
	}
	e.metrics.SetLiveTiles(len(e.records))

	if placed == 0 {
		return 0, nil
	}
	if err := e.pushBulk(fmt.Sprintf("fill area (%d tiles)", placed), before, after); err != nil {
		return placed, err
	}
	return placed, nil
}

// pushBulk эмитирует одну обратимую массовую команду. Записи хранятся
// в замыканиях не срезами, а сжатыми бинарными блобами: undo-журнал с
// тысячами записей на команду иначе разъедает память. Блобы
// распаковываются лениво, при реплее.
func (e *Engine) pushBulk(label string, before, after []tile.Record) error {
	if e.log == nil {
		return nil
	}

	beforeBlob, err := e.bulk.Encode(before)
	if err != nil {
		return fmt.Errorf("сжатие блоба «до»: %w", err)
	}
	afterBlob, err := e.bulk.Encode(after)
	if err != nil {
		return fmt.Errorf("сжатие блоба «после»: %w", err)
	}

	e.log.Push(undo.NewCommand(label,
		func() { e.applyBulk(beforeBlob, afterBlob) },
		func() { e.applyBulk(afterBlob, beforeBlob) },
	))
	return nil
}

// applyBulk реплеит массовую операцию: стирает записи одного блоба и
// размещает записи другого, в одном батч-скоупе
func (e *Engine) applyBulk(eraseBlob, placeBlob []byte) {
	erase, err := e.bulk.Decode(eraseBlob)
	if err != nil {
		logging.LogError("реплей массовой операции: блоб стирания: %v", err)
		return
	}
	place, err := e.bulk.Decode(placeBlob)
	if err != nil {
		logging.LogError("реплей массовой операции: блоб размещения: %v", err)
		return
	}

	e.chunks.BeginBatch()
	for i := range erase {
		e.replayErase(erase[i].Key)
	}
	for i := range place {
		e.replayPlace(place[i])
	}
	if err := e.chunks.EndBatch(); err != nil {
		logging.LogError("реплей массовой операции: %v", err)
	}
	e.metrics.SetLiveTiles(len(e.records))
}
