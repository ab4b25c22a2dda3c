package placement

import (
	"fmt"

	"github.com/annel0/tile-engine/internal/chunkstore"
	"github.com/annel0/tile-engine/internal/config"
	"github.com/annel0/tile-engine/internal/logging"
	"github.com/annel0/tile-engine/internal/metrics"
	"github.com/annel0/tile-engine/internal/render"
	"github.com/annel0/tile-engine/internal/spatial"
	"github.com/annel0/tile-engine/internal/tile"
	"github.com/annel0/tile-engine/internal/undo"
	"github.com/annel0/tile-engine/internal/vec"
)

// coplanarShift — косметическое смещение вдоль общей нормали для пары
// сосуществующих плоских панелей на противоположных ориентациях; убирает
// артефакты копланарных поверхностей, не меняя идентичность и индексацию
const coplanarShift = 0.002

// Engine — движок размещения тайлов: хранилище записей («что»),
// хранилище чанков со ссылками («где»), пространственный индекс и
// эмиссия обратимых команд во внешний журнал. Один логический мутатор,
// без внутренних блокировок.
type Engine struct {
	cfg     config.EngineConfig
	index   *spatial.Index
	chunks  *chunkstore.Store
	records map[tile.TileKey]*tile.Record
	arena   recordArena

	log  undo.CommandLog
	bulk *undo.BulkCodec

	metrics *metrics.Set
}

// NewEngine создаёт движок поверх заданного рендерера и журнала команд.
// log может быть nil — тогда команды не эмитируются (например, при
// офлайн-перестроении в инструментах).
func NewEngine(renderer render.Renderer, geometry render.GeometrySource, log undo.CommandLog, cfg config.EngineConfig) (*Engine, error) {
	bulk, err := undo.NewBulkCodec()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		index:   spatial.NewIndex(cfg.BucketSize),
		chunks:  chunkstore.NewStore(renderer, geometry, cfg.ChunkCapacity, cfg.RegionSize),
		records: make(map[tile.TileKey]*tile.Record),
		log:     log,
		bulk:    bulk,
	}
	e.chunks.SetOrphanHandler(e.pruneOrphan)
	return e, nil
}

// SetMetrics подключает метрики движка и хранилища чанков (nil допустим)
func (e *Engine) SetMetrics(m *metrics.Set) {
	e.metrics = m
	e.chunks.SetMetrics(m)
}

// Count возвращает текущее население хранилища записей
func (e *Engine) Count() int {
	return len(e.records)
}

// Record возвращает копию записи тайла
func (e *Engine) Record(key tile.TileKey) (tile.Record, bool) {
	rec, ok := e.records[key]
	if !ok {
		return tile.Record{}, false
	}
	return *rec, true
}

// BeginBatch открывает батч-скоуп хранилища чанков
func (e *Engine) BeginBatch() {
	e.chunks.BeginBatch()
}

// EndBatch закрывает батч-скоуп хранилища чанков
func (e *Engine) EndBatch() error {
	return e.chunks.EndBatch()
}

// Place размещает тайл на позиции с заданной ориентацией. Точное
// совпадение ключа — замена на месте (тот же ключ, новые атрибуты,
// слот чанка обновляется вставкой с override-ключом). Иначе — скан
// конфликтов по ориентациям той же оси глубины; конфликт заменяется
// атомарно (стирание + размещение), кроме пары плоских панелей на
// точно противоположных ориентациях — те сосуществуют.
// Каждая мутация эмитирует пару команд do/undo в журнал.
func (e *Engine) Place(pos vec.Vec3Float, o tile.Orientation, attrs tile.Record) (tile.TileKey, error) {
	key, err := tile.EncodeKey(pos, o)
	if err != nil {
		return tile.InvalidKey, err
	}
	attrs.Key = key

	if old, exists := e.records[key]; exists {
		oldCopy := *old
		if err := e.replaceInPlace(key, attrs); err != nil {
			return tile.InvalidKey, err
		}
		e.metrics.IncReplacement()
		e.pushCommand("replace tile",
			func() { e.replayPlace(attrs) },
			func() { e.replayPlace(oldCopy) },
		)
		return key, nil
	}

	if conflicts := e.findConflicts(pos, o, attrs.Shape); len(conflicts) > 0 {
		displaced := make([]tile.Record, 0, len(conflicts))
		for _, conflictKey := range conflicts {
			displaced = append(displaced, *e.records[conflictKey])
		}

		e.chunks.BeginBatch()
		for _, conflictKey := range conflicts {
			if err := e.eraseInternal(conflictKey); err != nil {
				logging.LogError("Place: стирание конфликта %s: %v", conflictKey, err)
			}
		}
		err := e.placeInternal(attrs)
		if berr := e.chunks.EndBatch(); berr != nil {
			logging.LogError("Place: %v", berr)
		}
		if err != nil {
			return tile.InvalidKey, err
		}

		e.metrics.IncReplacement()
		e.metrics.SetLiveTiles(len(e.records))
		e.pushCommand("replace conflicting tile",
			func() {
				e.chunks.BeginBatch()
				for i := range displaced {
					e.replayErase(displaced[i].Key)
				}
				e.replayPlace(attrs)
				if err := e.chunks.EndBatch(); err != nil {
					logging.LogError("redo replace: %v", err)
				}
			},
			func() {
				e.chunks.BeginBatch()
				e.replayErase(attrs.Key)
				for i := range displaced {
					e.replayPlace(displaced[i])
				}
				if err := e.chunks.EndBatch(); err != nil {
					logging.LogError("undo replace: %v", err)
				}
			},
		)
		return key, nil
	}

	if err := e.placeInternal(attrs); err != nil {
		return tile.InvalidKey, err
	}
	e.metrics.IncPlacement()
	e.metrics.SetLiveTiles(len(e.records))
	e.pushCommand("place tile",
		func() { e.replayPlace(attrs) },
		func() { e.replayErase(key) },
	)
	return key, nil
}

// Erase стирает тайл: все четыре структуры вычищаются в один логический
// шаг. Отсутствующий ключ — no-op, не ошибка.
func (e *Engine) Erase(key tile.TileKey) (bool, error) {
	old, exists := e.records[key]
	if !exists {
		return false, nil
	}
	oldCopy := *old

	if err := e.eraseInternal(key); err != nil {
		return false, err
	}
	e.metrics.IncErase()
	e.metrics.SetLiveTiles(len(e.records))
	e.pushCommand("erase tile",
		func() { e.replayErase(key) },
		func() { e.replayPlace(oldCopy) },
	)
	return true, nil
}

// Patch правит атрибуты тайла, не трогая слот чанка: id террейна, tint,
// сдвиг UV и прочие поля, не меняющие идентичность и семейство. Попытка
// сменить форму или режим текстуры отклоняется — это операция Place.
func (e *Engine) Patch(key tile.TileKey, mutate func(*tile.Record)) error {
	rec, exists := e.records[key]
	if !exists {
		return fmt.Errorf("тайл %s не размещён", key)
	}

	oldCopy := *rec
	mutate(rec)
	rec.Key = oldCopy.Key // идентичность неизменна

	if rec.Shape != oldCopy.Shape || rec.TextureMode != oldCopy.TextureMode {
		*rec = oldCopy
		return fmt.Errorf("правка атрибутов не может менять семейство тайла %s: используйте Place", key)
	}

	newCopy := *rec
	if err := e.chunks.UpdateInstance(key, func(inst *render.Instance) {
		*inst = e.buildInstance(&newCopy, inst.Position.Sub(oldCopy.Position().Add(oldCopy.Offset)))
	}); err != nil {
		*rec = oldCopy
		return err
	}

	e.metrics.IncPatch()
	e.pushCommand("patch tile",
		func() { e.replayPatch(newCopy) },
		func() { e.replayPatch(oldCopy) },
	)
	return nil
}

// findConflicts собирает ВСЕ существующие тайлы, занимающие тот же
// концептуальный слот позиции: любую ориентацию с той же осью глубины.
// Пара плоских панелей на точно противоположных ориентациях конфликтом
// не считается. Возвращается полный список: благодаря исключению для
// плоской пары на одной оси могут легально жить два тайла, и замена
// обязана вытеснить обоих — иначе остаётся пара, которая не плоская
// противоположная и не одиночная.
func (e *Engine) findConflicts(pos vec.Vec3Float, o tile.Orientation, shape tile.Shape) []tile.TileKey {
	var conflicts []tile.TileKey
	for _, other := range tile.SameAxisOrientations(o.Axis()) {
		if other == o {
			continue
		}
		otherKey, err := tile.EncodeKey(pos, other)
		if err != nil {
			continue
		}
		existing, exists := e.records[otherKey]
		if !exists {
			continue
		}

		if shape.Flat() && existing.Shape.Flat() && other == o.Opposite() {
			// Плоские панели «спина к спине» сосуществуют
			continue
		}
		conflicts = append(conflicts, otherKey)
	}
	return conflicts
}

// coexistShift возвращает косметическое смещение вдоль нормали, если на
// противоположной ориентации уже живёт плоская панель
func (e *Engine) coexistShift(rec *tile.Record) vec.Vec3Float {
	if !rec.Shape.Flat() {
		return vec.Vec3Float{}
	}
	o := rec.Orientation()
	oppositeKey, err := tile.EncodeKey(rec.Position(), o.Opposite())
	if err != nil {
		return vec.Vec3Float{}
	}
	if existing, exists := e.records[oppositeKey]; exists && existing.Shape.Flat() {
		return o.Normal().Mul(coplanarShift)
	}
	return vec.Vec3Float{}
}

// buildInstance собирает экземпляр рендеринга из записи
func (e *Engine) buildInstance(rec *tile.Record, shift vec.Vec3Float) render.Instance {
	scale := rec.Scale
	if scale == (vec.Vec3Float{}) {
		scale = vec.Vec3Float{X: 1, Y: 1, Z: 1}
	}
	return render.Instance{
		Position:     rec.Position().Add(rec.Offset).Add(shift),
		Scale:        scale,
		Orientation:  rec.Orientation(),
		RotationStep: rec.RotationStep,
		Flip:         rec.Flip,
		TerrainID:    rec.TerrainID,
		UVShift:      rec.UVShift,
		Skew:         rec.Skew,
		Tint:         rec.Tint,
	}
}

// placeInternal выполняет размещение без эмиссии команд: слот чанка,
// ссылка, запись, ячейка индекса
func (e *Engine) placeInternal(attrs tile.Record) error {
	key := attrs.Key
	pos := attrs.Position()

	fam := chunkstore.FamilyKey{Shape: attrs.Shape, Mode: attrs.TextureMode}
	region := e.chunks.RegionForPos(pos)
	inst := e.buildInstance(&attrs, e.coexistShift(&attrs))

	if _, _, err := e.chunks.InsertInstance(fam, region, inst, key); err != nil {
		return err
	}

	rec := e.arena.acquire()
	*rec = attrs
	e.records[key] = rec

	if err := e.index.Insert(key, pos); err != nil {
		// Не должно случаться: ключа не было в записях
		logging.LogError("placeInternal: %v", err)
	}
	return nil
}

// replaceInPlace обновляет существующий тайл тем же ключом: старый слот
// освобождается, новый вставляется с override-ключом, запись правится
// на месте; индекс не трогается (тот же ключ, та же позиция)
func (e *Engine) replaceInPlace(key tile.TileKey, attrs tile.Record) error {
	e.chunks.BeginBatch()
	defer func() {
		if err := e.chunks.EndBatch(); err != nil {
			logging.LogError("replaceInPlace: %v", err)
		}
	}()

	if _, err := e.chunks.RemoveInstance(key); err != nil {
		logging.LogError("replaceInPlace: удаление старого слота %s: %v", key, err)
	}

	fam := chunkstore.FamilyKey{Shape: attrs.Shape, Mode: attrs.TextureMode}
	region := e.chunks.RegionForPos(attrs.Position())
	inst := e.buildInstance(&attrs, e.coexistShift(&attrs))

	if _, _, err := e.chunks.InsertInstance(fam, region, inst, key); err != nil {
		return err
	}

	if rec, exists := e.records[key]; exists {
		*rec = attrs
	} else {
		rec := e.arena.acquire()
		*rec = attrs
		e.records[key] = rec
	}
	return nil
}

// eraseInternal выполняет стирание без эмиссии команд
func (e *Engine) eraseInternal(key tile.TileKey) error {
	rec, exists := e.records[key]
	if !exists {
		return nil
	}

	_, err := e.chunks.RemoveInstance(key)
	e.index.Remove(key)
	delete(e.records, key)
	e.arena.release(rec)
	return err
}

// pruneOrphan вычищает ключ-сироту из записей и индекса; вызывается
// хранилищем чанков при освобождении чанка с висячими ссылками
func (e *Engine) pruneOrphan(key tile.TileKey) {
	if rec, exists := e.records[key]; exists {
		delete(e.records, key)
		e.arena.release(rec)
		e.index.Remove(key)
		logging.LogWarn("запись-сирота %s вычищена вслед за ссылкой", key)
	}
	e.metrics.SetLiveTiles(len(e.records))
}

// pushCommand эмитирует пару команд в журнал, если журнал подключён
func (e *Engine) pushCommand(label string, do, undoFn func()) {
	if e.log == nil {
		return
	}
	e.log.Push(undo.NewCommand(label, do, undoFn))
}

// replayPlace — идемпотентное применение размещения при реплее команды:
// существующий ключ заменяется на месте, отсутствующий размещается
func (e *Engine) replayPlace(rec tile.Record) {
	if _, exists := e.records[rec.Key]; exists {
		if err := e.replaceInPlace(rec.Key, rec); err != nil {
			logging.LogError("реплей размещения %s: %v", rec.Key, err)
		}
	} else if err := e.placeInternal(rec); err != nil {
		logging.LogError("реплей размещения %s: %v", rec.Key, err)
	}
	e.metrics.SetLiveTiles(len(e.records))
}

// replayErase — идемпотентное применение стирания при реплее команды
func (e *Engine) replayErase(key tile.TileKey) {
	if err := e.eraseInternal(key); err != nil {
		logging.LogError("реплей стирания %s: %v", key, err)
	}
	e.metrics.SetLiveTiles(len(e.records))
}

// replayPatch — идемпотентное применение правки атрибутов при реплее
func (e *Engine) replayPatch(recCopy tile.Record) {
	rec, exists := e.records[recCopy.Key]
	if !exists {
		logging.LogWarn("реплей правки: тайл %s не размещён", recCopy.Key)
		return
	}
	*rec = recCopy
	newCopy := recCopy
	if err := e.chunks.UpdateInstance(recCopy.Key, func(inst *render.Instance) {
		*inst = e.buildInstance(&newCopy, e.coexistShift(&newCopy))
	}); err != nil {
		logging.LogError("реплей правки %s: %v", recCopy.Key, err)
	}
}

// Stats возвращает сводку по хранилищу для диагностики
func (e *Engine) Stats() string {
	return fmt.Sprintf("PlacementEngine: %d тайлов, %d чанков, %d ссылок; %s",
		len(e.records), e.chunks.ChunkCount(), e.chunks.RefCount(), e.index.Stats())
}
