package chunkstore

import (
	"fmt"

	"github.com/annel0/tile-engine/internal/logging"
	"github.com/annel0/tile-engine/internal/metrics"
	"github.com/annel0/tile-engine/internal/render"
	"github.com/annel0/tile-engine/internal/tile"
	"github.com/annel0/tile-engine/internal/vec"
)

// Ref — указательный слой хранилища: единственное место, знающее, где
// физически живёт экземпляр тайла. Логическая идентичность (TileKey)
// отделена от физического расположения (чанк/слот), поэтому замена на
// месте не требует трогать обе стороны в хрупком порядке.
type Ref struct {
	Family     FamilyKey
	Region     RegionID
	ChunkIndex int
	Slot       int
}

// family — чанки одного (форма × режим текстуры): плоский массив плюс
// вторичный реестр по областям
type family struct {
	chunks  []*Chunk
	regions map[RegionID][]*Chunk
}

// Store — хранилище чанков: семейства контейнеров append/swap-remove,
// таблица ссылок (ключ -> чанк/слот) и координатор батчей. Доступ только
// из одного логического потока редактирования — без блокировок.
type Store struct {
	renderer      render.Renderer
	geometry      render.GeometrySource
	chunkCapacity int
	regionSize    float64

	families  map[FamilyKey]*family
	refs      map[tile.TileKey]Ref
	nextBatch render.BatchID

	// Состояние батч-скоупа (см. batch.go)
	batchDepth     int
	touched        map[*Chunk]struct{}
	pendingCleanup []*Chunk

	// onOrphan вызывается для ключей-сирот, вычищенных при освобождении
	// чанка, чтобы владелец записей убрал их из остальных структур
	onOrphan func(tile.TileKey)

	metrics *metrics.Set
}

// NewStore создаёт хранилище чанков поверх заданного рендерера
func NewStore(renderer render.Renderer, geometry render.GeometrySource, chunkCapacity int, regionSize float64) *Store {
	if chunkCapacity <= 0 {
		chunkCapacity = 512
	}
	if regionSize <= 0 {
		regionSize = 64.0
	}
	return &Store{
		renderer:      renderer,
		geometry:      geometry,
		chunkCapacity: chunkCapacity,
		regionSize:    regionSize,
		families:      make(map[FamilyKey]*family),
		refs:          make(map[tile.TileKey]Ref),
		nextBatch:     1,
		touched:       make(map[*Chunk]struct{}),
	}
}

// SetMetrics подключает метрики хранилища (nil допустим)
func (s *Store) SetMetrics(m *metrics.Set) {
	s.metrics = m
}

// SetOrphanHandler устанавливает обработчик ключей-сирот
func (s *Store) SetOrphanHandler(fn func(tile.TileKey)) {
	s.onOrphan = fn
}

// RegionSize возвращает размер ячейки области
func (s *Store) RegionSize() float64 {
	return s.regionSize
}

// RegionForPos вычисляет область для позиции при текущем размере ячейки
func (s *Store) RegionForPos(pos vec.Vec3Float) RegionID {
	return RegionFor(pos, s.regionSize)
}

// InsertInstance находит или лениво создаёт чанк семейства
// (shape, mode, region), добавляет экземпляр новым слотом на живом
// счётчике и записывает ссылку. override — точный ключ, под которым
// записывается слот; tile.InvalidKey означает «вывести ключ из
// трансформации экземпляра». При замене на месте вызывающий обязан
// передать ключ, который уже держит в остальных структурах, — иначе
// ключ «уплывёт» от накопленных смещений трансформации.
func (s *Store) InsertInstance(famKey FamilyKey, region RegionID, inst render.Instance, override tile.TileKey) (tile.TileKey, Ref, error) {
	key := override
	if key == tile.InvalidKey {
		derived, err := tile.EncodeKey(inst.Position, inst.Orientation)
		if err != nil {
			return tile.InvalidKey, Ref{}, err
		}
		key = derived
	}

	if _, exists := s.refs[key]; exists {
		return tile.InvalidKey, Ref{}, fmt.Errorf("ключ %s уже размещён: удалите экземпляр перед повторной вставкой", key)
	}

	chunk := s.chunkWithSpace(famKey, region)
	slot := chunk.insert(key, inst)

	s.renderer.SetInstance(chunk.Batch, slot, inst)
	s.renderer.SetVisibleCount(chunk.Batch, chunk.count)
	s.touch(chunk)

	ref := Ref{Family: famKey, Region: region, ChunkIndex: chunk.Index, Slot: slot}
	s.refs[key] = ref
	return key, ref, nil
}

// RemoveInstance удаляет экземпляр тайла из его чанка. Отсутствующий
// ключ — no-op (removed=false). Недостающая запись в прямой карте чанка
// при живой ссылке — восстановимое повреждение: предпринимается линейный
// проход по обратной карте, и только затем тайл вычищается с громкой
// диагностикой.
func (s *Store) RemoveInstance(key tile.TileKey) (removed bool, err error) {
	ref, exists := s.refs[key]
	if !exists {
		return false, nil
	}

	chunk, cerr := s.chunkFor(key, ref)
	if cerr != nil {
		// Ссылка указывает в никуда: вычищаем её, остальное — забота владельца записей
		delete(s.refs, key)
		s.metrics.IncCorruption()
		logging.LogError("RemoveInstance: %v", cerr)
		return false, cerr
	}

	slot, ok := chunk.keyToSlot[key]
	if !ok {
		slot, ok = s.rescueSlot(chunk, key)
		if !ok {
			delete(s.refs, key)
			s.metrics.IncCorruption()
			cerr := &CorruptionError{
				Key: key, Family: ref.Family, ChunkIndex: ref.ChunkIndex,
				Detail: "ключ есть в таблице ссылок, но отсутствует в обеих картах чанка",
			}
			logging.LogError("RemoveInstance: %v", cerr)
			return false, cerr
		}
	}

	movedKey, moved := chunk.removeAt(key, slot)
	if moved {
		// Перемещённый тайл теперь живёт в освободившемся слоте:
		// обновляем его ссылку и слот на стороне рендерера
		movedRef := s.refs[movedKey]
		movedRef.Slot = slot
		s.refs[movedKey] = movedRef
		s.renderer.SetInstance(chunk.Batch, slot, chunk.instances[slot])
	}

	s.renderer.SetVisibleCount(chunk.Batch, chunk.count)
	s.touch(chunk)
	delete(s.refs, key)

	if chunk.count == 0 {
		s.scheduleCleanup(chunk)
	}
	return true, nil
}

// UpdateInstance правит экземпляр тайла на месте, не трогая слот чанка
// (правка атрибутов: id террейна, сдвиг UV и т.п.)
func (s *Store) UpdateInstance(key tile.TileKey, mutate func(*render.Instance)) error {
	ref, exists := s.refs[key]
	if !exists {
		return fmt.Errorf("ключ %s не размещён", key)
	}

	chunk, err := s.chunkFor(key, ref)
	if err != nil {
		s.metrics.IncCorruption()
		return err
	}

	slot, ok := chunk.keyToSlot[key]
	if !ok {
		s.metrics.IncCorruption()
		return &CorruptionError{
			Key: key, Family: ref.Family, ChunkIndex: ref.ChunkIndex,
			Detail: "ключ есть в таблице ссылок, но отсутствует в прямой карте чанка",
		}
	}

	mutate(&chunk.instances[slot])
	s.renderer.SetInstance(chunk.Batch, slot, chunk.instances[slot])
	s.touch(chunk)
	return nil
}

// InstanceOf возвращает копию текущего экземпляра тайла
func (s *Store) InstanceOf(key tile.TileKey) (render.Instance, bool) {
	ref, exists := s.refs[key]
	if !exists {
		return render.Instance{}, false
	}
	chunk, err := s.chunkFor(key, ref)
	if err != nil {
		return render.Instance{}, false
	}
	slot, ok := chunk.keyToSlot[key]
	if !ok {
		return render.Instance{}, false
	}
	return chunk.instances[slot], true
}

// Ref возвращает ссылку тайла
func (s *Store) Ref(key tile.TileKey) (Ref, bool) {
	ref, ok := s.refs[key]
	return ref, ok
}

// RefCount возвращает размер таблицы ссылок
func (s *Store) RefCount() int {
	return len(s.refs)
}

// EachRef обходит таблицу ссылок; возврат false прерывает обход
func (s *Store) EachRef(fn func(key tile.TileKey, ref Ref) bool) {
	for key, ref := range s.refs {
		if !fn(key, ref) {
			return
		}
	}
}

// EachChunk обходит все чанки всех семейств вместе с их фактической
// позицией в массиве семейства; возврат false прерывает обход
func (s *Store) EachChunk(fn func(fam FamilyKey, arrayIndex int, c *Chunk) bool) {
	for famKey, fam := range s.families {
		for i, c := range fam.chunks {
			if !fn(famKey, i, c) {
				return
			}
		}
	}
}

// ChunkAt возвращает чанк семейства по индексу массива
func (s *Store) ChunkAt(famKey FamilyKey, index int) (*Chunk, bool) {
	fam, exists := s.families[famKey]
	if !exists || index < 0 || index >= len(fam.chunks) {
		return nil, false
	}
	return fam.chunks[index], true
}

// ChunkCount возвращает общее число живых чанков
func (s *Store) ChunkCount() int {
	total := 0
	for _, fam := range s.families {
		total += len(fam.chunks)
	}
	return total
}

// Clear освобождает все чанки и опустошает хранилище.
// Состояние батч-скоупа сбрасывается.
func (s *Store) Clear() {
	for _, fam := range s.families {
		for _, c := range fam.chunks {
			s.renderer.ReleaseBatch(c.Batch)
		}
	}
	s.families = make(map[FamilyKey]*family)
	s.refs = make(map[tile.TileKey]Ref)
	s.batchDepth = 0
	s.touched = make(map[*Chunk]struct{})
	s.pendingCleanup = nil
	s.metrics.SetBatchDepth(0)
}

// chunkWithSpace находит в области незаполненный чанк или лениво создаёт новый
func (s *Store) chunkWithSpace(famKey FamilyKey, region RegionID) *Chunk {
	fam, exists := s.families[famKey]
	if !exists {
		fam = &family{regions: make(map[RegionID][]*Chunk)}
		s.families[famKey] = fam
	}

	for _, c := range fam.regions[region] {
		if !c.Full() {
			return c
		}
	}

	batch := s.nextBatch
	s.nextBatch++

	c := newChunk(famKey, region, len(fam.chunks), batch, s.chunkCapacity)
	s.renderer.EnsureBatch(batch, s.chunkCapacity, s.geometry.TemplateFor(famKey.Shape, famKey.Mode))

	fam.chunks = append(fam.chunks, c)
	fam.regions[region] = append(fam.regions[region], c)
	return c
}

// chunkFor разрешает ссылку в чанк, проверяя идентичность: чанк обязан
// существовать, быть заявленного семейства и области. Любое расхождение —
// сигнал повреждения, не нормальное состояние.
func (s *Store) chunkFor(key tile.TileKey, ref Ref) (*Chunk, error) {
	fam, exists := s.families[ref.Family]
	if !exists {
		return nil, &CorruptionError{Key: key, Family: ref.Family, ChunkIndex: ref.ChunkIndex,
			Detail: "семейство не существует"}
	}
	if ref.ChunkIndex < 0 || ref.ChunkIndex >= len(fam.chunks) {
		return nil, &CorruptionError{Key: key, Family: ref.Family, ChunkIndex: ref.ChunkIndex,
			Detail: fmt.Sprintf("индекс чанка вне массива семейства (размер %d)", len(fam.chunks))}
	}
	c := fam.chunks[ref.ChunkIndex]
	if c.Region != ref.Region {
		return nil, &CorruptionError{Key: key, Family: ref.Family, ChunkIndex: ref.ChunkIndex,
			Detail: fmt.Sprintf("область чанка %d не совпадает со ссылкой %d", c.Region, ref.Region)}
	}
	return c, nil
}

// rescueSlot — линейный проход по обратной карте в попытке найти ключ,
// отсутствующий в прямой карте. Восстановимое повреждение: при успехе
// прямая карта чинится, операция продолжается с предупреждением.
func (s *Store) rescueSlot(chunk *Chunk, key tile.TileKey) (int, bool) {
	for slot, k := range chunk.slotToKey {
		if k == key {
			logging.LogWarn("прямая карта чанка %s потеряла ключ %s; восстановлено по обратной карте (слот %d)",
				chunk, key, slot)
			chunk.keyToSlot[key] = slot
			return slot, true
		}
	}
	return 0, false
}

// cleanupChunk освобождает опустевший чанк: вычищает ключи-сироты, чьи
// ссылки всё ещё указывают на этот чанк (недостижимо при корректном
// порядке erase -> cleanup, но компонент обязан защищаться), убирает
// чанк из реестра области и массива семейства, перенумеровывает
// последующие чанки вместе с их ссылками и освобождает батч рендерера.
func (s *Store) cleanupChunk(c *Chunk) {
	if c.count != 0 {
		// Чанк успели заселить заново внутри того же батч-скоупа
		return
	}

	fam, exists := s.families[c.Family]
	if !exists || c.Index >= len(fam.chunks) || fam.chunks[c.Index] != c {
		// Уже вычищен (например, дважды запланирован в одном скоупе)
		return
	}

	// Сироты: ссылки, указывающие именно на этот объект чанка
	for key, ref := range s.refs {
		if ref.Family == c.Family && ref.ChunkIndex == c.Index && fam.chunks[ref.ChunkIndex] == c {
			logging.LogWarn("ключ-сирота %s указывал на освобождаемый %s; вычищен", key, c)
			delete(s.refs, key)
			s.metrics.IncCorruption()
			if s.onOrphan != nil {
				s.onOrphan(key)
			}
		}
	}

	// Убираем из реестра области
	regionChunks := fam.regions[c.Region]
	for i, rc := range regionChunks {
		if rc == c {
			regionChunks = append(regionChunks[:i], regionChunks[i+1:]...)
			break
		}
	}
	if len(regionChunks) == 0 {
		delete(fam.regions, c.Region)
	} else {
		fam.regions[c.Region] = regionChunks
	}

	// Убираем из массива семейства и перенумеровываем хвост: каждая
	// живая ссылка обязана снова указывать на свой фактический чанк,
	// а не на освобождённый или сдвинутый
	fam.chunks = append(fam.chunks[:c.Index], fam.chunks[c.Index+1:]...)
	for i := c.Index; i < len(fam.chunks); i++ {
		shifted := fam.chunks[i]
		shifted.Index = i
		shifted.EachKey(func(key tile.TileKey, slot int) bool {
			ref, ok := s.refs[key]
			if !ok {
				logging.LogWarn("ключ %s в прямой карте %s без ссылки при перенумерации", key, shifted)
				return true
			}
			ref.ChunkIndex = i
			s.refs[key] = ref
			return true
		})
	}

	if len(fam.chunks) == 0 {
		delete(s.families, c.Family)
	}

	s.renderer.ReleaseBatch(c.Batch)
	s.metrics.IncChunkCleanup()
}
