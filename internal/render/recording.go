package render

// RecordingRenderer — тестовый дублёр Renderer: хранит записанные слоты
// и считает вызовы Commit по батчам. Используется тестами батчинга
// (ровно один Commit на затронутый чанк при закрытии скоупа).
type RecordingRenderer struct {
	batches  map[BatchID]*recordedBatch
	Commits  map[BatchID]int
	Released []BatchID
}

type recordedBatch struct {
	geom      GeometryRef
	instances map[int]Instance
	visible   int
}

// NewRecordingRenderer создаёт пустой записывающий рендерер
func NewRecordingRenderer() *RecordingRenderer {
	return &RecordingRenderer{
		batches: make(map[BatchID]*recordedBatch),
		Commits: make(map[BatchID]int),
	}
}

func (r *RecordingRenderer) EnsureBatch(id BatchID, capacity int, geom GeometryRef) {
	if _, exists := r.batches[id]; exists {
		return
	}
	r.batches[id] = &recordedBatch{
		geom:      geom,
		instances: make(map[int]Instance),
	}
}

func (r *RecordingRenderer) SetInstance(id BatchID, slot int, inst Instance) {
	if b, exists := r.batches[id]; exists {
		b.instances[slot] = inst
	}
}

func (r *RecordingRenderer) SetVisibleCount(id BatchID, count int) {
	if b, exists := r.batches[id]; exists {
		b.visible = count
	}
}

func (r *RecordingRenderer) Commit(id BatchID) {
	r.Commits[id]++
}

func (r *RecordingRenderer) ReleaseBatch(id BatchID) {
	delete(r.batches, id)
	r.Released = append(r.Released, id)
}

// Instance возвращает записанный слот батча
func (r *RecordingRenderer) Instance(id BatchID, slot int) (Instance, bool) {
	b, exists := r.batches[id]
	if !exists {
		return Instance{}, false
	}
	inst, ok := b.instances[slot]
	return inst, ok
}

// VisibleCount возвращает записанное видимое количество батча
func (r *RecordingRenderer) VisibleCount(id BatchID) int {
	if b, exists := r.batches[id]; exists {
		return b.visible
	}
	return 0
}

// BatchCount возвращает число живых батчей
func (r *RecordingRenderer) BatchCount() int {
	return len(r.batches)
}

// TotalCommits возвращает суммарное число вызовов Commit
func (r *RecordingRenderer) TotalCommits() int {
	total := 0
	for _, n := range r.Commits {
		total += n
	}
	return total
}
