package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set — метрики движка размещения тайлов. Регистрируются в дефолтном
// регистре через MustRegister; nil-Set допустим везде (метрики выключены).
//
// Метрики:
// * <ns>_placements_total / replacements_total / erases_total / patches_total
// * <ns>_chunk_syncs_total — синхронизации буферов чанков
// * <ns>_chunk_cleanups_total — освобождения опустевших чанков
// * <ns>_corruption_events_total — обнаруженные нарушения инвариантов
// * <ns>_live_tiles — текущее население
// * <ns>_batch_depth — глубина вложенности батч-скоупа
type Set struct {
	Placements       prometheus.Counter
	Replacements     prometheus.Counter
	Erases           prometheus.Counter
	Patches          prometheus.Counter
	ChunkSyncs       prometheus.Counter
	ChunkCleanups    prometheus.Counter
	CorruptionEvents prometheus.Counter
	LiveTiles        prometheus.Gauge
	BatchDepth       prometheus.Gauge
}

// NewSet создаёт и регистрирует набор метрик в дефолтном регистре
func NewSet(namespace string) *Set {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	s := &Set{
		Placements:       counter("placements_total", "Общее число размещений тайлов."),
		Replacements:     counter("replacements_total", "Общее число замен на месте и по конфликту."),
		Erases:           counter("erases_total", "Общее число стираний тайлов."),
		Patches:          counter("patches_total", "Общее число правок атрибутов."),
		ChunkSyncs:       counter("chunk_syncs_total", "Общее число синхронизаций буферов чанков."),
		ChunkCleanups:    counter("chunk_cleanups_total", "Общее число освобождений опустевших чанков."),
		CorruptionEvents: counter("corruption_events_total", "Общее число обнаруженных нарушений инвариантов."),
		LiveTiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_tiles",
			Help:      "Текущее число размещённых тайлов.",
		}),
		BatchDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_depth",
			Help:      "Текущая глубина вложенности батч-скоупа.",
		}),
	}

	prometheus.MustRegister(
		s.Placements, s.Replacements, s.Erases, s.Patches,
		s.ChunkSyncs, s.ChunkCleanups, s.CorruptionEvents,
		s.LiveTiles, s.BatchDepth,
	)
	return s
}

// IncPlacement — nil-безопасные хелперы: библиотечный код вызывает их,
// не проверяя, включены ли метрики.

func (s *Set) IncPlacement() {
	if s != nil {
		s.Placements.Inc()
	}
}

func (s *Set) IncReplacement() {
	if s != nil {
		s.Replacements.Inc()
	}
}

func (s *Set) IncErase() {
	if s != nil {
		s.Erases.Inc()
	}
}

func (s *Set) IncPatch() {
	if s != nil {
		s.Patches.Inc()
	}
}

func (s *Set) IncChunkSync() {
	if s != nil {
		s.ChunkSyncs.Inc()
	}
}

func (s *Set) IncChunkCleanup() {
	if s != nil {
		s.ChunkCleanups.Inc()
	}
}

func (s *Set) IncCorruption() {
	if s != nil {
		s.CorruptionEvents.Inc()
	}
}

func (s *Set) SetLiveTiles(n int) {
	if s != nil {
		s.LiveTiles.Set(float64(n))
	}
}

func (s *Set) SetBatchDepth(depth int) {
	if s != nil {
		s.BatchDepth.Set(float64(depth))
	}
}
