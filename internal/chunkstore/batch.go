package chunkstore

import "github.com/annel0/tile-engine/internal/logging"

// Координатор батчей: реентерабельный (со счётчиком глубины) скоуп,
// откладывающий синхронизацию буферов чанков и освобождение опустевших
// чанков до закрытия самого внешнего скоупа. Счётчик глубины — не
// примитив конкурентности, а оптимизация вложенных вызовов: сколько бы
// операций ни тронуло чанк внутри скоупа, Commit по нему будет ровно один.

// BeginBatch открывает батч-скоуп. Наборы отложенной работы сбрасываются
// только на переходе глубины 0 -> 1.
func (s *Store) BeginBatch() {
	if s.batchDepth == 0 {
		s.touched = make(map[*Chunk]struct{})
		s.pendingCleanup = s.pendingCleanup[:0]
	}
	s.batchDepth++
	s.metrics.SetBatchDepth(s.batchDepth)
}

// EndBatch закрывает батч-скоуп. На переходе 1 -> 0 выполняется ровно
// одна синхронизация на каждый затронутый чанк, а затем — строго после
// всех синхронизаций — отложенные освобождения чанков (освобождение
// может удалить чанк; трогать удалённый чанк при синхронизации — это
// use-after-free). Закрытие неоткрытого скоупа — ошибка вызывающего:
// сообщается и защитно сбрасывает состояние, но не глотается.
func (s *Store) EndBatch() error {
	if s.batchDepth == 0 {
		logging.LogError("EndBatch при нулевой глубине: состояние батча сброшено")
		s.touched = make(map[*Chunk]struct{})
		s.pendingCleanup = nil
		return ErrBatchUnderflow
	}

	s.batchDepth--
	s.metrics.SetBatchDepth(s.batchDepth)
	if s.batchDepth > 0 {
		return nil
	}

	for c := range s.touched {
		s.renderer.Commit(c.Batch)
		s.metrics.IncChunkSync()
	}
	s.touched = make(map[*Chunk]struct{})

	cleanups := s.pendingCleanup
	s.pendingCleanup = nil
	for _, c := range cleanups {
		s.cleanupChunk(c)
	}
	return nil
}

// BatchDepth возвращает текущую глубину вложенности
func (s *Store) BatchDepth() int {
	return s.batchDepth
}

// touch помечает чанк затронутым. Вне батч-скоупа синхронизация
// немедленная.
func (s *Store) touch(c *Chunk) {
	if s.batchDepth > 0 {
		s.touched[c] = struct{}{}
		return
	}
	s.renderer.Commit(c.Batch)
	s.metrics.IncChunkSync()
}

// scheduleCleanup планирует освобождение опустевшего чанка. Внутри
// батч-скоупа освобождение откладывается до закрытия внешнего скоупа:
// до этого момента ни одно место хранения не освобождается и не
// переиспользуется под другой тайл.
func (s *Store) scheduleCleanup(c *Chunk) {
	if s.batchDepth > 0 {
		for _, pending := range s.pendingCleanup {
			if pending == c {
				return
			}
		}
		s.pendingCleanup = append(s.pendingCleanup, c)
		return
	}
	s.cleanupChunk(c)
}
