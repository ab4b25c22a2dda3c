package placement

import (
	"fmt"

	"github.com/annel0/tile-engine/internal/chunkstore"
	"github.com/annel0/tile-engine/internal/tile"
)

// Issue — одна находка валидатора
type Issue struct {
	Key    tile.TileKey
	Detail string
}

func (i Issue) String() string {
	if i.Key != tile.InvalidKey {
		return fmt.Sprintf("%s: %s", i.Key, i.Detail)
	}
	return i.Detail
}

// Report — результат проверки целостности. Errors — нарушенные
// инварианты перекрёстных структур; Warnings — подозрительные, но не
// фатальные расхождения.
type Report struct {
	Errors   []Issue
	Warnings []Issue
}

// OK сообщает, что ошибок не найдено
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

func (r *Report) String() string {
	return fmt.Sprintf("ValidationReport: %d ошибок, %d предупреждений",
		len(r.Errors), len(r.Warnings))
}

func (r *Report) errf(key tile.TileKey, format string, args ...interface{}) {
	r.Errors = append(r.Errors, Issue{Key: key, Detail: fmt.Sprintf(format, args...)})
}

func (r *Report) warnf(key tile.TileKey, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, Issue{Key: key, Detail: fmt.Sprintf(format, args...)})
}

// Validate проверяет перекрёстную согласованность всех структур
// хранилища: записи, ссылки, карты чанков, позиции в массивах семейств
// и население пространственного индекса. Только чтение — состояние не
// меняется, чинить находки валидатор не пытается.
func (e *Engine) Validate() *Report {
	report := &Report{}

	// Запись -> ссылка
	for key := range e.records {
		ref, ok := e.chunks.Ref(key)
		if !ok {
			report.errf(key, "запись без ссылки")
			continue
		}

		chunk, ok := e.chunks.ChunkAt(ref.Family, ref.ChunkIndex)
		if !ok {
			report.errf(key, "ссылка на несуществующий чанк %s[%d]", ref.Family, ref.ChunkIndex)
			continue
		}
		if got, ok := chunk.KeyAt(ref.Slot); !ok {
			report.errf(key, "слот %d чанка %s не занят", ref.Slot, chunk)
		} else if got != key {
			report.errf(key, "слот %d чанка %s занят ключом %s", ref.Slot, chunk, got)
		}
	}

	// Ссылка -> запись
	e.chunks.EachRef(func(key tile.TileKey, ref chunkstore.Ref) bool {
		if _, exists := e.records[key]; !exists {
			report.errf(key, "ссылка без записи (чанк %s[%d], слот %d)",
				ref.Family, ref.ChunkIndex, ref.Slot)
		}
		return true
	})

	// Внутренняя согласованность чанков и позиции в массивах семейств
	e.chunks.EachChunk(func(fam chunkstore.FamilyKey, arrayIndex int, c *chunkstore.Chunk) bool {
		if c.Family != fam {
			report.errf(tile.InvalidKey, "чанк %s лежит в семействе %s", c, fam)
		}
		if c.Index != arrayIndex {
			report.errf(tile.InvalidKey, "чанк %s: Index=%d, фактическая позиция %d",
				c, c.Index, arrayIndex)
		}

		seen := 0
		c.EachKey(func(key tile.TileKey, slot int) bool {
			seen++
			if got, ok := c.SlotOf(key); !ok || got != slot {
				report.errf(key, "карты чанка %s рассогласованы: слот %d против %d", c, slot, got)
			}
			return true
		})
		if seen != c.Count() {
			report.errf(tile.InvalidKey, "чанк %s: счётчик %d, ключей в картах %d",
				c, c.Count(), seen)
		}
		if c.Count() == 0 {
			report.warnf(tile.InvalidKey, "пустой чанк %s не освобождён", c)
		}
		return true
	})

	// Пространственный индекс: проверка только населения — позиция
	// выводится из ключа, поэтому содержимое ячеек не может разойтись
	// иначе как вместе с размером
	if e.index.Count() != len(e.records) {
		report.errf(tile.InvalidKey, "индекс держит %d ключей при %d записях",
			e.index.Count(), len(e.records))
	}

	return report
}
