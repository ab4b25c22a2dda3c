package chunkstore

import (
	"errors"
	"fmt"

	"github.com/annel0/tile-engine/internal/tile"
)

// ErrBatchUnderflow — закрытие батч-скоупа, который не был открыт.
// Состояние при этом защитно сбрасывается, но ошибка не глотается.
var ErrBatchUnderflow = errors.New("EndBatch без соответствующего BeginBatch")

// CorruptionError — нарушение перекрёстных инвариантов хранилища:
// TileRef указывает на несуществующий или чужой чанк, либо прямая карта
// чанка не содержит ключ. Затронутые записи вычищаются для восстановления
// согласованности; диагностика несёт достаточно деталей для воспроизведения.
type CorruptionError struct {
	Key        tile.TileKey
	Family     FamilyKey
	ChunkIndex int
	Detail     string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("повреждение хранилища: %s, семейство %s, чанк %d: %s",
		e.Key, e.Family, e.ChunkIndex, e.Detail)
}
