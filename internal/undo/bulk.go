package undo

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/tile-engine/internal/tile"
)

// BulkCodec кодирует массовые операции: вместо пары команд на каждый
// тайл все затронутые записи сериализуются фиксированными бинарными
// записями, буфер целиком сжимается zstd, и пара команд оперирует одним
// сжатым блобом. Раскодирование ленивое — только когда do/undo реально
// реплеится.
type BulkCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewBulkCodec создаёт кодек с настройками компрессии по умолчанию
func NewBulkCodec() (*BulkCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания компрессора: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания декомпрессора: %w", err)
	}
	return &BulkCodec{enc: enc, dec: dec}, nil
}

// Encode сериализует записи в сжатый блоб: uint32 счётчик плюс
// фиксированные 48-байтные записи, затем zstd поверх всего буфера
func (c *BulkCodec) Encode(records []tile.Record) ([]byte, error) {
	raw := make([]byte, 4, 4+len(records)*tile.RecordSize)
	binary.LittleEndian.PutUint32(raw, uint32(len(records)))

	for i := range records {
		raw = records[i].AppendBinary(raw)
	}

	return c.enc.EncodeAll(raw, nil), nil
}

// Decode восстанавливает массив записей из сжатого блоба в исходном порядке
func (c *BulkCodec) Decode(blob []byte) ([]tile.Record, error) {
	raw, err := c.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка декомпрессии блоба: %w", err)
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("блоб массовой операции обрезан: %d байт", len(raw))
	}

	count := int(binary.LittleEndian.Uint32(raw))
	expected := 4 + count*tile.RecordSize
	if len(raw) != expected {
		return nil, fmt.Errorf("блоб массовой операции повреждён: %d байт вместо %d для %d записей",
			len(raw), expected, count)
	}

	records := make([]tile.Record, 0, count)
	for i := 0; i < count; i++ {
		rec, err := tile.DecodeRecord(raw[4+i*tile.RecordSize:])
		if err != nil {
			return nil, fmt.Errorf("запись %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
