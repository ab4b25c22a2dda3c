package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/annel0/tile-engine/internal/tile"
	"github.com/annel0/tile-engine/internal/vec"
	"github.com/dgraph-io/badger/v3"
)

// BadgerTileSetRepo хранит именованные наборы тайлов в BadgerDB.
// Значение — JSON-снимок плоского списка записей: авторитетные данные
// набора, из которых движок перестраивает все производные структуры.
type BadgerTileSetRepo struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

const tileSetKeyPrefix = "tileset:"

// tileSetDelta — сериализуемый снимок набора
type tileSetDelta struct {
	Name    string            `json:"name"`
	Records []tileRecordDelta `json:"records"`
}

// tileRecordDelta — одна запись тайла в JSON-формате. Ключ хранится
// упакованным: позиция и ориентация восстанавливаются из него.
type tileRecordDelta struct {
	Key          uint64     `json:"key"`
	Shape        uint8      `json:"shape"`
	TextureMode  uint8      `json:"texture_mode"`
	RotationStep uint8      `json:"rotation_step,omitempty"`
	Flip         bool       `json:"flip,omitempty"`
	TerrainID    uint8      `json:"terrain_id"`
	Offset       [3]float64 `json:"offset,omitempty"`
	Scale        [3]float64 `json:"scale,omitempty"`
	UVShift      [2]float64 `json:"uv_shift,omitempty"`
	Skew         float64    `json:"skew,omitempty"`
	Tint         [4]uint8   `json:"tint,omitempty"`
}

func toDelta(r tile.Record) tileRecordDelta {
	return tileRecordDelta{
		Key:          uint64(r.Key),
		Shape:        uint8(r.Shape),
		TextureMode:  uint8(r.TextureMode),
		RotationStep: r.RotationStep,
		Flip:         r.Flip,
		TerrainID:    r.TerrainID,
		Offset:       [3]float64{r.Offset.X, r.Offset.Y, r.Offset.Z},
		Scale:        [3]float64{r.Scale.X, r.Scale.Y, r.Scale.Z},
		UVShift:      r.UVShift,
		Skew:         r.Skew,
		Tint:         r.Tint,
	}
}

func fromDelta(d tileRecordDelta) tile.Record {
	return tile.Record{
		Key:          tile.TileKey(d.Key),
		Shape:        tile.Shape(d.Shape),
		TextureMode:  tile.TextureMode(d.TextureMode),
		RotationStep: d.RotationStep,
		Flip:         d.Flip,
		TerrainID:    d.TerrainID,
		Offset:       vec.Vec3Float{X: d.Offset[0], Y: d.Offset[1], Z: d.Offset[2]},
		Scale:        vec.Vec3Float{X: d.Scale[0], Y: d.Scale[1], Z: d.Scale[2]},
		UVShift:      d.UVShift,
		Skew:         d.Skew,
		Tint:         d.Tint,
	}
}

// NewBadgerTileSetRepo открывает хранилище наборов тайлов в dataPath
func NewBadgerTileSetRepo(dataPath string) (*BadgerTileSetRepo, error) {
	dbPath := filepath.Join(dataPath, "tilesets")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerTileSetRepo{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Close закрывает хранилище
func (r *BadgerTileSetRepo) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isReady {
		return nil
	}
	r.isReady = false
	return r.db.Close()
}

// SaveTileSet сохраняет снимок набора под именем name
func (r *BadgerTileSetRepo) SaveTileSet(ctx context.Context, name string, records []tile.Record) error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if !r.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	delta := tileSetDelta{
		Name:    name,
		Records: make([]tileRecordDelta, 0, len(records)),
	}
	for _, rec := range records {
		delta.Records = append(delta.Records, toDelta(rec))
	}

	data, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("ошибка сериализации набора: %w", err)
	}

	key := tileSetKeyPrefix + name
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// LoadTileSet загружает снимок набора. Несуществующий набор — пустой
// список, не ошибка.
func (r *BadgerTileSetRepo) LoadTileSet(ctx context.Context, name string) ([]tile.Record, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if !r.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := tileSetKeyPrefix + name
	var data []byte

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	var delta tileSetDelta
	if err := json.Unmarshal(data, &delta); err != nil {
		return nil, fmt.Errorf("ошибка десериализации набора: %w", err)
	}

	records := make([]tile.Record, 0, len(delta.Records))
	for _, d := range delta.Records {
		records = append(records, fromDelta(d))
	}
	return records, nil
}

// ListTileSets возвращает имена всех сохранённых наборов
func (r *BadgerTileSetRepo) ListTileSets(ctx context.Context) ([]string, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if !r.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(tileSetKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), tileSetKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода BadgerDB: %w", err)
	}
	return names, nil
}

// DeleteTileSet удаляет набор; несуществующий набор — no-op
func (r *BadgerTileSetRepo) DeleteTileSet(ctx context.Context, name string) error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if !r.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := tileSetKeyPrefix + name
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}
	return nil
}
