package placement

import "github.com/annel0/tile-engine/internal/tile"

// recordArena — явная арена записей размещения, принадлежащая хранилищу
// записей. Снижает аллокации на массовых операциях без скрытого
// процессно-глобального пула: выдача и возврат только через владельца.
type recordArena struct {
	free []*tile.Record
}

// acquire выдаёт обнулённую запись из арены
func (a *recordArena) acquire() *tile.Record {
	n := len(a.free)
	if n == 0 {
		return &tile.Record{}
	}
	rec := a.free[n-1]
	a.free = a.free[:n-1]
	*rec = tile.Record{}
	return rec
}

// release возвращает запись в арену. Вызывающий обязан не держать
// указатель после возврата: запись будет переиспользована.
func (a *recordArena) release(rec *tile.Record) {
	if rec == nil {
		return
	}
	a.free = append(a.free, rec)
}
