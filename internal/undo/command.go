package undo

import "github.com/google/uuid"

// Command — пара идемпотентных операций do/undo одной логической правки.
// Оба замыкания несут скопированное состояние, а не разделяемые ссылки:
// команда обязана реплеиться независимо и не в порядке с живым пулом
// объектов — живые объекты, стоявшие за Do, к моменту Undo могут быть
// уже переиспользованы.
type Command struct {
	ID    uuid.UUID
	Label string
	Do    func()
	Undo  func()
}

// NewCommand создаёт команду с новым идентификатором операции
func NewCommand(label string, do, undo func()) Command {
	return Command{
		ID:    uuid.New(),
		Label: label,
		Do:    do,
		Undo:  undo,
	}
}

// CommandLog — журнал команд хоста (внешняя система undo/redo).
// Гарантии хоста: каждая пара вызывается не более одного раза на
// направление за действие пользователя, и Do всегда вызывается раньше,
// чем Undo вообще рассматривается.
type CommandLog interface {
	Push(cmd Command)
}

// MemoryLog — журнал команд в памяти для тестов и инструментов.
// Push обрезает redo-хвост, как это делает обычный стек undo редактора.
type MemoryLog struct {
	commands []Command
	cursor   int // число команд, чьё Do применено
}

// NewMemoryLog создаёт пустой журнал
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Push добавляет уже применённую команду, отбрасывая redo-хвост
func (l *MemoryLog) Push(cmd Command) {
	l.commands = append(l.commands[:l.cursor], cmd)
	l.cursor++
}

// Undo откатывает последнюю применённую команду
func (l *MemoryLog) Undo() bool {
	if l.cursor == 0 {
		return false
	}
	l.cursor--
	l.commands[l.cursor].Undo()
	return true
}

// Redo повторяет последнюю откаченную команду
func (l *MemoryLog) Redo() bool {
	if l.cursor >= len(l.commands) {
		return false
	}
	l.commands[l.cursor].Do()
	l.cursor++
	return true
}

// Len возвращает число команд в журнале
func (l *MemoryLog) Len() int {
	return len(l.commands)
}
