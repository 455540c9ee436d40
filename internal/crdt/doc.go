package crdt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Origin указывает источник изменения документа
type Origin int

const (
	// OriginLocal - изменение сделано локальной транзакцией
	OriginLocal Origin = iota
	// OriginRemote - изменение пришло от другого пира
	OriginRemote
)

// ErrDocDestroyed возвращается при попытке работать с уничтоженным документом
var ErrDocDestroyed = errors.New("document destroyed")

// Event описывает одно логическое изменение коллекции.
// Наблюдатели получают ровно одно событие на транзакцию/update,
// сколько бы низкоуровневых операций оно ни содержало.
type Event struct {
	Collection string   // Collection имя затронутой коллекции
	EntityIDs  []string // EntityIDs идентификаторы затронутых сущностей
	Origin     Origin   // Origin локальное или удаленное изменение
}

// Doc представляет реплицируемый документ: набор именованных коллекций,
// каждая - map от entity id к сущности с per-field LWW регистрами.
// Все мутации происходят только внутри транзакции (Transact), поэтому
// одна логическая операция уходит к пирам атомарно, одним update.
type Doc struct {
	collections map[string]map[string]*Entry
	observers   map[string]map[int]func(Event)
	updateSubs  map[int]func(data []byte, origin Origin)
	clock       *LamportClock
	nextSubID   int
	destroyed   bool
	mu          sync.Mutex
}

// NewDoc создает новый пустой документ с собственными часами Лампорта
func NewDoc() *Doc {
	return NewDocWithNodeID("")
}

// NewDocWithNodeID создает документ с заданным node id.
// Пустой nodeID означает сгенерировать новый.
func NewDocWithNodeID(nodeID string) *Doc {
	clock := NewLamportClock()
	if nodeID != "" {
		clock = NewLamportClockWithNodeID(nodeID)
	}
	return &Doc{
		clock:       clock,
		collections: make(map[string]map[string]*Entry),
		observers:   make(map[string]map[int]func(Event)),
		updateSubs:  make(map[int]func([]byte, Origin)),
	}
}

// NodeID возвращает идентификатор узла этого документа
func (d *Doc) NodeID() string {
	return d.clock.GetNodeID()
}

// Txn представляет транзакцию над документом.
// Операции накапливаются и применяются атомарно после успешного
// завершения функции транзакции.
type Txn struct {
	doc *Doc
	ops []Op
}

// Set записывает одно поле сущности
func (t *Txn) Set(collection, entityID, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal field %q: %w", field, err)
	}

	t.ops = append(t.ops, Op{
		Collection: collection,
		EntityID:   entityID,
		Field:      field,
		Register: Register{
			Value:     raw,
			Timestamp: t.doc.clock.Tick(),
			NodeID:    t.doc.clock.GetNodeID(),
		},
	})
	return nil
}

// SetFields записывает несколько полей сущности за одну операцию.
// Если сущность была помечена удаленной, tombstone снимается -
// запись полей воскрешает сущность.
func (t *Txn) SetFields(collection, entityID string, fields map[string]any) error {
	// Детерминированный порядок полей внутри update
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := t.Set(collection, entityID, name, fields[name]); err != nil {
			return err
		}
	}

	if entry, ok := t.doc.lookup(collection, entityID); ok && entry.IsDeleted() {
		t.tombstone(collection, entityID, false)
	}
	return nil
}

// Delete помечает сущность как удаленную (soft delete).
// Физически регистры остаются, чтобы merge у других пиров был детерминированным.
func (t *Txn) Delete(collection, entityID string) {
	t.tombstone(collection, entityID, true)
}

func (t *Txn) tombstone(collection, entityID string, deleted bool) {
	raw, _ := json.Marshal(deleted)
	t.ops = append(t.ops, Op{
		Collection: collection,
		EntityID:   entityID,
		Register: Register{
			Value:     raw,
			Timestamp: t.doc.clock.Tick(),
			NodeID:    t.doc.clock.GetNodeID(),
		},
	})
}

// Transact выполняет функцию транзакции и атомарно применяет накопленные
// операции. При ошибке функции состояние документа не меняется.
// Наблюдатели и подписчики update вызываются не более одного раза
// на транзакцию, после освобождения внутренней блокировки.
func (d *Doc) Transact(fn func(tx *Txn) error) error {
	d.mu.Lock()

	if d.destroyed {
		d.mu.Unlock()
		return ErrDocDestroyed
	}

	txn := &Txn{doc: d}
	if err := fn(txn); err != nil {
		d.mu.Unlock()
		return err
	}

	if len(txn.ops) == 0 {
		d.mu.Unlock()
		return nil
	}

	// Применяем операции к состоянию
	for i := range txn.ops {
		d.applyOp(&txn.ops[i])
	}

	update := &Update{Ops: txn.ops}
	data, err := EncodeUpdate(update)
	if err != nil {
		d.mu.Unlock()
		return err
	}

	events := d.collectEvents(txn.ops, OriginLocal)
	subs, handlers := d.snapshotCallbacks(events)
	d.mu.Unlock()

	// Колбэки вызываются вне блокировки, чтобы наблюдатели могли читать документ
	for _, sub := range subs {
		sub(data, OriginLocal)
	}
	for i, ev := range events {
		for _, h := range handlers[i] {
			h(ev)
		}
	}

	return nil
}

// ApplyUpdate применяет сериализованный update от другого пира (или из
// локального лога). Merge коммутативен и идемпотентен: повторная доставка
// того же update не меняет состояние и не порождает событий.
func (d *Doc) ApplyUpdate(data []byte) error {
	update, err := DecodeUpdate(data)
	if err != nil {
		return err
	}

	d.mu.Lock()

	if d.destroyed {
		d.mu.Unlock()
		return ErrDocDestroyed
	}

	var applied []Op
	var maxTS int64
	for i := range update.Ops {
		op := &update.Ops[i]
		if op.Register.Timestamp > maxTS {
			maxTS = op.Register.Timestamp
		}
		if d.applyOp(op) {
			applied = append(applied, *op)
		}
	}

	if maxTS > 0 {
		d.clock.Update(maxTS)
	}

	// Дубликат или полностью устаревший update - событий нет
	if len(applied) == 0 {
		d.mu.Unlock()
		return nil
	}

	events := d.collectEvents(applied, OriginRemote)
	subs, handlers := d.snapshotCallbacks(events)
	d.mu.Unlock()

	for _, sub := range subs {
		sub(data, OriginRemote)
	}
	for i, ev := range events {
		for _, h := range handlers[i] {
			h(ev)
		}
	}

	return nil
}

// applyOp применяет одну операцию по правилу LWW.
// Возвращает true, если регистр был фактически обновлен.
// Вызывается под блокировкой.
func (d *Doc) applyOp(op *Op) bool {
	coll, ok := d.collections[op.Collection]
	if !ok {
		coll = make(map[string]*Entry)
		d.collections[op.Collection] = coll
	}

	entry, ok := coll[op.EntityID]
	if !ok {
		entry = NewEntry()
		coll[op.EntityID] = entry
	}

	if op.Field == "" {
		merged, changed := mergeRegister(entry.Tombstone, &op.Register)
		entry.Tombstone = merged
		return changed
	}

	merged, changed := mergeRegister(entry.Fields[op.Field], &op.Register)
	entry.Fields[op.Field] = merged
	return changed
}

// EncodeStateAsUpdate сериализует все текущее состояние документа как один
// update. Применение его к пустому документу дает эквивалентную реплику;
// используется для начальной синхронизации нового пира и компактации лога.
func (d *Doc) EncodeStateAsUpdate() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return nil, ErrDocDestroyed
	}

	var ops []Op
	collNames := make([]string, 0, len(d.collections))
	for name := range d.collections {
		collNames = append(collNames, name)
	}
	sort.Strings(collNames)

	for _, collName := range collNames {
		coll := d.collections[collName]
		ids := make([]string, 0, len(coll))
		for id := range coll {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			entry := coll[id]
			fields := make([]string, 0, len(entry.Fields))
			for f := range entry.Fields {
				fields = append(fields, f)
			}
			sort.Strings(fields)

			for _, f := range fields {
				ops = append(ops, Op{
					Collection: collName,
					EntityID:   id,
					Field:      f,
					Register:   *entry.Fields[f].Clone(),
				})
			}
			if entry.Tombstone != nil {
				ops = append(ops, Op{
					Collection: collName,
					EntityID:   id,
					Register:   *entry.Tombstone.Clone(),
				})
			}
		}
	}

	return EncodeUpdate(&Update{Ops: ops})
}

// Get возвращает копию сущности или nil, если ее нет.
// Tombstoned сущности тоже возвращаются - вызывающий проверяет IsDeleted.
func (d *Doc) Get(collection, entityID string) *Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.lookup(collection, entityID)
	if !ok {
		return nil
	}
	return entry.Clone()
}

// Entities возвращает копии всех сущностей коллекции (включая удаленные)
func (d *Doc) Entities(collection string) map[string]*Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := make(map[string]*Entry)
	for id, entry := range d.collections[collection] {
		result[id] = entry.Clone()
	}
	return result
}

// lookup возвращает сущность без копирования. Вызывается под блокировкой.
func (d *Doc) lookup(collection, entityID string) (*Entry, bool) {
	coll, ok := d.collections[collection]
	if !ok {
		return nil, false
	}
	entry, ok := coll[entityID]
	return entry, ok
}

// Observe регистрирует наблюдателя коллекции.
// Возвращает функцию отписки.
func (d *Doc) Observe(collection string, fn func(Event)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return func() {}
	}

	if d.observers[collection] == nil {
		d.observers[collection] = make(map[int]func(Event))
	}
	id := d.nextSubID
	d.nextSubID++
	d.observers[collection][id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if obs, ok := d.observers[collection]; ok {
			delete(obs, id)
		}
	}
}

// OnUpdate регистрирует подписчика на сериализованные updates (локальные
// и удаленные). Используется replica store для персистентности и
// транспортом для рассылки. Возвращает функцию отписки.
func (d *Doc) OnUpdate(fn func(data []byte, origin Origin)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return func() {}
	}

	id := d.nextSubID
	d.nextSubID++
	d.updateSubs[id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.updateSubs, id)
	}
}

// Destroy освобождает документ: отписывает всех наблюдателей и делает
// дальнейшие операции невозможными. Повторный вызов безопасен.
func (d *Doc) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.destroyed = true
	d.collections = make(map[string]map[string]*Entry)
	d.observers = make(map[string]map[int]func(Event))
	d.updateSubs = make(map[int]func([]byte, Origin))
}

// Destroyed сообщает, был ли документ уничтожен
func (d *Doc) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.destroyed
}

// collectEvents группирует операции в события по коллекциям.
// Вызывается под блокировкой.
func (d *Doc) collectEvents(ops []Op, origin Origin) []Event {
	byCollection := make(map[string]map[string]bool)
	var order []string
	for i := range ops {
		op := &ops[i]
		if byCollection[op.Collection] == nil {
			byCollection[op.Collection] = make(map[string]bool)
			order = append(order, op.Collection)
		}
		byCollection[op.Collection][op.EntityID] = true
	}

	events := make([]Event, 0, len(order))
	for _, coll := range order {
		ids := make([]string, 0, len(byCollection[coll]))
		for id := range byCollection[coll] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		events = append(events, Event{
			Collection: coll,
			EntityIDs:  ids,
			Origin:     origin,
		})
	}
	return events
}

// snapshotCallbacks копирует списки колбэков под блокировкой,
// чтобы вызывать их уже после ее освобождения.
func (d *Doc) snapshotCallbacks(events []Event) ([]func([]byte, Origin), [][]func(Event)) {
	subs := make([]func([]byte, Origin), 0, len(d.updateSubs))
	for _, fn := range d.updateSubs {
		subs = append(subs, fn)
	}

	handlers := make([][]func(Event), len(events))
	for i, ev := range events {
		for _, fn := range d.observers[ev.Collection] {
			handlers[i] = append(handlers[i], fn)
		}
	}
	return subs, handlers
}
