package repository

import (
	"context"
)

type memoryTxKey struct{}

type memoryTx struct {
	undo []func()
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func inMemoryTx(ctx context.Context) bool {
	_, ok := ctx.Value(memoryTxKey{}).(*memoryTx)
	return ok
}

// txBound хранилище, чтение которого ждёт завершения транзакций менеджера.
type txBound interface {
	bindTx(m *MemoryTxManager)
}

// MemoryTxManager сериализует транзакции над in-memory хранилищами
// и откатывает их изменения, если fn вернула ошибку.
// Хранилища, переданные в NewMemoryTxManager, вне транзакции видят
// только зафиксированное состояние.
type MemoryTxManager struct {
	gate chan struct{}
}

// NewMemoryTxManager создаёт менеджер транзакций и привязывает к нему stores.
func NewMemoryTxManager(stores ...txBound) *MemoryTxManager {
	m := &MemoryTxManager{gate: make(chan struct{}, 1)}
	for _, s := range stores {
		s.bindTx(m)
	}
	return m
}

// WithinTx выполняет fn атомарно относительно других транзакций менеджера.
// Ожидание начала транзакции прерывается отменой ctx.
func (m *MemoryTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inMemoryTx(ctx) {
		return fn(ctx)
	}

	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	tx := &memoryTx{}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, memoryTxKey{}, tx)); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// committed выполняет fn между транзакциями. Внутри транзакции или
// без привязанного менеджера fn выполняется сразу.
func (m *MemoryTxManager) committed(ctx context.Context, fn func()) error {
	if m == nil || inMemoryTx(ctx) {
		fn()
		return nil
	}
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()
	fn()
	return nil
}

func (m *MemoryTxManager) acquire(ctx context.Context) error {
	select {
	case m.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryTxManager) release() {
	<-m.gate
}

// onRollback регистрирует обратную операцию в текущей транзакции, если она есть.
func onRollback(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(memoryTxKey{}).(*memoryTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}
