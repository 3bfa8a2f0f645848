package syncutil

import (
	"context"
	"hash/fnv"
)

const defaultShards = 256

// KeyedMutex набор мьютексов на каналах, выбираемых по ключу.
// Ожидание захвата прерывается отменой контекста.
// Разные ключи могут попасть в один шард, поэтому держать одновременно
// два ключа одного KeyedMutex нельзя.
type KeyedMutex struct {
	shards []chan struct{}
}

// NewKeyedMutex создаёт набор из shards мьютексов (256, если shards <= 0).
func NewKeyedMutex(shards int) *KeyedMutex {
	if shards <= 0 {
		shards = defaultShards
	}
	m := &KeyedMutex{shards: make([]chan struct{}, shards)}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// Lock захватывает мьютекс ключа. Возвращает функцию освобождения
// либо ошибку контекста, если захват не дождался.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	shard := m.shards[m.index(key)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.shards)))
}
