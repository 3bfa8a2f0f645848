// Package idempotency хранит результаты запросов с заголовком Idempotency-Key,
// чтобы повтор запроса возвращал тот же результат, а не создавал второй заказ.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInProgress запрос с этим ключом ещё выполняется.
var ErrInProgress = errors.New("idempotency: request in progress")

// pendingValue значение ключа, пока запрос выполняется.
const pendingValue = "pending"

// Store хранилище ключей идемпотентности.
type Store interface {
	// Reserve занимает ключ. Если ключ уже завершён, возвращает сохранённое значение и reserved=false.
	// Если запрос с ключом ещё выполняется, возвращает ErrInProgress.
	Reserve(ctx context.Context, key string, ttl time.Duration) (value string, reserved bool, err error)
	// Complete сохраняет результат для ключа.
	Complete(ctx context.Context, key, value string, ttl time.Duration) error
	// Release освобождает незавершённый ключ, чтобы запрос можно было повторить.
	Release(ctx context.Context, key string) error
}

// Key ключ идемпотентности в пространстве пользователя.
func Key(userID int64, requestKey string) string {
	return fmt.Sprintf("escrow:idem:%d:%s", userID, requestKey)
}
