package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Константы валидации
const (
	MaxIdempotencyKeyLength = 128
	MaxAmount               = 1_000_000_000 // миллиард кредитов
	MaxPageLimit            = 100
)

var idempotencyKeyRegex = regexp.MustCompile(`^[A-Za-z0-9._:\-]+$`)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateIdempotencyKey проверяет значение заголовка Idempotency-Key.
// Пустой ключ допустим: запрос выполняется без защиты от повтора.
func ValidateIdempotencyKey(key string) error {
	if key == "" {
		return nil
	}
	if err := ValidateLength("Idempotency-Key", key, 1, MaxIdempotencyKeyLength); err != nil {
		return err
	}
	if !idempotencyKeyRegex.MatchString(key) {
		return fmt.Errorf("Idempotency-Key может содержать только латиницу, цифры и символы . _ : -")
	}
	return nil
}

// ValidateAmount проверяет сумму в кредитах.
func ValidateAmount(fieldName string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%s должна быть положительной", fieldName)
	}
	if amount > MaxAmount {
		return fmt.Errorf("%s не может превышать %d", fieldName, MaxAmount)
	}
	return nil
}

// ValidateUserID проверяет идентификатор пользователя.
func ValidateUserID(fieldName string, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%s: некорректный идентификатор", fieldName)
	}
	return nil
}

// ValidateNonEmpty проверяет, что строка не пустая.
func ValidateNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s не может быть пустым", fieldName)
	}
	return nil
}

// ClampPage приводит параметры пагинации к допустимым значениям.
func ClampPage(limit, offset, defaultLimit int) (int, int) {
	if limit <= 0 || limit > MaxPageLimit {
		limit = defaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
