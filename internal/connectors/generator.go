package connectors

import "context"

// Generator — внешняя генеративная возможность: по тексту возвращает текст или ошибку.
// Никакого контракта сверх этого у ядра нет, реализации взаимозаменяемы.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
