package cache

import "context"

// Mutation запись, влияние которой на кэш объявлено заранее: после успешного Fn
// инвалидируются все ключи из Invalidates, затем вызывается OnSuccess.
type Mutation[A, R any] struct {
	Fn          func(ctx context.Context, args A) (R, error)
	Invalidates func(args A, result R) []Key
	OnSuccess   func(args A, result R)
	OnError     func(args A, err error)
}

// Mutate выполняет m один раз с args. Неудачная мутация ничего не инвалидирует.
func Mutate[A, R any](ctx context.Context, c *Cache, m Mutation[A, R], args A) (R, error) {
	result, err := m.Fn(ctx, args)
	if err != nil {
		if m.OnError != nil {
			m.OnError(args, err)
		}
		return result, err
	}

	if m.Invalidates != nil {
		if keys := m.Invalidates(args, result); len(keys) > 0 {
			c.Invalidate(keys...)
		}
	}
	if m.OnSuccess != nil {
		m.OnSuccess(args, result)
	}
	return result, nil
}
