package cache

import "strings"

// Key идентифицирует кэшируемый запрос: сначала тип сущности, затем параметры.
type Key []string

func NewKey(parts ...string) Key { return Key(parts) }

func (k Key) String() string { return strings.Join(k, "/") }

// With возвращает удлинённый ключ, не меняя k.
func (k Key) With(parts ...string) Key {
	out := make(Key, 0, len(k)+len(parts))
	out = append(out, k...)
	return append(out, parts...)
}

// HasPrefix сравнивает сегменты целиком: listings/tech префикс listings/tech/x,
// но не listings/technology.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
