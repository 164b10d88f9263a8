// Package gateway единственная граница с удалённым хранилищем: таблицы, серверные
// процедуры и файлы. Личность вызывающего передаётся в контексте (см. auth),
// и каждая реализация пробрасывает её, чтобы работали политики RLS хранилища.
package gateway

import (
	"context"
)

// Tables даёт доступ к таблицам хранилища с фильтрами. Запись видна
// следующему чтению, здесь ничего не буферизуется и не повторяется.
type Tables interface {
	// Select декодирует подходящие строки вместе с объявленными связями в dest (указатель на срез).
	Select(ctx context.Context, q Query, dest any) error
	// Insert пишет одну строку или срез строк. Вставленные строки декодируются в dest, если он не nil.
	Insert(ctx context.Context, table string, rows any, dest any) error
	// Update применяет patch ко всем строкам, подходящим под f. Обновлённые строки декодируются в dest, если он не nil.
	Update(ctx context.Context, table string, f Filter, patch any, dest any) error
	Delete(ctx context.Context, table string, f Filter) error
}

// Procedures вызывает серверные функции по имени.
type Procedures interface {
	Invoke(ctx context.Context, name string, payload any, dest any) error
}

// Blobs хранит загруженные файлы.
type Blobs interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
	// PublicURL однозначно определяется бакетом и путём.
	PublicURL(bucket, path string) string
}

// Query описывает чтение.
type Query struct {
	Table     string
	Columns   string // "*", если пусто
	Filter    Filter
	Relations []Relation
	Order     []Order
	Limit     int
	Offset    int
}

type Order struct {
	Column string
	Desc   bool
}

// Relation объявляет связанные строки, вкладываемые в каждую строку результата под Name().
//
// Для связи один-ко-многим ForeignKey колонка в Table, ссылающаяся на id
// родительской строки. Для связи к одной строке (ToOne) ForeignKey колонка родителя,
// ссылающаяся на id в Table.
type Relation struct {
	Table      string
	Alias      string
	ForeignKey string
	Columns    string
	ToOne      bool
	Filter     Filter
	Nested     []Relation
}

// Name ключ, под которым возвращаются вложенные строки.
func (r Relation) Name() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.Table
}

func (q Query) ColumnsOrStar() string {
	if q.Columns == "" {
		return "*"
	}
	return q.Columns
}

func (r Relation) ColumnsOrStar() string {
	if r.Columns == "" {
		return "*"
	}
	return r.Columns
}
