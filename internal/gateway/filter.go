package gateway

// Op операция сравнения над одной колонкой.
type Op string

const (
	OpEq    Op = "eq"
	OpNeq   Op = "neq"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpILike Op = "ilike"
	OpIn    Op = "in"
	OpIs    Op = "is"
)

type Condition struct {
	Column string
	Op     Op
	Value  any
}

// Filter конъюнкция условий. Методы-билдеры не меняют получателя.
type Filter []Condition

func Where() Filter { return nil }

func (f Filter) with(c Condition) Filter {
	out := make(Filter, len(f), len(f)+1)
	copy(out, f)
	return append(out, c)
}

func (f Filter) Eq(column string, v any) Filter  { return f.with(Condition{column, OpEq, v}) }
func (f Filter) Neq(column string, v any) Filter { return f.with(Condition{column, OpNeq, v}) }
func (f Filter) Gt(column string, v any) Filter  { return f.with(Condition{column, OpGt, v}) }
func (f Filter) Gte(column string, v any) Filter { return f.with(Condition{column, OpGte, v}) }
func (f Filter) Lt(column string, v any) Filter  { return f.with(Condition{column, OpLt, v}) }
func (f Filter) Lte(column string, v any) Filter { return f.with(Condition{column, OpLte, v}) }

// ILike отбирает строки, где колонка содержит substr без учёта регистра.
func (f Filter) ILike(column, substr string) Filter {
	return f.with(Condition{column, OpILike, substr})
}

func (f Filter) In(column string, values ...any) Filter {
	return f.with(Condition{column, OpIn, values})
}

func (f Filter) IsNull(column string) Filter {
	return f.with(Condition{column, OpIs, nil})
}

func (f Filter) Empty() bool { return len(f) == 0 }
