package postgres

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/linemk/naijahub/internal/gateway"
)

// builder собирает SQL и позиционные аргументы в порядке связывания.
type builder struct {
	args []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func quote(ident string) string { return pq.QuoteIdentifier(ident) }

func columnList(alias, columns string) (string, error) {
	if columns == "*" {
		return alias + ".*", nil
	}
	parts := strings.Split(columns, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return "", fmt.Errorf("empty column in %q", columns)
		}
		out = append(out, alias+"."+quote(p))
	}
	return strings.Join(out, ", "), nil
}

func (b *builder) selectSQL(q gateway.Query) (string, error) {
	if q.Table == "" {
		return "", errors.New("table is required")
	}

	cols, err := columnList("t", q.ColumnsOrStar())
	if err != nil {
		return "", err
	}
	for _, r := range q.Relations {
		sub, err := b.relationSQL(r, "t", 1)
		if err != nil {
			return "", err
		}
		cols += ", (" + sub + ") AS " + quote(r.Name())
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + cols + " FROM " + quote(q.Table) + " AS t")

	conds, err := b.where("t", q.Filter)
	if err != nil {
		return "", err
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			parts[i] = "t." + quote(o.Column)
			if o.Desc {
				parts[i] += " DESC"
			}
		}
		sb.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		sb.WriteString(" OFFSET " + strconv.Itoa(q.Offset))
	}

	return "SELECT row_to_json(q) FROM (" + sb.String() + ") AS q", nil
}

// relationSQL собирает коррелированный подзапрос, отдающий вложенные строки в JSON:
// массив для связи один-ко-многим, объект (или null) для связи к одной строке.
func (b *builder) relationSQL(r gateway.Relation, parent string, depth int) (string, error) {
	if r.Table == "" || r.ForeignKey == "" {
		return "", fmt.Errorf("relation %q needs a table and a foreign key", r.Name())
	}

	alias := "r" + strconv.Itoa(depth)
	cols, err := columnList(alias, r.ColumnsOrStar())
	if err != nil {
		return "", err
	}
	for _, n := range r.Nested {
		sub, err := b.relationSQL(n, alias, depth+1)
		if err != nil {
			return "", err
		}
		cols += ", (" + sub + ") AS " + quote(n.Name())
	}

	join := alias + "." + quote(r.ForeignKey) + " = " + parent + ".id"
	if r.ToOne {
		join = alias + ".id = " + parent + "." + quote(r.ForeignKey)
	}
	conds, err := b.where(alias, r.Filter)
	if err != nil {
		return "", err
	}
	conds = append([]string{join}, conds...)

	inner := "SELECT " + cols + " FROM " + quote(r.Table) + " AS " + alias + " WHERE " + strings.Join(conds, " AND ")
	x := "x" + strconv.Itoa(depth)
	if r.ToOne {
		return "SELECT row_to_json(" + x + ") FROM (" + inner + " LIMIT 1) AS " + x, nil
	}
	return "SELECT COALESCE(json_agg(row_to_json(" + x + ")), '[]'::json) FROM (" + inner + ") AS " + x, nil
}

var comparisons = map[gateway.Op]string{
	gateway.OpEq:  "=",
	gateway.OpNeq: "<>",
	gateway.OpGt:  ">",
	gateway.OpGte: ">=",
	gateway.OpLt:  "<",
	gateway.OpLte: "<=",
}

func (b *builder) where(alias string, f gateway.Filter) ([]string, error) {
	conds := make([]string, 0, len(f))
	for _, c := range f {
		col := alias + "." + quote(c.Column)
		switch c.Op {
		case gateway.OpILike:
			pattern := "%" + escapeLike(paramString(c.Value)) + "%"
			conds = append(conds, col+" ILIKE "+b.bind(pattern))
		case gateway.OpIn:
			values, _ := c.Value.([]any)
			strs := make([]string, len(values))
			for i, v := range values {
				strs[i] = paramString(v)
			}
			// pq передаёт массив без типа, сервер приводит его к типу колонки
			conds = append(conds, col+" = ANY("+b.bind(pq.Array(strs))+")")
		case gateway.OpIs:
			conds = append(conds, col+" IS NULL")
		default:
			cmp, ok := comparisons[c.Op]
			if !ok {
				return nil, fmt.Errorf("unsupported operator %q", c.Op)
			}
			conds = append(conds, col+" "+cmp+" "+b.bind(param(c.Value)))
		}
	}
	return conds, nil
}

func (b *builder) insertSQL(table string, records []map[string]any) (string, error) {
	if len(records) == 0 {
		return "", errors.New("nothing to insert")
	}

	cols := sortedKeys(records[0])
	if len(cols) == 0 {
		return "", errors.New("row has no columns")
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}

	tuples := make([]string, len(records))
	for i, rec := range records {
		if len(rec) != len(cols) {
			return "", fmt.Errorf("row %d has a different column set", i)
		}
		placeholders := make([]string, len(cols))
		for j, c := range cols {
			v, ok := rec[c]
			if !ok {
				return "", fmt.Errorf("row %d is missing column %q", i, c)
			}
			placeholders[j] = b.bind(sqlValue(v))
		}
		tuples[i] = "(" + strings.Join(placeholders, ", ") + ")"
	}

	return "INSERT INTO " + quote(table) + " AS t (" + strings.Join(quoted, ", ") + ") VALUES " +
		strings.Join(tuples, ", ") + " RETURNING row_to_json(t)", nil
}

func (b *builder) updateSQL(table string, f gateway.Filter, patch map[string]any) (string, error) {
	cols := sortedKeys(patch)
	if len(cols) == 0 {
		return "", errors.New("empty patch")
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = quote(c) + " = " + b.bind(sqlValue(patch[c]))
	}

	conds, err := b.where("t", f)
	if err != nil {
		return "", err
	}
	return "UPDATE " + quote(table) + " AS t SET " + strings.Join(sets, ", ") +
		" WHERE " + strings.Join(conds, " AND ") + " RETURNING row_to_json(t)", nil
}

func (b *builder) deleteSQL(table string, f gateway.Filter) (string, error) {
	conds, err := b.where("t", f)
	if err != nil {
		return "", err
	}
	return "DELETE FROM " + quote(table) + " AS t WHERE " + strings.Join(conds, " AND "), nil
}

// toRecords приводит структуру, map или их срез к map по колонкам
// по тем же json тегам, что уходят в REST шлюз.
func toRecords(rows any) ([]map[string]any, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("marshal rows: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}

	switch x := v.(type) {
	case map[string]any:
		return []map[string]any{x}, nil
	case []any:
		out := make([]map[string]any, len(x))
		for i, item := range x {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("row %d is not an object", i)
			}
			out[i] = m
		}
		return out, nil
	default:
		return nil, errors.New("rows must be an object or a list of objects")
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sqlValue превращает разобранное json значение в аргумент драйвера.
func sqlValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case json.Number:
		return x.String()
	case string, bool:
		return x
	case []any:
		strs := make([]string, len(x))
		for i, item := range x {
			strs[i] = paramString(item)
		}
		return pq.Array(strs)
	default:
		data, _ := json.Marshal(x)
		return string(data)
	}
}

// param пропускает значения, понятные драйверу, остальное переводит в строку.
func param(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int, int64, float64, time.Time:
		return x
	default:
		return paramString(x)
	}
}

func paramString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
