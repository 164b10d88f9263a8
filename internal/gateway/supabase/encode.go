package supabase

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/linemk/naijahub/internal/gateway"
)

func selectParams(q gateway.Query) url.Values {
	params := filterParams(q.Filter)
	params.Set("select", selectClause(q.ColumnsOrStar(), q.Relations))
	for _, r := range q.Relations {
		addRelationFilters(params, "", r)
	}

	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := "asc"
			if o.Desc {
				dir = "desc"
			}
			parts[i] = o.Column + "." + dir
		}
		params.Set("order", strings.Join(parts, ","))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	return params
}

// selectClause собирает колонки и вложенные ресурсы, например
// "*,likes:tech_marketplace_likes(id),chats:marketplace_chats(*,messages:marketplace_messages(*))".
func selectClause(columns string, rels []gateway.Relation) string {
	parts := make([]string, 0, len(rels)+1)
	parts = append(parts, columns)
	for _, r := range rels {
		name := r.Table
		if r.ToOne && r.ForeignKey != "" {
			name += "!" + r.ForeignKey
		}
		if r.Alias != "" {
			name = r.Alias + ":" + name
		}
		parts = append(parts, name+"("+selectClause(r.ColumnsOrStar(), r.Nested)+")")
	}
	return strings.Join(parts, ",")
}

func addRelationFilters(params url.Values, prefix string, r gateway.Relation) {
	path := prefix + r.Name() + "."
	for _, c := range r.Filter {
		params.Add(path+c.Column, condition(c))
	}
	for _, n := range r.Nested {
		addRelationFilters(params, path, n)
	}
}

func filterParams(f gateway.Filter) url.Values {
	params := url.Values{}
	for _, c := range f {
		params.Add(c.Column, condition(c))
	}
	return params
}

func condition(c gateway.Condition) string {
	switch c.Op {
	case gateway.OpILike:
		return "ilike.*" + formatValue(c.Value) + "*"
	case gateway.OpIs:
		return "is.null"
	case gateway.OpIn:
		values, _ := c.Value.([]any)
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = quoteListValue(formatValue(v))
		}
		return "in.(" + strings.Join(parts, ",") + ")"
	default:
		return string(c.Op) + "." + formatValue(c.Value)
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// элементы списка со служебными символами берутся в двойные кавычки
func quoteListValue(s string) string {
	if !strings.ContainsAny(s, `,()"\ `) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// apiError покрывает тела ошибок и PostgREST, и storage.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
	Error   string `json:"error"`
}

func responseError(op string, status int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)

	msg := ae.Message
	if msg == "" {
		msg = ae.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	kind := gateway.KindQuery
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		kind = gateway.KindAuth
	case ae.Code == "42501", strings.HasPrefix(ae.Code, "PGRST30"):
		kind = gateway.KindAuth
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		kind = gateway.KindNetwork
	}

	return &gateway.Error{Kind: kind, Op: op, Status: status, Code: ae.Code, Message: msg}
}
