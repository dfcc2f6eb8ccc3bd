package http

import (
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/render"
)

// params значения запроса из JSON тела или формы
type params map[string]string

// readParams читает JSON объект или форму. Числа и булевы значения из JSON
// приводятся к строкам, как если бы пришли формой.
func readParams(r *http.Request) (params, error) {
	out := params{}
	if render.GetRequestContentType(r) == render.ContentTypeJSON {
		raw := map[string]interface{}{}
		if err := render.DecodeJSON(r.Body, &raw); err != nil {
			if stderrors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		for key, value := range raw {
			out[key] = stringify(value)
		}
		return out, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	for key := range r.Form {
		out[key] = r.Form.Get(key)
	}
	return out, nil
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func (p params) int64(key string) (int64, bool) {
	v, err := strconv.ParseInt(p[key], 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func parseID(raw string) (int64, bool) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
