package sink

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Separator joins nested keys.
const Separator = "_"

// Flat is a flattened JSON document with keys in document order.
type Flat struct {
	Keys   []string
	Values map[string]string
}

func (f *Flat) set(key, value string) {
	if _, exists := f.Values[key]; !exists {
		f.Keys = append(f.Keys, key)
	}
	f.Values[key] = value
}

// Flatten turns a JSON document into one column per leaf. Nested object keys are
// joined with Separator, arrays of scalars are joined with ", ", arrays holding
// objects or arrays are expanded with their index, and empty arrays and nulls
// become empty values. A document that is not an object is stored under
// "response".
func Flatten(body []byte) Flat {
	flat := Flat{Values: make(map[string]string)}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		flat.set("response", scalar(doc))
		return flat
	}
	flattenValue(&flat, "", doc)
	return flat
}

func flattenValue(flat *Flat, key string, v gjson.Result) {
	switch {
	case v.IsObject():
		v.ForEach(func(k, child gjson.Result) bool {
			flattenValue(flat, join(key, k.String()), child)
			return true
		})
	case v.IsArray():
		items := v.Array()
		if len(items) == 0 {
			flat.set(key, "")
			return
		}
		if allScalars(items) {
			parts := make([]string, 0, len(items))
			for _, item := range items {
				if item.Type != gjson.Null {
					parts = append(parts, scalar(item))
				}
			}
			flat.set(key, strings.Join(parts, ", "))
			return
		}
		for i, item := range items {
			flattenValue(flat, join(key, strconv.Itoa(i)), item)
		}
	default:
		flat.set(key, scalar(v))
	}
}

func join(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + Separator + key
}

func allScalars(items []gjson.Result) bool {
	for _, item := range items {
		if item.IsObject() || item.IsArray() {
			return false
		}
	}
	return true
}

func scalar(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return v.String()
	default:
		return v.Raw
	}
}
