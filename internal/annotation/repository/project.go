package repository

import (
	"bytes"
	"encoding/json"
	"strings"
)

// project keeps only the named (possibly dotted) fields of a source.
func project(source []byte, fields []string) ([]byte, error) {
	if len(fields) == 0 {
		return source, nil
	}
	doc, err := decodeSource(source)
	if err != nil {
		return nil, err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return source, nil
	}
	out := map[string]any{}
	for _, f := range fields {
		segs := strings.Split(f, ".")
		var cur any = obj
		found := true
		for _, s := range segs {
			m, ok := cur.(map[string]any)
			if !ok {
				found = false
				break
			}
			if cur, ok = m[s]; !ok {
				found = false
				break
			}
		}
		if !found {
			continue
		}
		dst := out
		for _, s := range segs[:len(segs)-1] {
			next, ok := dst[s].(map[string]any)
			if !ok {
				next = map[string]any{}
				dst[s] = next
			}
			dst = next
		}
		dst[segs[len(segs)-1]] = cur
	}
	return json.Marshal(out)
}

func decodeSource(source []byte) (any, error) {
	d := json.NewDecoder(bytes.NewReader(source))
	d.UseNumber()
	var doc any
	if err := d.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
