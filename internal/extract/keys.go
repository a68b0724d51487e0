package extract

import (
	"bytes"
	"encoding/json"
	"iter"
)

// FindValues yields every value stored under key at any depth of doc, in
// document order. A matching member is yielded before its value is searched;
// arrays are searched element by element. Roots that are not objects yield
// nothing, as do malformed documents.
func FindValues(key string, doc json.RawMessage) iter.Seq[any] {
	return func(yield func(any) bool) {
		walkObject(key, doc, yield)
	}
}

// walkObject reports false once the consumer stops.
func walkObject(key string, raw json.RawMessage, yield func(any) bool) bool {
	if firstByte(raw) != '{' {
		return true
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return true
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return true
		}
		name, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return true
		}
		if name == key {
			var decoded any
			if err := json.Unmarshal(value, &decoded); err == nil && !yield(decoded) {
				return false
			}
		}
		switch firstByte(value) {
		case '{':
			if !walkObject(key, value, yield) {
				return false
			}
		case '[':
			var items []json.RawMessage
			if err := json.Unmarshal(value, &items); err != nil {
				continue
			}
			for _, item := range items {
				if !walkObject(key, item, yield) {
					return false
				}
			}
		}
	}
	return true
}

func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}
