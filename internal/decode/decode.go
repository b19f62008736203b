package decode

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Text flattens a raw transport frame into a string. It accepts text, raw
// bytes, already-parsed structures, or nothing at all, and never fails: every
// bad input collapses to an empty string, which downstream treats as
// "no payload".
func Text(frame any) string {
	switch v := frame.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return sanitizeUTF8(v)
	case json.RawMessage:
		return sanitizeUTF8(v)
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func sanitizeUTF8(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}
