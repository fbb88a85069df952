package rega

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Pair is an extra element of the trailing xml block.
type Pair struct {
	Key   string
	Value string
}

// Response renders stdout followed by the xml block the control unit
// appends to every script result. Non-string results are JSON encoded.
func Response(stdout any, extra ...Pair) (string, error) {
	var b strings.Builder

	switch v := stdout.(type) {
	case string:
		b.WriteString(v)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return "", err
		}
		b.WriteString(strings.TrimSuffix(buf.String(), "\n"))
	}

	pairs := append([]Pair{
		{Key: "exec", Value: "rega.exe"},
		{Key: "sessionId", Value: ""},
		{Key: "httpUserAgent", Value: ""},
	}, extra...)

	b.WriteString("<xml>")
	for _, p := range pairs {
		b.WriteString("<" + p.Key + ">" + p.Value + "</" + p.Key + ">")
	}
	b.WriteString("</xml>")
	return b.String(), nil
}
