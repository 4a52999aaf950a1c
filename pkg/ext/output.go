package ext

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/wehubfusion/Courier/pkg/token"
)

// stdOutput writes its argument to the registry's sink. A list writes one
// event per element.
func (r *Registry) stdOutput(args []any) (any, error) {
	events := []any{arg(args, 0)}
	if list, ok := arg(args, 0).([]any); ok {
		events = list
	}
	for _, event := range events {
		if err := r.sink.Write(token.Stringify(event)); err != nil {
			r.logger.Error("Failed to write event", zap.Error(err))
			return nil, err
		}
	}
	return nil, nil
}

// splunkXML wraps each event in the Splunk modular input stream envelope:
// splunk_xml(candidate, time, index, host, source, sourcetype).
// Empty fields are omitted. A list candidate yields one envelope per item.
func splunkXML(args []any) (any, error) {
	fields := []struct {
		tag   string
		value string
	}{
		{"time", formatEventTime(arg(args, 1))},
		{"index", token.Stringify(arg(args, 2))},
		{"host", token.Stringify(arg(args, 3))},
		{"source", token.Stringify(arg(args, 4))},
		{"sourcetype", token.Stringify(arg(args, 5))},
	}

	items := []any{arg(args, 0)}
	if list, ok := arg(args, 0).([]any); ok {
		items = list
	}

	events := make([]any, 0, len(items))
	for _, item := range items {
		var buf bytes.Buffer
		buf.WriteString("<stream><event>")
		for _, f := range fields {
			if f.value == "" {
				continue
			}
			fmt.Fprintf(&buf, "<%s>", f.tag)
			if err := xml.EscapeText(&buf, []byte(f.value)); err != nil {
				return nil, err
			}
			fmt.Fprintf(&buf, "</%s>", f.tag)
		}
		buf.WriteString("<data>")
		if err := xml.EscapeText(&buf, []byte(token.Stringify(item))); err != nil {
			return nil, err
		}
		buf.WriteString("</data></event></stream>")
		events = append(events, buf.String())
	}
	return events, nil
}

func formatEventTime(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case int:
		return strconv.FormatFloat(float64(v), 'f', 3, 64)
	case int64:
		return strconv.FormatFloat(float64(v), 'f', 3, 64)
	case float64:
		return strconv.FormatFloat(v, 'f', 3, 64)
	case string:
		if v == "" {
			return ""
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return strconv.FormatFloat(f, 'f', 3, 64)
		}
		return v
	}
	return token.Stringify(value)
}
