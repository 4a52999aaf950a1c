package ext

import (
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// timeStr2Str re-formats a time string from one strftime format to another.
// Values that are not strings, or that do not parse, are returned unchanged.
// "%s" in the output format is replaced by the Unix timestamp.
func timeStr2Str(args []any) (any, error) {
	value, ok := arg(args, 0).(string)
	if !ok {
		return arg(args, 0), nil
	}
	from, _ := arg(args, 1).(string)
	to, _ := arg(args, 2).(string)

	parsed, err := strftime.Parse(from, value)
	if err != nil {
		return value, nil
	}
	return strftime.Format(expandTimestamp(to, parsed), parsed), nil
}

// expandTimestamp substitutes unescaped %s directives with the epoch seconds of t.
func expandTimestamp(format string, t time.Time) string {
	if !strings.Contains(format, "%s") {
		return format
	}
	epoch := strconv.FormatInt(t.Unix(), 10)
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i+1 >= len(format) {
			sb.WriteByte(format[i])
			continue
		}
		switch format[i+1] {
		case 's':
			sb.WriteString(epoch)
		default:
			sb.WriteByte('%')
			sb.WriteByte(format[i+1])
		}
		i++
	}
	return sb.String()
}
