package archivedb

import (
	"encoding/json"
	"strings"
	"time"
)

// Log is a structured log line, printed as a JSON object.
type Log struct {
	Where    string
	What     string
	When     time.Time
	Duration time.Duration
	Err      error
	Data     map[string]interface{}
}

func (l Log) String() string {
	buf := new(strings.Builder)
	buf.WriteString(`{"where": `)
	writeJSONString(buf, l.Where)
	buf.WriteString(`, "what": `)
	writeJSONString(buf, l.What)

	buf.WriteString(`, "when": "`)
	buf.Write(l.When.AppendFormat(make([]byte, 0, 64), time.RFC3339Nano))
	buf.WriteString(`", "duration": "`)
	buf.WriteString(l.Duration.String())
	buf.WriteString(`"`)

	if l.Err != nil {
		buf.WriteString(`, "err": `)
		writeJSONString(buf, l.Err.Error())
	}
	if len(l.Data) > 0 {
		b, err := json.Marshal(l.Data)
		if err != nil {
			buf.WriteString(`, "data_marshal_err": `)
			writeJSONString(buf, err.Error())
		} else {
			buf.WriteString(`, "data": `)
			buf.Write(b)
		}
	}
	buf.WriteByte('}')
	return buf.String()
}

// writeJSONString writes s as a JSON string, escaping control bytes.
func writeJSONString(buf *strings.Builder, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
