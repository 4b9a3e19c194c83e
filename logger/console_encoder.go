package logger

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	ansiReset = "\x1b[0m"
	ansiBold  = "\x1b[1m"
	ansiDim   = "\x1b[2m"

	colorTime      = "\x1b[38;5;107m"
	colorText      = "\x1b[38;5;223m"
	colorKey       = "\x1b[38;5;245m"
	colorID        = "\x1b[38;5;109m"
	colorNumber    = "\x1b[38;5;108m"
	colorWarn      = "\x1b[38;5;179m"
	colorWarnBg    = "\x1b[48;5;58m"
	colorError     = "\x1b[38;5;167m"
	colorErrorBg   = "\x1b[48;5;52m"
	colorComponent = "\x1b[38;5;208m"
)

// identityFields lead the field list so a line can be tied to its story at a glance
var identityFields = []string{FieldStoryKey, FieldTestKey, FieldJobID, FieldRunID}

var bufferPool = buffer.NewPool()

// consoleEncoder is a compact console layout:
//
//	13:04:35  x.tracker  Job finished  story_key=PROJ-1 job_id=5f1c status=successful
//
// Every field is printed as key=value. Stack traces attached to errors
// (errorVerbose) are left to the JSON log file.
type consoleEncoder struct {
	*zapcore.MapObjectEncoder
	color bool
}

func newConsoleEncoder(color bool) *consoleEncoder {
	return &consoleEncoder{MapObjectEncoder: zapcore.NewMapObjectEncoder(), color: color}
}

func (enc *consoleEncoder) Clone() zapcore.Encoder {
	clone := newConsoleEncoder(enc.color)
	for k, v := range enc.Fields {
		clone.Fields[k] = v
	}
	return clone
}

func (enc *consoleEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	all := zapcore.NewMapObjectEncoder()
	for k, v := range enc.Fields {
		all.Fields[k] = v
	}
	for _, f := range fields {
		f.AddTo(all)
	}

	line := bufferPool.Get()
	line.AppendString(enc.paint(colorTime, ent.Time.Format("15:04:05")))

	if label := enc.levelLabel(ent.Level); label != "" {
		line.AppendString("  ")
		line.AppendString(label)
	}
	if ent.LoggerName != "" {
		line.AppendString("  ")
		line.AppendString(enc.paint(colorComponent, abbreviateName(ent.LoggerName)))
	}
	line.AppendString("  ")
	line.AppendString(enc.paint(colorText, ent.Message))

	if rendered := enc.renderFields(all.Fields); rendered != "" {
		line.AppendString("  ")
		line.AppendString(rendered)
	}
	line.AppendString("\n")
	return line, nil
}

func (enc *consoleEncoder) renderFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == FieldError+"Verbose" {
			continue
		}
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		ri, rj := identityRank(keys[i]), identityRank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, enc.paint(colorKey, k+"=")+enc.paintValue(k, fields[k]))
	}
	return strings.Join(parts, " ")
}

func (enc *consoleEncoder) paintValue(key string, value interface{}) string {
	text := formatValue(value)
	switch {
	case identityRank(key) < len(identityFields):
		return enc.paint(colorID, text)
	case key == FieldError:
		return enc.paint(colorError, text)
	}
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return enc.paint(colorNumber, text)
	}
	return enc.paint(colorText, text)
}

func (enc *consoleEncoder) levelLabel(level zapcore.Level) string {
	switch level {
	case zapcore.InfoLevel:
		return ""
	case zapcore.DebugLevel:
		return enc.paint(ansiDim, "DEBUG")
	case zapcore.WarnLevel:
		return enc.paint(ansiBold+colorWarnBg+colorWarn, "WARN")
	default:
		return enc.paint(ansiBold+colorErrorBg+colorError, level.CapitalString())
	}
}

func (enc *consoleEncoder) paint(color, text string) string {
	if !enc.color {
		return text
	}
	return color + text + ansiReset
}

func identityRank(key string) int {
	for i, k := range identityFields {
		if k == key {
			return i
		}
	}
	return len(identityFields)
}

// abbreviateName shortens the first segment of dotted names: xray.tracker -> x.tracker
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 && parts[0] != "" {
		return parts[0][:1] + "." + strings.Join(parts[1:], ".")
	}
	return name
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return val
	case []interface{}:
		items := make([]string, len(val))
		for i, item := range val {
			items[i] = formatValue(item)
		}
		return "[" + strings.Join(items, " ") + "]"
	default:
		return fmt.Sprint(val)
	}
}
