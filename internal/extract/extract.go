// Package extract pulls display text, numeric labels, and auxiliary metadata
// out of heterogeneous model and judge responses. Every extraction rule is an
// ordered list of field paths evaluated first-match-wins; a path that hits a
// missing key, wrong type, or out-of-range index simply falls through to the
// next candidate.
package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	apperrors "github.com/AlbusWei/auto-ai-testing/internal/core/errors"
	"github.com/AlbusWei/auto-ai-testing/internal/httpcall"
)

// numberPattern matches a signed decimal or a bare integer substring.
var numberPattern = regexp.MustCompile(`[-+]?\d*\.\d+|\d+`)

// outputPaths is the probe order for display text, most specific API shapes first.
var outputPaths = []string{
	"output",
	"data.output",
	"result",
	"choices.0.message.content",
	"choices.0.text",
	"message",
	"text",
	"answer",
	"data.answer",
	"outputs.answer",
	"outputs.output_text",
}

// scalarLabelPaths is the probe order for a single score value.
var scalarLabelPaths = []string{
	"score",
	"data.score",
	"result.score",
	"outputs.score",
	"answer",
	"data.answer",
}

// listLabelPaths is the probe order for score lists.
var listLabelPaths = []string{
	"data",
	"scores",
	"result.scores",
}

// metadataKeys are top-level session fields copied through verbatim.
var metadataKeys = []string{
	"conversation_id",
	"task_id",
	"message_id",
	"mode",
	"event",
	"id",
	"created_at",
}

// usageKeys are fields of metadata.usage copied through with a usage_ prefix.
var usageKeys = []string{
	"prompt_tokens",
	"completion_tokens",
	"total_tokens",
	"total_price",
	"currency",
	"latency",
	"prompt_unit_price",
	"completion_unit_price",
	"prompt_price",
	"completion_price",
	"prompt_price_unit",
	"completion_price_unit",
}

// OutputText extracts a display string from a model response. JSON bodies are
// probed along outputPaths; non-JSON bodies are returned unchanged. Valid JSON
// always yields some string: when no path matches, the parsed document is
// re-serialized as a last resort.
func OutputText(res *httpcall.Response) string {
	body := string(res.Body)

	if !strings.Contains(res.ContentType(), "application/json") {
		return body
	}

	// The declared content-type may lie; fall back to the raw text.
	if !gjson.Valid(body) {
		return body
	}

	doc := gjson.Parse(body)

	for _, path := range outputPaths {
		val := doc.Get(path)
		if !val.Exists() {
			continue
		}

		if val.Type == gjson.String {
			if strings.Contains(path, "answer") {
				if msg, ok := unwrapEncodedMessage(val.String()); ok {
					return msg
				}
			}

			return val.String()
		}

		// An object value with a string message field is unwrapped directly.
		if val.IsObject() {
			if msg := val.Get("message"); msg.Type == gjson.String {
				return msg.String()
			}
		}
	}

	return reserialize(body)
}

// unwrapEncodedMessage handles double-encoded answer strings: when the string
// itself is a JSON object or array carrying a string message field, that
// message is returned instead.
func unwrapEncodedMessage(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)

	wrapped := (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"))
	if !wrapped || !gjson.Valid(trimmed) {
		return "", false
	}

	msg := gjson.Parse(trimmed).Get("message")
	if msg.Type == gjson.String {
		return msg.String(), true
	}

	return "", false
}

func reserialize(body string) string {
	var parsed any
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return body
	}

	out, err := json.Marshal(parsed)
	if err != nil {
		return body
	}

	return string(out)
}

// Label extracts a score from a judge response: a single number, a list of
// numbers, or the full ordered list when plain text carries several numeric
// substrings. Plain text with no numeric content fails with ErrNoScore.
func Label(res *httpcall.Response) (Value, error) {
	body := string(res.Body)

	if gjson.Valid(body) {
		doc := gjson.Parse(body)
		if doc.IsObject() {
			if v, ok := labelFromJSON(doc); ok {
				return v, nil
			}
		}
	}

	return labelFromText(body)
}

func labelFromJSON(doc gjson.Result) (Value, bool) {
	for _, path := range scalarLabelPaths {
		val := doc.Get(path)

		if val.Type == gjson.Number {
			return Number(val.Float()), true
		}

		if val.Type == gjson.String {
			if m := numberPattern.FindString(val.String()); m != "" {
				return parseNumber(m), true
			}
		}
	}

	for _, path := range listLabelPaths {
		val := doc.Get(path)
		if !val.IsArray() {
			continue
		}

		var scores []float64

		val.ForEach(func(_, item gjson.Result) bool {
			switch {
			case item.Type == gjson.Number:
				scores = append(scores, item.Float())
			case item.IsObject():
				if s := item.Get("score"); s.Type == gjson.Number {
					scores = append(scores, s.Float())
				}
			}

			return true
		})

		if len(scores) > 0 {
			return Numbers(scores), true
		}
	}

	// Last resort: first bare number among the top-level values, in document order.
	var found *Value

	doc.ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.Number {
			num := Number(v.Float())
			found = &num

			return false
		}

		return true
	})

	if found != nil {
		return *found, true
	}

	return Value{}, false
}

func labelFromText(body string) (Value, error) {
	matches := numberPattern.FindAllString(body, -1)

	switch len(matches) {
	case 0:
		return Value{}, fmt.Errorf("%w: %q", apperrors.ErrNoScore, snippet(body, 80))
	case 1:
		return parseNumber(matches[0]), nil
	default:
		nums := make([]float64, 0, len(matches))
		for _, m := range matches {
			nums = append(nums, parseFloat(m))
		}

		return Numbers(nums), nil
	}
}

// Metadata copies session and usage fields out of a JSON object response.
// Absent fields are omitted, never defaulted; non-object bodies yield an
// empty mapping.
func Metadata(res *httpcall.Response) map[string]any {
	meta := map[string]any{}

	body := string(res.Body)
	if !gjson.Valid(body) {
		return meta
	}

	doc := gjson.Parse(body)
	if !doc.IsObject() {
		return meta
	}

	for _, key := range metadataKeys {
		if v := doc.Get(key); v.Exists() {
			meta[key] = v.Value()
		}
	}

	usage := doc.Get("metadata.usage")
	if usage.IsObject() {
		for _, key := range usageKeys {
			if v := usage.Get(key); v.Exists() {
				meta["usage_"+key] = v.Value()
			}
		}
	}

	return meta
}

// MetadataColumns is the stable column order for detail-mode metadata fields.
func MetadataColumns() []string {
	cols := make([]string, 0, len(metadataKeys)+len(usageKeys))
	cols = append(cols, metadataKeys...)

	for _, key := range usageKeys {
		cols = append(cols, "usage_"+key)
	}

	return cols
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)

	return f
}

func parseNumber(s string) Value {
	return Number(parseFloat(s))
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n]
}

// Normalize renders a float as an int when it is mathematically whole.
func Normalize(f float64) any {
	if math.Abs(f-math.Round(f)) < 1e-9 {
		return int64(math.Round(f))
	}

	return f
}
