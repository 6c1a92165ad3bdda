// Package eval normalizes heterogeneous server result payloads into one
// evaluation model. Normalization never fails: anything unparseable degrades
// to UNKNOWN and the raw payload stays available for diagnostics.
package eval

import (
	"math"
	"strconv"
	"strings"

	"github.com/czpavel/visionfeed/internal/models"
)

// Normalize converts a raw server context into an Evaluation.
//
// fallback is the OK/NOK string resolved from the configured result field
// path, used when oknokSource is "result_field" or when the context root
// carries no usable result. latencyMS is the client-measured round trip,
// used when the server reports no completion time.
func Normalize(ctx models.Context, fallback string, latencyMS int, oknokSource string) models.Evaluation {
	if ctx == nil {
		return models.Evaluation{
			Status:         models.StatusError,
			CompleteTimeMS: latencyMS,
		}
	}

	var resultBool *bool
	if oknokSource == "context_result" {
		resultBool = extractResultBool(ctx["result"])
	}

	var status models.EvalStatus
	var oknok string
	switch {
	case resultBool != nil && *resultBool:
		status, oknok = models.StatusOK, "OK"
	case resultBool != nil && !*resultBool:
		status, oknok = models.StatusNOK, "NOK"
	default:
		oknok = normalizeOKNOK(fallback)
		switch oknok {
		case "OK":
			status = models.StatusOK
		case "NOK":
			status = models.StatusNOK
		default:
			status = models.StatusUnknown
		}
	}

	completeS := extractCompleteTime(ctx["completeTime"])
	completeMS := latencyMS
	if completeS != nil {
		completeMS = int(math.Round(*completeS * 1000.0))
	}

	detected := 0
	if rects, ok := ctx["detectedRectangles"].([]any); ok {
		detected = len(rects)
	}

	return models.Evaluation{
		Status:         status,
		ResultBool:     resultBool,
		OKNOK:          oknok,
		CompleteTimeS:  completeS,
		CompleteTimeMS: completeMS,
		DetectedCount:  detected,
	}
}

// ResolveField walks a dotted field path into the context and returns the
// value as an OK/NOK string when possible.
func ResolveField(ctx models.Context, field string) string {
	if field == "" || ctx == nil {
		return ""
	}
	var value any = map[string]any(ctx)
	for _, part := range strings.Split(field, ".") {
		m, ok := value.(map[string]any)
		if !ok {
			return ""
		}
		value, ok = m[part]
		if !ok {
			return ""
		}
	}
	switch v := value.(type) {
	case bool:
		if v {
			return "OK"
		}
		return "NOK"
	case string:
		return v
	}
	return ""
}

func extractResultBool(value any) *bool {
	switch v := value.(type) {
	case bool:
		return &v
	case float64:
		// JSON numbers decode as float64.
		if v == 1 {
			return boolPtr(true)
		}
		if v == 0 {
			return boolPtr(false)
		}
	case int:
		if v == 1 {
			return boolPtr(true)
		}
		if v == 0 {
			return boolPtr(false)
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "ok", "true", "1":
			return boolPtr(true)
		case "nok", "ng", "false", "0":
			return boolPtr(false)
		}
	}
	return nil
}

func extractCompleteTime(value any) *float64 {
	switch v := value.(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return &f
		}
	}
	return nil
}

func normalizeOKNOK(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "ok", "true", "1":
		return "OK"
	case "nok", "ng", "false", "0":
		return "NOK"
	}
	return ""
}

func boolPtr(v bool) *bool { return &v }
