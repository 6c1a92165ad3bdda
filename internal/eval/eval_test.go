package eval

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/czpavel/visionfeed/internal/models"
)

func TestNormalizeBoolResult(t *testing.T) {
	e := Normalize(models.Context{"result": true}, "", 42, "context_result")
	require.Equal(t, models.StatusOK, e.Status)
	require.Equal(t, "OK", e.OKNOK)
	require.NotNil(t, e.ResultBool)
	require.True(t, *e.ResultBool)

	e = Normalize(models.Context{"result": false}, "", 42, "context_result")
	require.Equal(t, models.StatusNOK, e.Status)
	require.Equal(t, "NOK", e.OKNOK)
}

func TestNormalizeNumericResult(t *testing.T) {
	// JSON numbers arrive as float64.
	e := Normalize(models.Context{"result": float64(1)}, "", 0, "context_result")
	require.Equal(t, models.StatusOK, e.Status)

	e = Normalize(models.Context{"result": float64(0)}, "", 0, "context_result")
	require.Equal(t, models.StatusNOK, e.Status)

	// Anything outside 0/1 is not a verdict.
	e = Normalize(models.Context{"result": float64(0.7)}, "", 0, "context_result")
	require.Equal(t, models.StatusUnknown, e.Status)
	require.Nil(t, e.ResultBool)
}

func TestNormalizeStringResult(t *testing.T) {
	for _, v := range []string{"ok", "OK", " true ", "1"} {
		e := Normalize(models.Context{"result": v}, "", 0, "context_result")
		require.Equal(t, models.StatusOK, e.Status, "value %q", v)
	}
	for _, v := range []string{"nok", "NG", "false", "0"} {
		e := Normalize(models.Context{"result": v}, "", 0, "context_result")
		require.Equal(t, models.StatusNOK, e.Status, "value %q", v)
	}
	e := Normalize(models.Context{"result": "maybe"}, "", 0, "context_result")
	require.Equal(t, models.StatusUnknown, e.Status)
}

func TestNormalizeFallbackField(t *testing.T) {
	// No root result: the resolved field decides.
	e := Normalize(models.Context{}, "nok", 0, "context_result")
	require.Equal(t, models.StatusNOK, e.Status)
	require.Nil(t, e.ResultBool)

	// Explicit result_field source ignores the root result entirely.
	e = Normalize(models.Context{"result": true}, "nok", 0, "result_field")
	require.Equal(t, models.StatusNOK, e.Status)
}

func TestNormalizeNilContext(t *testing.T) {
	e := Normalize(nil, "", 17, "context_result")
	require.Equal(t, models.StatusError, e.Status)
	require.Equal(t, 17, e.CompleteTimeMS)
}

func TestNormalizeCompleteTime(t *testing.T) {
	e := Normalize(models.Context{"result": true, "completeTime": 0.25}, "", 900, "context_result")
	require.NotNil(t, e.CompleteTimeS)
	require.InDelta(t, 0.25, *e.CompleteTimeS, 1e-9)
	require.Equal(t, 250, e.CompleteTimeMS)

	// String seconds still parse.
	e = Normalize(models.Context{"result": true, "completeTime": "1.5"}, "", 900, "context_result")
	require.Equal(t, 1500, e.CompleteTimeMS)

	// Missing server time falls back to the measured latency.
	e = Normalize(models.Context{"result": true}, "", 900, "context_result")
	require.Nil(t, e.CompleteTimeS)
	require.Equal(t, 900, e.CompleteTimeMS)
}

func TestNormalizeDetectedRectangles(t *testing.T) {
	ctx := models.Context{
		"result":             false,
		"detectedRectangles": []any{map[string]any{}, map[string]any{}, map[string]any{}},
	}
	e := Normalize(ctx, "", 0, "context_result")
	require.Equal(t, 3, e.DetectedCount)

	e = Normalize(models.Context{"result": false}, "", 0, "context_result")
	require.Equal(t, 0, e.DetectedCount)
}

func TestResolveField(t *testing.T) {
	ctx := models.Context{
		"evaluation": map[string]any{
			"verdict": map[string]any{"pass": true},
			"label":   "NOK",
		},
	}
	require.Equal(t, "OK", ResolveField(ctx, "evaluation.verdict.pass"))
	require.Equal(t, "NOK", ResolveField(ctx, "evaluation.label"))
	require.Equal(t, "", ResolveField(ctx, "evaluation.missing"))
	require.Equal(t, "", ResolveField(ctx, "evaluation.label.deeper"))
	require.Equal(t, "", ResolveField(ctx, ""))
	require.Equal(t, "", ResolveField(nil, "evaluation"))
}
