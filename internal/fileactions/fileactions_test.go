package fileactions

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/czpavel/visionfeed/internal/config"
	"github.com/czpavel/visionfeed/internal/models"
)

func testConfig(t *testing.T, mode string) (*config.AppConfig, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.FileActions.Enabled = true
	cfg.FileActions.Mode = mode
	cfg.FileActions.UnknownAsNOK = true
	cfg.FileActions.OK = config.ActionPathConfig{BaseDir: filepath.Join(root, "ok")}
	cfg.FileActions.NOK = config.ActionPathConfig{BaseDir: filepath.Join(root, "nok")}
	return &cfg, root
}

func writeSource(t *testing.T, root, name string) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.WriteFile(path, []byte("img"), 0644))
	return path
}

func okEval() models.Evaluation  { return models.Evaluation{Status: models.StatusOK} }
func nokEval() models.Evaluation { return models.Evaluation{Status: models.StatusNOK} }

func TestApplyDisabled(t *testing.T) {
	cfg, root := testConfig(t, "move_by_result")
	cfg.FileActions.Enabled = false
	src := writeSource(t, root, "a.png")

	res := Apply(src, okEval(), cfg, time.Now())
	require.False(t, res.Applied)
	require.Equal(t, "file-actions-disabled", res.Reason)
	require.FileExists(t, src)
}

func TestApplyMoveByResult(t *testing.T) {
	cfg, root := testConfig(t, "move_by_result")
	now := time.Now()

	src := writeSource(t, root, "good.png")
	res := Apply(src, okEval(), cfg, now)
	require.True(t, res.Applied)
	require.Equal(t, "move", res.Operation)
	require.Equal(t, filepath.Join(root, "ok", "good.png"), res.TargetPath)
	require.NoFileExists(t, src)
	require.FileExists(t, res.TargetPath)

	src = writeSource(t, root, "bad.png")
	res = Apply(src, nokEval(), cfg, now)
	require.True(t, res.Applied)
	require.Equal(t, filepath.Join(root, "nok", "bad.png"), res.TargetPath)
}

func TestApplyUnknownAndErrorRouteToNOKBucket(t *testing.T) {
	cfg, root := testConfig(t, "move_by_result")
	for _, status := range []models.EvalStatus{models.StatusUnknown, models.StatusError} {
		src := writeSource(t, root, string(status)+".png")
		res := Apply(src, models.Evaluation{Status: status}, cfg, time.Now())
		require.True(t, res.Applied, "status %s", status)
		require.Equal(t, filepath.Join(root, "nok", string(status)+".png"), res.TargetPath)
		// The original status survives in the result.
		require.Equal(t, status, res.Status)
	}
}

func TestApplyDeleteAfterEval(t *testing.T) {
	cfg, root := testConfig(t, "delete_after_eval")
	src := writeSource(t, root, "a.png")

	res := Apply(src, nokEval(), cfg, time.Now())
	require.True(t, res.Applied)
	require.Equal(t, "delete", res.Operation)
	require.NoFileExists(t, src)
}

func TestApplyMoveOKDeleteNOK(t *testing.T) {
	cfg, root := testConfig(t, "move_ok_delete_nok")
	now := time.Now()

	src := writeSource(t, root, "good.png")
	res := Apply(src, okEval(), cfg, now)
	require.Equal(t, "move", res.Operation)
	require.FileExists(t, filepath.Join(root, "ok", "good.png"))

	src = writeSource(t, root, "bad.png")
	res = Apply(src, nokEval(), cfg, now)
	require.Equal(t, "delete", res.Operation)
	require.True(t, res.Applied)
	require.NoFileExists(t, src)
}

func TestApplyDeleteOKMoveNOK(t *testing.T) {
	cfg, root := testConfig(t, "delete_ok_move_nok")
	now := time.Now()

	src := writeSource(t, root, "good.png")
	res := Apply(src, okEval(), cfg, now)
	require.Equal(t, "delete", res.Operation)
	require.NoFileExists(t, src)

	src = writeSource(t, root, "bad.png")
	res = Apply(src, nokEval(), cfg, now)
	require.Equal(t, "move", res.Operation)
	require.FileExists(t, filepath.Join(root, "nok", "bad.png"))
}

func TestApplySourceNotFound(t *testing.T) {
	cfg, root := testConfig(t, "move_by_result")
	missing := filepath.Join(root, "gone.png")

	res := Apply(missing, okEval(), cfg, time.Now())
	require.False(t, res.Applied)
	require.Equal(t, "source-not-found", res.Reason)

	cfg.FileActions.Mode = "delete_after_eval"
	res = Apply(missing, okEval(), cfg, time.Now())
	require.False(t, res.Applied)
	require.Equal(t, "source-not-found", res.Reason)
}

func TestApplyMissingTargetDir(t *testing.T) {
	cfg, root := testConfig(t, "move_by_result")
	cfg.FileActions.NOK.BaseDir = ""
	src := writeSource(t, root, "bad.png")

	res := Apply(src, nokEval(), cfg, time.Now())
	require.False(t, res.Applied)
	require.Equal(t, "missing-target-dir-nok", res.Reason)
	require.FileExists(t, src)
}

func TestApplyCollisionSuffix(t *testing.T) {
	cfg, root := testConfig(t, "move_by_result")
	now := time.Now()

	for i, want := range []string{"dup.png", "dup_1.png", "dup_2.png"} {
		dir := filepath.Join(root, "src", string(rune('a'+i)))
		require.NoError(t, os.MkdirAll(dir, 0755))
		src := writeSource(t, dir, "dup.png")
		res := Apply(src, okEval(), cfg, now)
		require.True(t, res.Applied)
		require.Equal(t, filepath.Join(root, "ok", want), res.TargetPath)
	}
}

func TestTargetDirNesting(t *testing.T) {
	now := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
	bucket := config.ActionPathConfig{BaseDir: "/data/ok"}

	require.Equal(t, "/data/ok", TargetDir(bucket, now))

	bucket.CreateDailyFolder = true
	require.Equal(t, filepath.Join("/data/ok", "2026_08_25"), TargetDir(bucket, now))

	bucket.CreateHourlyFolder = true
	require.Equal(t, filepath.Join("/data/ok", "2026_08_25", "08_25_14"), TargetDir(bucket, now))
}

func TestTargetName(t *testing.T) {
	now := time.Date(2026, 8, 25, 14, 30, 5, 0, time.UTC)

	bucket := config.ActionPathConfig{}
	require.Equal(t, "part.png", TargetName("part", ".png", models.StatusOK, bucket, now))

	bucket.IncludeResultPrefix = true
	require.Equal(t, "OK_part.png", TargetName("part", ".png", models.StatusOK, bucket, now))

	bucket.IncludeTimestampSuffix = true
	require.Equal(t, "OK_part_2026_08_25_14_30_05.png", TargetName("part", ".png", models.StatusOK, bucket, now))

	bucket = config.ActionPathConfig{IncludeString: true, StringValue: "line/3:cam*2"}
	require.Equal(t, "part_line_3_cam_2.png", TargetName("part", ".png", models.StatusOK, bucket, now))
}

func TestEffectiveStatus(t *testing.T) {
	require.Equal(t, models.StatusOK, EffectiveStatus(okEval(), true))
	require.Equal(t, models.StatusNOK, EffectiveStatus(nokEval(), true))
	require.Equal(t, models.StatusNOK, EffectiveStatus(models.Evaluation{Status: models.StatusUnknown}, true))
	require.Equal(t, models.StatusNOK, EffectiveStatus(models.Evaluation{Status: models.StatusError}, true))
	require.Equal(t, models.StatusUnknown, EffectiveStatus(models.Evaluation{Status: models.StatusUnknown}, false))
}

func TestEnsureUnique(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.json")

	got, err := EnsureUnique(path)
	require.NoError(t, err)
	require.Equal(t, path, got)

	require.NoError(t, os.WriteFile(path, nil, 0644))
	got, err = EnsureUnique(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "x_1.json"), got)

	require.NoError(t, os.WriteFile(got, nil, 0644))
	got, err = EnsureUnique(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "x_2.json"), got)
}
