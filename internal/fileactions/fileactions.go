// Package fileactions routes evaluated source files into OK/NOK buckets.
// Every failure comes back as a structured FileActionResult so a batch run
// continues past single-file faults.
package fileactions

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/czpavel/visionfeed/internal/config"
	"github.com/czpavel/visionfeed/internal/models"
)

var invalidFileChars = regexp.MustCompile(`[<>:"/\\|?*]+`)

// Apply executes the configured move/delete for one evaluated file.
func Apply(path string, eval models.Evaluation, cfg *config.AppConfig, now time.Time) models.FileActionResult {
	fa := cfg.FileActions
	if !fa.Enabled {
		return models.FileActionResult{
			Operation:  "none",
			SourcePath: path,
			Reason:     "file-actions-disabled",
			Status:     eval.Status,
		}
	}

	effective := EffectiveStatus(eval, fa.UnknownAsNOK)
	op := resolveOperation(fa.Mode, effective)
	if op == "none" {
		return models.FileActionResult{
			Operation:  "none",
			SourcePath: path,
			Reason:     "no-operation",
			Status:     eval.Status,
		}
	}

	if op == "delete" {
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				return models.FileActionResult{
					Operation:  op,
					SourcePath: path,
					Reason:     "source-not-found",
					Status:     eval.Status,
				}
			}
			return failure(op, path, eval.Status, err)
		}
		return models.FileActionResult{
			Applied:    true,
			Operation:  "delete",
			SourcePath: path,
			Status:     eval.Status,
		}
	}

	bucket := fa.OK
	if effective != models.StatusOK {
		bucket = fa.NOK
	}
	if strings.TrimSpace(bucket.BaseDir) == "" {
		return models.FileActionResult{
			Operation:  "move",
			SourcePath: path,
			Reason:     fmt.Sprintf("missing-target-dir-%s", strings.ToLower(string(effective))),
			Status:     eval.Status,
		}
	}

	dir := TargetDir(bucket, now)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return failure(op, path, eval.Status, err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name := TargetName(stem, filepath.Ext(path), effective, bucket, now)
	target, err := EnsureUnique(filepath.Join(dir, name))
	if err != nil {
		return failure(op, path, eval.Status, err)
	}

	if samePath(path, target) {
		return models.FileActionResult{
			Operation:  "move",
			SourcePath: path,
			TargetPath: target,
			Reason:     "source-equals-target",
			Status:     eval.Status,
		}
	}

	if err := moveFile(path, target); err != nil {
		if os.IsNotExist(err) {
			return models.FileActionResult{
				Operation:  op,
				SourcePath: path,
				Reason:     "source-not-found",
				Status:     eval.Status,
			}
		}
		return failure(op, path, eval.Status, err)
	}
	return models.FileActionResult{
		Applied:    true,
		Operation:  "move",
		SourcePath: path,
		TargetPath: target,
		Status:     eval.Status,
	}
}

// EffectiveStatus collapses the four-valued evaluation status into the two
// routing buckets. UNKNOWN and ERROR stay distinct in logs but route as NOK
// when unknownAsNOK is set.
func EffectiveStatus(eval models.Evaluation, unknownAsNOK bool) models.EvalStatus {
	switch eval.Status {
	case models.StatusOK:
		return models.StatusOK
	case models.StatusNOK:
		return models.StatusNOK
	}
	if unknownAsNOK {
		return models.StatusNOK
	}
	return models.StatusUnknown
}

func resolveOperation(mode string, effective models.EvalStatus) string {
	switch mode {
	case "delete_after_eval":
		return "delete"
	case "move_by_result":
		return "move"
	case "move_ok_delete_nok":
		if effective == models.StatusOK {
			return "move"
		}
		return "delete"
	case "delete_ok_move_nok":
		if effective == models.StatusOK {
			return "delete"
		}
		return "move"
	}
	return "none"
}

// TargetDir builds the bucket directory with the optional daily and hourly
// nesting. The hourly folder nests under the daily one when both are on.
func TargetDir(bucket config.ActionPathConfig, now time.Time) string {
	dir := bucket.BaseDir
	if bucket.CreateDailyFolder {
		dir = filepath.Join(dir, now.Format("2006_01_02"))
	}
	if bucket.CreateHourlyFolder {
		dir = filepath.Join(dir, now.Format("01_02_15"))
	}
	return dir
}

// TargetName builds the destination filename around the original stem.
func TargetName(stem, ext string, effective models.EvalStatus, bucket config.ActionPathConfig, now time.Time) string {
	if bucket.IncludeResultPrefix {
		stem = fmt.Sprintf("%s_%s", effective, stem)
	}
	if bucket.IncludeTimestampSuffix {
		stem = fmt.Sprintf("%s_%s", stem, now.Format("2006_01_02_15_04_05"))
	}
	if bucket.IncludeString && strings.TrimSpace(bucket.StringValue) != "" {
		stem = fmt.Sprintf("%s_%s", stem, sanitizeFragment(strings.TrimSpace(bucket.StringValue)))
	}
	return stem + ext
}

// EnsureUnique appends _1, _2, ... until the candidate path does not exist.
// Existing files are never overwritten.
func EnsureUnique(path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, nil
	} else if err != nil {
		return "", err
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
	}
}

func sanitizeFragment(value string) string {
	return invalidFileChars.ReplaceAllString(value, "_")
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if os.IsNotExist(err) {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return err
	}
	return os.Remove(src)
}

func failure(op, path string, status models.EvalStatus, err error) models.FileActionResult {
	return models.FileActionResult{
		Operation:  op,
		SourcePath: path,
		Reason:     fmt.Sprintf("file-action-error:%v", err),
		Status:     status,
	}
}
