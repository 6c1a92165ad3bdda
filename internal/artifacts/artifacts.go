// Package artifacts persists side-channel outputs (JSON context snapshot,
// processed image) next to the OK/NOK routing buckets. Artifacts are additive
// outputs and stay active even when source move/delete is suppressed.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/czpavel/visionfeed/internal/config"
	"github.com/czpavel/visionfeed/internal/fileactions"
	"github.com/czpavel/visionfeed/internal/models"
)

// Save writes the enabled artifacts for one evaluated task. It reuses the
// file-action engine's bucket, nesting and collision rules.
func Save(sourcePath string, ctx models.Context, imageBytes []byte, eval models.Evaluation, cfg *config.AppConfig, now time.Time) models.ArtifactResult {
	fa := cfg.FileActions
	if !fa.SaveJSONContext && !fa.SaveProcessedImage {
		return models.ArtifactResult{Reason: "artifacts-disabled"}
	}

	effective := fileactions.EffectiveStatus(eval, fa.UnknownAsNOK)
	bucket := fa.OK
	if effective != models.StatusOK {
		bucket = fa.NOK
	}
	if strings.TrimSpace(bucket.BaseDir) == "" {
		return models.ArtifactResult{
			Reason: fmt.Sprintf("missing-target-dir-%s", strings.ToLower(string(effective))),
		}
	}

	dir := fileactions.TargetDir(bucket, now)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return models.ArtifactResult{Reason: fmt.Sprintf("target-dir-error:%v", err)}
	}

	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	var result models.ArtifactResult
	var reasons []string

	if fa.SaveJSONContext {
		payload := ctx
		if payload == nil {
			payload = models.Context{}
		}
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("json-save-failed:%v", err))
		} else {
			name := fileactions.TargetName(stem, ".json", effective, bucket, now)
			target, err := fileactions.EnsureUnique(filepath.Join(dir, name))
			if err == nil {
				err = os.WriteFile(target, data, 0644)
			}
			if err != nil {
				reasons = append(reasons, fmt.Sprintf("json-save-failed:%v", err))
			} else {
				result.JSONSaved = true
				result.JSONPath = target
			}
		}
	}

	if fa.SaveProcessedImage {
		if imageBytes == nil {
			reasons = append(reasons, "processed-image-missing")
		} else {
			name := fileactions.TargetName("ANOTATED_"+stem, ".png", effective, bucket, now)
			target, err := fileactions.EnsureUnique(filepath.Join(dir, name))
			if err == nil {
				err = os.WriteFile(target, imageBytes, 0644)
			}
			if err != nil {
				reasons = append(reasons, fmt.Sprintf("processed-save-failed:%v", err))
			} else {
				result.ImageSaved = true
				result.ImagePath = target
			}
		}
	}

	result.Reason = strings.Join(reasons, "; ")
	return result
}
