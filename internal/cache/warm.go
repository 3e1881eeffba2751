package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	cerrors "github.com/tommygoverstreet/smart-spreadsheet2025/pkg/errors"
)

const previewBytes = 1024

// WarmFile is one input to WarmCache.
type WarmFile struct {
	ID   string
	Name string
	Data []byte
}

// WarmResult reports a warm-up batch. Err combines every per-item failure.
type WarmResult struct {
	Warmed int
	Failed int
	Err    error
}

// WarmCache caches each file and seeds its summary and preview queries. A failing
// item is recorded in the result and the batch continues.
func (m *Manager) WarmCache(ctx context.Context, files []WarmFile) WarmResult {
	var result WarmResult

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			result.Failed += len(files) - i
			result.Err = multierr.Append(result.Err, err)
			break
		}
		if err := m.warmOne(ctx, f); err != nil {
			result.Failed++
			result.Err = multierr.Append(result.Err, err)
			continue
		}
		result.Warmed++
	}

	m.logger.Info("cache warm-up finished", map[string]interface{}{
		"warmed": result.Warmed,
		"failed": result.Failed,
	})
	return result
}

func (m *Manager) warmOne(ctx context.Context, f WarmFile) error {
	if strings.TrimSpace(f.ID) == "" {
		return cerrors.NewError(cerrors.ErrCodeValidationFailed, "warm-up file has no id").
			WithComponent("cache").WithOperation("warm").WithContext("name", f.Name)
	}

	if !m.CacheFile(ctx, f.ID, f.Data) {
		return fmt.Errorf("caching file %s failed", f.ID)
	}

	sum := sha256.Sum256(f.Data)
	summary := map[string]any{
		"name":   f.Name,
		"size":   len(f.Data),
		"sha256": hex.EncodeToString(sum[:]),
	}
	if !m.CacheQuery(ctx, f.ID+":summary", summary, "summary") {
		return fmt.Errorf("seeding summary for %s failed", f.ID)
	}

	preview := f.Data
	if len(preview) > previewBytes {
		preview = preview[:previewBytes]
	}
	if !m.CacheQuery(ctx, f.ID+":preview", strings.ToValidUTF8(string(preview), "�"), "preview") {
		return fmt.Errorf("seeding preview for %s failed", f.ID)
	}
	return nil
}
