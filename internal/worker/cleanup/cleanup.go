// Package cleanup は長期間使われていないワークスペースの自動削除ジョブを提供する。
// 最終書き込みから保持日数（デフォルト90日）を超えた名前空間を、セッション、ユーザー、チケットごと削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/ticketdesk/internal/storage"
)

// DefaultRetentionDays はワークスペースの保持日数のデフォルト値。
const DefaultRetentionDays = 90

// CleanupJob は保持期間を超過したワークスペースの削除ジョブ。
// 削除対象がなくてもエラーにならないため、何度実行してもよい。
type CleanupJob struct {
	purger        storage.Purger
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // ワークスペースの保持日数
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(purger storage.Purger, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		purger:        purger,
		logger:        logger,
		now:           time.Now,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run は最終書き込みがRetentionDays日前より古いワークスペースを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().AddDate(0, 0, -j.RetentionDays)

	purged, err := j.purger.PurgeIdle(ctx, cutoff)
	if err != nil {
		j.logger.Error("ワークスペースのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("ワークスペースのクリーンアップに失敗: %w", err)
	}

	j.logger.Info("ワークスペースのクリーンアップが完了しました",
		slog.Int64("purged_count", purged),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// RunEvery はintervalごとにRunを実行し、ctxが終了すると戻る。
// 起動直後にも1回実行する。個々の実行エラーはログに記録して継続する。
func (j *CleanupJob) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_ = j.Run(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}
