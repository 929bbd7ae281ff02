package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/queue"
)

// runLogRetention prunes expired capture/converter/app logs and the stale
// queue bookkeeping rows. The app log partition keeps its files longer than
// the per-streamer tool partitions.
func (p *Pipeline) runLogRetention(ctx context.Context, task *models.Task, progress queue.ProgressFunc) (string, error) {
	now := time.Now()
	streamerCutoff := now.Add(-time.Duration(p.cfg.Cleanup.StreamerLogRetention))
	appCutoff := now.Add(-time.Duration(p.cfg.Cleanup.AppLogRetention))

	removed := 0
	for _, dir := range p.layout.LogDirs() {
		cutoff := streamerCutoff
		if filepath.Base(dir) == "app" {
			cutoff = appCutoff
		}
		n, err := pruneOldFiles(dir, cutoff)
		if err != nil {
			return "", err
		}
		removed += n
	}
	progress(0.5, "logs pruned")

	historyCutoff := now.Add(-time.Duration(p.cfg.Queue.HistoryRetention))
	historyRows, err := p.tasks.DeleteHistoryBefore(ctx, historyCutoff)
	if err != nil {
		return "", err
	}
	taskRows, err := p.tasks.DeleteTerminalBefore(ctx, historyCutoff)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("removed %d log files, %d history rows, %d terminal tasks",
		removed, historyRows, taskRows), nil
}

// pruneOldFiles removes regular files under dir whose modification time is
// before the cutoff. Missing directories are fine.
func pruneOldFiles(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
