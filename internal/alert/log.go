package alert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
	"github.com/oszuidwest/zwfm-levelmeter/internal/util"
)

// LogLevelHigh records the start of an episode.
func LogLevelHigh(logPath string, levelDB, targetDB float64) error {
	return appendLogEntry(logPath, &types.AlertLogEntry{
		Timestamp: timestampUTC(),
		Event:     EventLevelHigh,
		LevelDB:   levelDB,
		TargetDB:  targetDB,
	})
}

// LogRecovery records the end of an episode.
func LogRecovery(logPath string, durationMs int64, levelDB, targetDB float64) error {
	return appendLogEntry(logPath, &types.AlertLogEntry{
		Timestamp:  timestampUTC(),
		Event:      EventLevelRecovered,
		LevelDB:    levelDB,
		TargetDB:   targetDB,
		DurationMs: durationMs,
	})
}

// WriteTestLog writes a test log entry.
func WriteTestLog(logPath string) error {
	if logPath == "" {
		return fmt.Errorf("log file path not configured")
	}
	if err := util.ValidatePath("log path", logPath); err != nil {
		return err
	}
	if err := util.CheckPathWritable(filepath.Dir(logPath)); err != nil {
		return err
	}

	return appendLogEntry(logPath, &types.AlertLogEntry{
		Timestamp: timestampUTC(),
		Event:     EventTest,
	})
}

// appendLogEntry appends a JSON line to the alert log.
func appendLogEntry(logPath string, entry *types.AlertLogEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}
	jsonData = append(jsonData, '\n')

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "log file")()

	if _, err := f.Write(jsonData); err != nil {
		return util.WrapError("write log entry", err)
	}

	return nil
}
