package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.barq/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".barq", "logs")
	}
	return filepath.Join(home, ".barq", "logs")
}

// DefaultLogPath returns the default engine log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "barq.log")
}

// ReplicationLogPath returns the replication subsystem's log path.
func ReplicationLogPath() string {
	return filepath.Join(DefaultLogDir(), "replication.log")
}

// LogSource represents the source of logs to view.
type LogSource string

const (
	// LogSourceEngine is the main engine log (default).
	LogSourceEngine LogSource = "engine"
	// LogSourceReplication is the replication subsystem's log.
	LogSourceReplication LogSource = "replication"
	// LogSourceAll combines all log sources.
	LogSourceAll LogSource = "all"
)

// FindLogFile attempts to find the log file for viewing.
// Priority:
//  1. Explicit path (if provided)
//  2. ~/.barq/logs/barq.log (global)
//
// Returns an error if no log file is found.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	globalPath := DefaultLogPath()
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", fmt.Errorf("no log file found. The engine may not have run yet.\nExpected at: %s", globalPath)
}

// FindLogFileBySource finds log files based on the source type.
// Returns a list of log file paths that exist.
func FindLogFileBySource(source LogSource, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var paths []string
	var checked []string

	switch source {
	case LogSourceEngine:
		p := DefaultLogPath()
		checked = append(checked, p)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}

	case LogSourceReplication:
		p := ReplicationLogPath()
		checked = append(checked, p)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}

	case LogSourceAll:
		enginePath := DefaultLogPath()
		replPath := ReplicationLogPath()
		checked = append(checked, enginePath, replPath)

		if _, err := os.Stat(enginePath); err == nil {
			paths = append(paths, enginePath)
		}
		if _, err := os.Stat(replPath); err == nil {
			paths = append(paths, replPath)
		}

	default:
		return nil, fmt.Errorf("unknown log source: %s (use: engine, replication, all)", source)
	}

	if len(paths) == 0 {
		hint := getLogHint(source)
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\n%s", source, checked, hint)
	}

	return paths, nil
}

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) LogSource {
	switch s {
	case "replication":
		return LogSourceReplication
	case "all":
		return LogSourceAll
	default:
		return LogSourceEngine
	}
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}

// getLogHint returns a helpful message on how to generate logs for the given source.
func getLogHint(source LogSource) string {
	switch source {
	case LogSourceEngine:
		return "To generate engine logs:\n  barqctl --debug <command>"
	case LogSourceReplication:
		return "barqctl does not write replication logs itself; this source reads replication.log from the log directory."
	case LogSourceAll:
		return "To generate engine logs:\n  barqctl --debug <command>"
	default:
		return ""
	}
}
