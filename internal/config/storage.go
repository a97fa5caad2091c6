package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// LoadStoragePath reads the persisted UI settings file's storage_path
// line (spec.md §6). Parsed liberally: on any absence or invalid
// value, the host default documents directory is used and written
// back to path.
func LoadStoragePath(path string) (string, error) {
	dir := defaultStorageDir()

	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "storage_path=") {
				continue
			}
			candidate := strings.TrimSpace(strings.TrimPrefix(line, "storage_path="))
			if candidate != "" && filepath.IsAbs(candidate) {
				dir = candidate
			}
		}
	}

	if err := SaveStoragePath(path, dir); err != nil {
		return dir, err
	}
	return dir, nil
}

// SaveStoragePath atomically writes the storage_path line.
func SaveStoragePath(path, dir string) error {
	content := "storage_path=" + dir + "\n"
	tmpDir := filepath.Dir(path)
	tmp, err := os.CreateTemp(tmpDir, ".storage-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Documents")
}

// ServerEntry is one line of the server list file (name|ip|port). Not
// consulted by the RDMA core; kept for completeness of the external
// contract (spec.md §6).
type ServerEntry struct {
	Name string
	IP   string
	Port string
}

// ParseServerList parses server-list lines, ignoring blank and '#'
// lines.
func ParseServerList(lines []string) []ServerEntry {
	entries := make([]ServerEntry, 0, len(lines))
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != 3 {
			continue
		}
		entries = append(entries, ServerEntry{Name: parts[0], IP: parts[1], Port: parts[2]})
	}
	return entries
}
