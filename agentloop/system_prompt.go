package agentloop

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxProjectDocBytes = 32 * 1024 // 32KB

// skippedListingNames are hidden from the directory listing along with
// dot-entries.
var skippedListingNames = map[string]bool{
	"target":       true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
}

// projectDocNames are checked in order; the first one found is included.
var projectDocNames = []string{"AGENTS.md", "agents.md"}

// BuildPreamble generates the system entry that opens every turn: the
// working directory, an ls -la style listing of it and the project's
// AGENTS.md when present.
func BuildPreamble(workDir string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current working directory: %s\n\nDirectory listing:\n%s\n", workDir, listDirectory(workDir))
	if doc := loadProjectDoc(workDir); doc != "" {
		sb.WriteString("\nAGENTS.md:\n")
		sb.WriteString(doc)
		sb.WriteString("\n")
	}
	return sb.String()
}

type listingEntry struct {
	name  string
	isDir bool
	size  int64
}

func listDirectory(dir string) string {
	dirEntries, _ := os.ReadDir(dir)

	entries := make([]listingEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if strings.HasPrefix(name, ".") || skippedListingNames[name] {
			continue
		}
		e := listingEntry{name: name, isDir: de.IsDir()}
		if info, err := de.Info(); err == nil {
			e.size = info.Size()
		}
		entries = append(entries, e)
	}

	// Directories first, then by name.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].isDir != entries[j].isDir {
			return entries[i].isDir
		}
		return entries[i].name < entries[j].name
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "total %d\n", len(entries))
	for _, e := range entries {
		mode, size := "-rw-r--r--", formatSize(e.size)
		if e.isDir {
			mode, size = "drwxr-xr-x", "-"
		}
		fmt.Fprintf(&sb, "%s  1 user  group  %8s %s\n", mode, size, e.name)
	}
	return sb.String()
}

func formatSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fK", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fM", float64(n)/(1024*1024))
	}
}

func loadProjectDoc(dir string) string {
	for _, name := range projectDocNames {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if len(content) > maxProjectDocBytes {
			return string(content[:maxProjectDocBytes]) + "\n[AGENTS.md truncated at 32KB]"
		}
		return string(content)
	}
	return ""
}
