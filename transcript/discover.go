package transcript

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/martinemde/steward/logging"
	"github.com/martinemde/steward/sessionstore"
)

// minWireSize skips logs holding little more than the metadata header.
const minWireSize = 100

const localKaos = "local"

// MetadataPath is the CLI metadata file listing known work dirs.
func MetadataPath(shareDir string) string {
	return filepath.Join(shareDir, "kimi.json")
}

// Kaos returns the execution environment the CLI recorded for workDir,
// "local" when unknown.
func Kaos(shareDir, workDir string) string {
	data, err := os.ReadFile(MetadataPath(shareDir))
	if err != nil || !gjson.ValidBytes(data) {
		return localKaos
	}
	kaos := localKaos
	gjson.GetBytes(data, "work_dirs").ForEach(func(_, wd gjson.Result) bool {
		if wd.Get("path").String() != workDir {
			return true
		}
		if k := wd.Get("kaos").String(); k != "" {
			kaos = k
		}
		return false
	})
	return kaos
}

// SessionsDir is the directory holding one subdirectory per CLI session
// started in workDir.
func SessionsDir(shareDir, workDir string) string {
	sum := md5.Sum([]byte(workDir))
	name := hex.EncodeToString(sum[:])
	if kaos := Kaos(shareDir, workDir); kaos != localKaos {
		name = kaos + "_" + name
	}
	return filepath.Join(shareDir, "sessions", name)
}

// SessionDir is the directory of one CLI session.
func SessionDir(shareDir, workDir, sessionID string) string {
	return filepath.Join(SessionsDir(shareDir, workDir), sessionID)
}

// WirePath is the wire log of one CLI session.
func WirePath(shareDir, workDir, sessionID string) string {
	return filepath.Join(SessionDir(shareDir, workDir, sessionID), WireFile)
}

// ListSessions finds the CLI sessions recorded for workDir, most recently
// modified first. A work dir the CLI never used yields no sessions.
func ListSessions(shareDir, workDir string) ([]sessionstore.Info, error) {
	dir := SessionsDir(shareDir, workDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	log := logging.NewLogger("transcript").WithField("dir", dir)
	var infos []sessionstore.Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		wire := filepath.Join(dir, id, WireFile)
		st, err := os.Stat(wire)
		if err != nil || st.Size() < minWireSize {
			continue
		}
		title, ok := ExtractTitle(wire)
		if !ok {
			title = fallbackTitle(id)
		}
		infos = append(infos, sessionstore.Info{
			ID:        id,
			Title:     title,
			WorkDir:   workDir,
			UpdatedAt: st.ModTime().Unix(),
		})
	}
	log.WithField("count", len(infos)).Debug("discovered wire sessions")

	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].UpdatedAt > infos[j].UpdatedAt
	})
	return infos, nil
}

// RemoveSession deletes a CLI session directory. A missing directory is
// not an error.
func RemoveSession(shareDir, workDir, sessionID string) error {
	if sessionID == "" || sessionID == "." || sessionID == ".." || sessionID != filepath.Base(sessionID) {
		return fmt.Errorf("invalid session id %q", sessionID)
	}
	return os.RemoveAll(SessionDir(shareDir, workDir, sessionID))
}

func fallbackTitle(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return "Session " + id
}
