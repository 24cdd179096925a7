package fleet

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	logbookFileName       = "logbook.json"
	journalFileName       = "sign_in_failure_count.json"
	warningMarkerFileName = "warning_sent"
	activeMarkerFileName  = "active"
	nameFileName          = "name"
)

// UserFiles is the per-user directory under the configured file target.
// All files in it are written only by that user's actor or scraper task.
type UserFiles struct {
	dir string
}

func NewUserFiles(fileTarget, userName string) UserFiles {
	return UserFiles{dir: filepath.Join(fileTarget, userName)}
}

func (uf UserFiles) Dir() string {
	return uf.dir
}

func (uf UserFiles) EnsureDir() error {
	return os.MkdirAll(uf.dir, 0o755)
}

func (uf UserFiles) RemoveAll() error {
	return os.RemoveAll(uf.dir)
}

func (uf UserFiles) CalendarPath(stem string) string {
	return filepath.Join(uf.dir, stem+".ics")
}

func (uf UserFiles) LogbookPath() string {
	return filepath.Join(uf.dir, logbookFileName)
}

func (uf UserFiles) JournalPath() string {
	return filepath.Join(uf.dir, journalFileName)
}

func (uf UserFiles) NamePath() string {
	return filepath.Join(uf.dir, nameFileName)
}

func (uf UserFiles) warningMarkerPath() string {
	return filepath.Join(uf.dir, warningMarkerFileName)
}

func (uf UserFiles) activeMarkerPath() string {
	return filepath.Join(uf.dir, activeMarkerFileName)
}

func (uf UserFiles) WarningSent() bool {
	_, err := os.Stat(uf.warningMarkerPath())
	return err == nil
}

func (uf UserFiles) SetWarningSent() error {
	return os.WriteFile(uf.warningMarkerPath(), nil, 0o644)
}

func (uf UserFiles) ClearWarningSent() error {
	err := os.Remove(uf.warningMarkerPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// WriteActiveMarker records the in-flight request for post-crash diagnosis.
func (uf UserFiles) WriteActiveMarker(req StartRequest) error {
	data, err := json.Marshal(&req)
	if err != nil {
		return err
	}

	return os.WriteFile(uf.activeMarkerPath(), data, 0o644)
}

func (uf UserFiles) RemoveActiveMarker() error {
	err := os.Remove(uf.activeMarkerPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (uf UserFiles) WriteName(name string) error {
	return os.WriteFile(uf.NamePath(), []byte(name), 0o600)
}

func (uf UserFiles) ReadName() string {
	data, err := os.ReadFile(uf.NamePath())
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}
