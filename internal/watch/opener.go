package watch

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
)

// ErrNoCoverageReport is returned when the coverage directory holds no
// report subdirectory.
var ErrNoCoverageReport = errors.New("no coverage report found")

// Opener opens a file in the host environment.
type Opener interface {
	Open(path string) error
}

// SystemOpener opens files with the platform's default handler.
type SystemOpener struct{}

// Open starts the handler and does not wait for it.
func (SystemOpener) Open(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	go cmd.Wait() //nolint:errcheck
	return nil
}

// FindCoverageReport returns index.html inside the first subdirectory of dir.
func FindCoverageReport(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read coverage directory: %w", err)
	}
	var subdirs []string
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e.Name())
		}
	}
	if len(subdirs) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoCoverageReport, dir)
	}
	sort.Strings(subdirs)
	return filepath.Join(dir, subdirs[0], "index.html"), nil
}
