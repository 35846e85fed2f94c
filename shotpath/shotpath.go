// CLAUDE:SUMMARY Derives platform-scoped baseline/compare/diff artifact paths from a logical screenshot name.
// Package shotpath resolves where the artifacts of a visual comparison live.
//
// Every comparison owns three PNG files rooted under a "screenshots"
// directory and partitioned by platform:
//
//	<root>/screenshots/baseline/<platform>/<name>.png
//	<root>/screenshots/compare/<platform>/<name>.png
//	<root>/screenshots/compare/diff/<platform>/<name>.png
//
// Resolution is a pure function of its inputs. Directory creation is a
// separate step (EnsureDirs) so callers decide when I/O happens.
package shotpath

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Ext is the extension every artifact carries.
const Ext = ".png"

// RootDir is the fixed directory all artifacts are stored under.
const RootDir = "screenshots"

// ErrEmptyName is returned when the logical name is blank.
var ErrEmptyName = errors.New("shotpath: name must not be empty")

// ErrPathTraversal is returned when a name would escape the screenshots tree.
var ErrPathTraversal = errors.New("shotpath: path traversal detected")

// Platform partitions artifact storage.
type Platform string

const (
	Desktop Platform = "desktop"
	Web     Platform = "web"
)

// DeterminePlatform maps an application type to its platform class.
// "desktop" and "olddesktop" (any case) are Desktop, anything else is Web.
func DeterminePlatform(appType string) Platform {
	switch strings.ToLower(strings.TrimSpace(appType)) {
	case "desktop", "olddesktop":
		return Desktop
	default:
		return Web
	}
}

// Identifier names a comparison case. It must be stable across runs for
// the baseline to be reused.
type Identifier struct {
	Name    string
	AppType string
}

// Platform returns the platform class derived from the app type.
func (id Identifier) Platform() Platform {
	return DeterminePlatform(id.AppType)
}

// Paths holds the three artifact locations of one comparison.
type Paths struct {
	Baseline string `json:"baseline"`
	Current  string `json:"current"`
	Diff     string `json:"diff"`
}

// Dirs returns the parent directories of the three paths, deduplicated.
func (p Paths) Dirs() []string {
	seen := make(map[string]bool, 3)
	var dirs []string
	for _, path := range []string{p.Baseline, p.Current, p.Diff} {
		d := filepath.Dir(path)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// Resolve computes the baseline, current and diff paths for id under root.
// An empty root resolves relative to the working directory.
func Resolve(root string, id Identifier, platform Platform) (Paths, error) {
	file, err := fileName(id.Name)
	if err != nil {
		return Paths{}, err
	}

	base := filepath.Join(root, RootDir)
	baseline, err := confine(filepath.Join(base, "baseline", string(platform)), file)
	if err != nil {
		return Paths{}, err
	}
	current, err := confine(filepath.Join(base, "compare", string(platform)), file)
	if err != nil {
		return Paths{}, err
	}
	diff, err := confine(filepath.Join(base, "compare", "diff", string(platform)), file)
	if err != nil {
		return Paths{}, err
	}

	return Paths{Baseline: baseline, Current: current, Diff: diff}, nil
}

// MirrorPath is the location a failed current artifact is copied to on the
// shared drive: <dir>/<platform>/<name>_BETA.png.
func MirrorPath(dir string, platform Platform, name string) (string, error) {
	file, err := fileName(name)
	if err != nil {
		return "", err
	}
	file = strings.TrimSuffix(file, Ext) + "_BETA" + Ext
	return confine(filepath.Join(dir, string(platform)), file)
}

// DirMaker creates directories recursively. Implementations must not fail
// when the directory already exists.
type DirMaker interface {
	MkdirAll(dir string) error
}

// EnsureDirs creates the parent directories of all three paths.
func EnsureDirs(mk DirMaker, p Paths) error {
	for _, d := range p.Dirs() {
		if err := mk.MkdirAll(d); err != nil {
			return fmt.Errorf("shotpath: mkdir %s: %w", d, err)
		}
	}
	return nil
}

func fileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if strings.EqualFold(filepath.Ext(name), Ext) {
		name = name[:len(name)-len(Ext)]
	}
	if name == "" || strings.HasSuffix(name, "/") {
		return "", ErrEmptyName
	}
	return name + Ext, nil
}

// confine joins base and name and verifies the result stays under base.
func confine(base, name string) (string, error) {
	for _, seg := range strings.FieldsFunc(name, isSeparator) {
		if seg == ".." {
			return "", ErrPathTraversal
		}
	}
	cleanBase := filepath.Clean(base)
	joined := filepath.Join(cleanBase, filepath.Clean("/"+name))
	if !strings.HasPrefix(joined, cleanBase+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return joined, nil
}

func isSeparator(r rune) bool { return r == '/' || r == '\\' }
