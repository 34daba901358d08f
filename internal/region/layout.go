package region

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"colabsfm/internal/config"
	"colabsfm/internal/services"
)

// MaxNameLength bounds region names in bytes.
const MaxNameLength = 128

// Paths is the derived directory tree for one region.
type Paths struct {
	Name     string
	Dir      string
	Images   string
	Sparse   string
	Database string
}

// Layout derives region paths under a fixed root.
type Layout struct {
	Root         string
	ImagesDir    string
	SparseDir    string
	DatabaseFile string

	reserved map[string]struct{}
}

// NewLayout builds a layout from configuration.
func NewLayout(cfg *config.Config) *Layout {
	return &Layout{
		Root:         cfg.Paths.RootDir,
		ImagesDir:    cfg.Colmap.ImagesDir,
		SparseDir:    cfg.Colmap.SparseDir,
		DatabaseFile: cfg.Colmap.DatabaseFile,
		reserved:     toSet(cfg.ReservedNames()),
	}
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[strings.ToLower(name)] = struct{}{}
	}
	return set
}

// ValidateName rejects names that would escape the root or shadow reserved
// root entries.
func (l *Layout) ValidateName(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if _, ok := l.reserved[strings.ToLower(name)]; ok {
		return services.Wrap(services.ErrValidation, "region", "validate name", fmt.Sprintf("region name %q is reserved", name), nil)
	}
	return nil
}

// ValidateName applies the structural name rules that do not depend on a
// layout's reserved entries.
func ValidateName(name string) error {
	invalid := func(reason string) error {
		return services.Wrap(services.ErrValidation, "region", "validate name", fmt.Sprintf("region name %q %s", name, reason), nil)
	}
	switch {
	case name == "":
		return services.Wrap(services.ErrValidation, "region", "validate name", "region name is required", nil)
	case len(name) > MaxNameLength:
		return invalid(fmt.Sprintf("exceeds %d bytes", MaxNameLength))
	case !utf8.ValidString(name):
		return invalid("is not valid UTF-8")
	case name == "." || name == "..":
		return invalid("is not a directory name")
	case strings.HasPrefix(name, "."):
		return invalid("must not start with a dot")
	case strings.TrimSpace(name) != name:
		return invalid("must not have surrounding whitespace")
	case strings.ContainsAny(name, `/\`):
		return invalid("must not contain path separators")
	}
	for _, r := range name {
		if r == 0 || unicode.IsControl(r) {
			return invalid("must not contain control characters")
		}
	}
	return nil
}

// Paths derives the region tree without touching the filesystem. Callers
// validate the name first.
func (l *Layout) Paths(name string) Paths {
	dir := filepath.Join(l.Root, name)
	return Paths{
		Name:     name,
		Dir:      dir,
		Images:   filepath.Join(dir, l.ImagesDir),
		Sparse:   filepath.Join(dir, l.SparseDir),
		Database: filepath.Join(dir, l.DatabaseFile),
	}
}

// Resolve validates name and returns its paths.
func (l *Layout) Resolve(name string) (Paths, error) {
	if err := l.ValidateName(name); err != nil {
		return Paths{}, err
	}
	return l.Paths(name), nil
}

// Create makes the images and sparse directories if absent. Existing content
// is left untouched.
func (l *Layout) Create(name string) (Paths, error) {
	paths, err := l.Resolve(name)
	if err != nil {
		return Paths{}, err
	}
	for _, dir := range []string{paths.Images, paths.Sparse} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Paths{}, services.Wrap(services.ErrFilesystem, "region", "create", fmt.Sprintf("create %s", dir), err)
		}
	}
	return paths, nil
}

// Exists reports whether the region's images directory is present.
func (l *Layout) Exists(name string) bool {
	if l.ValidateName(name) != nil {
		return false
	}
	info, err := os.Stat(l.Paths(name).Images)
	return err == nil && info.IsDir()
}

// Require resolves an existing region or returns a not-found error.
func (l *Layout) Require(name string) (Paths, error) {
	paths, err := l.Resolve(name)
	if err != nil {
		return Paths{}, err
	}
	if !l.Exists(name) {
		return Paths{}, services.Wrap(services.ErrNotFound, "region", "lookup", fmt.Sprintf("region %s not found", name), nil)
	}
	return paths, nil
}

// List returns the names of existing regions in lexical order.
func (l *Layout) List() ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrFilesystem, "region", "list", "read project root", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if l.Exists(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
