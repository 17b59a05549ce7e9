// Package loader discovers migration files and orders them into a batch.
//
// Migration files are named <prefix>_<description>.sql where prefix is a
// run of ASCII digits. Files are ordered by the numeric value of the prefix,
// which for uniformly zero-padded names is the same as lexicographic order.
package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mandelsoft/vfs/pkg/vfs"
)

var (
	// ErrDuplicatePrefix is returned when two files share a numeric prefix.
	ErrDuplicatePrefix = errors.New("duplicate migration prefix")
	// ErrInvalidRange is returned for non-numeric or inverted range bounds.
	ErrInvalidRange = errors.New("invalid migration range")
	// ErrNoMigrations is returned when the selection matches no files.
	ErrNoMigrations = errors.New("no migrations selected")
)

// IsDuplicatePrefixErr returns true if err is or wraps ErrDuplicatePrefix.
func IsDuplicatePrefixErr(err error) bool { return errors.Is(err, ErrDuplicatePrefix) }

// IsInvalidRangeErr returns true if err is or wraps ErrInvalidRange.
func IsInvalidRangeErr(err error) bool { return errors.Is(err, ErrInvalidRange) }

// IsNoMigrationsErr returns true if err is or wraps ErrNoMigrations.
func IsNoMigrationsErr(err error) bool { return errors.Is(err, ErrNoMigrations) }

// MigrationFile is a single migration script read from disk.
type MigrationFile struct {
	Name   string // file name, e.g. 010_refunds.sql
	Prefix string // numeric prefix as written, e.g. 010
	Path   string
	Size   int64
	SQL    string
}

// Batch is an ordered set of migration files.
type Batch struct {
	Dir      string
	Files    []MigrationFile
	Warnings []string
}

// Names returns the file names in batch order.
func (b *Batch) Names() []string {
	names := make([]string, len(b.Files))
	for i, f := range b.Files {
		names[i] = f.Name
	}
	return names
}

// Len returns the number of files in the batch.
func (b *Batch) Len() int {
	return len(b.Files)
}

// Options selects which migrations to load.
type Options struct {
	// From and To are inclusive prefix bounds. Empty means unbounded.
	From string
	To   string
	// Files restricts the batch to the named files. The batch is still
	// ordered by prefix, never by list order.
	Files []string
	// Logger receives debug output about skipped files. Nil uses slog.Default.
	Logger *slog.Logger
}

func (o Options) validate() error {
	for _, bound := range []string{o.From, o.To} {
		if bound != "" && !isDigits(bound) {
			return fmt.Errorf("%w: bound %q is not numeric", ErrInvalidRange, bound)
		}
	}
	if o.From != "" && o.To != "" && ComparePrefix(o.From, o.To) > 0 {
		return fmt.Errorf("%w: from %s is after to %s", ErrInvalidRange, o.From, o.To)
	}
	return nil
}

func (o Options) inRange(prefix string) bool {
	if o.From != "" && ComparePrefix(prefix, o.From) < 0 {
		return false
	}
	if o.To != "" && ComparePrefix(prefix, o.To) > 0 {
		return false
	}
	return true
}

// Load lists dir on fsys and returns the selected migrations in order.
// Subdirectories are not searched.
func Load(fsys vfs.FileSystem, dir string, opts Options) (*Batch, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	infos, err := vfs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory %s: %w", dir, err)
	}

	available := make(map[string]os.FileInfo, len(infos))
	for _, info := range infos {
		if info.Mode().IsRegular() && strings.HasSuffix(info.Name(), ".sql") {
			available[info.Name()] = info
		}
	}

	batch := &Batch{Dir: dir}
	var selected []os.FileInfo

	if len(opts.Files) > 0 {
		seen := make(map[string]bool, len(opts.Files))
		for _, name := range opts.Files {
			name = strings.TrimSpace(name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			info, ok := available[name]
			if !ok {
				batch.Warnings = append(batch.Warnings, fmt.Sprintf("file not found: %s", name))
				continue
			}
			if _, ok := Prefix(name); !ok {
				batch.Warnings = append(batch.Warnings, fmt.Sprintf("file has no numeric prefix: %s", name))
				continue
			}
			selected = append(selected, info)
		}
	} else {
		for _, info := range infos {
			if _, ok := available[info.Name()]; !ok {
				continue
			}
			if _, ok := Prefix(info.Name()); !ok {
				logger.Debug("skipping file without numeric prefix", "file", info.Name())
				continue
			}
			selected = append(selected, info)
		}
	}

	for _, info := range selected {
		prefix, _ := Prefix(info.Name())
		if !opts.inRange(prefix) {
			continue
		}
		batch.Files = append(batch.Files, MigrationFile{
			Name:   info.Name(),
			Prefix: prefix,
			Path:   filepath.Join(dir, info.Name()),
			Size:   info.Size(),
		})
	}

	sort.SliceStable(batch.Files, func(i, j int) bool {
		if c := ComparePrefix(batch.Files[i].Prefix, batch.Files[j].Prefix); c != 0 {
			return c < 0
		}
		return batch.Files[i].Name < batch.Files[j].Name
	})

	for i := 1; i < len(batch.Files); i++ {
		prev, cur := batch.Files[i-1], batch.Files[i]
		if ComparePrefix(prev.Prefix, cur.Prefix) == 0 {
			return nil, fmt.Errorf("%w: %s and %s", ErrDuplicatePrefix, prev.Name, cur.Name)
		}
	}

	if len(batch.Files) == 0 {
		return batch, ErrNoMigrations
	}

	for i := range batch.Files {
		data, err := vfs.ReadFile(fsys, batch.Files[i].Path)
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", batch.Files[i].Name, err)
		}
		batch.Files[i].SQL = string(data)
	}

	logger.Debug("loaded migrations", "dir", dir, "count", len(batch.Files), "warnings", len(batch.Warnings))
	return batch, nil
}

// Prefix returns the numeric prefix of a migration file name: everything
// before the first underscore, which must be a non-empty run of digits.
func Prefix(name string) (string, bool) {
	prefix, _, found := strings.Cut(name, "_")
	if !found || !isDigits(prefix) {
		return "", false
	}
	return prefix, true
}

// ComparePrefix compares two digit strings by numeric value without
// overflowing on long prefixes.
func ComparePrefix(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
