package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ragline/ragline/internal/core"
	"github.com/ragline/ragline/internal/core/extract"
	"github.com/ragline/ragline/internal/models"
)

// maxUnitBytes caps a single source unit; larger units are skipped with a
// per-unit error rather than failing the whole context.
const maxUnitBytes = 32 << 20

// SourceEnumerator lists the source units of a context. Each source kind
// (files, repository, database) has its own implementation.
type SourceEnumerator interface {
	Enumerate(ctx context.Context, kc *models.Context) ([]core.SourceUnit, error)
}

// Resolver dispatches enumeration by the context's source kind.
type Resolver struct {
	byKind map[string]SourceEnumerator
}

func NewResolver(obj core.ObjectClient, bucket string) *Resolver {
	return &Resolver{byKind: map[string]SourceEnumerator{
		models.SourceFiles:      &ObjectPrefixSource{obj: obj, bucket: bucket},
		models.SourceRepository: &RepositorySource{},
		models.SourceDatabase:   &DatabaseSource{batchRows: 200},
	}}
}

func (r *Resolver) Enumerate(ctx context.Context, kc *models.Context) ([]core.SourceUnit, error) {
	e, ok := r.byKind[kc.SourceKind]
	if !ok {
		return nil, fmt.Errorf("unknown source kind %q", kc.SourceKind)
	}
	return e.Enumerate(ctx, kc)
}

// ObjectPrefixSource enumerates uploaded objects under the context's S3
// prefix. One object is one unit.
type ObjectPrefixSource struct {
	obj    core.ObjectClient
	bucket string
}

func (s *ObjectPrefixSource) Enumerate(ctx context.Context, kc *models.Context) ([]core.SourceUnit, error) {
	keys, err := s.obj.ListKeys(ctx, s.bucket, kc.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("list objects under %q: %w", kc.SourcePath, err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no objects under prefix %q", kc.SourcePath)
	}
	sort.Strings(keys)

	units := make([]core.SourceUnit, 0, len(keys))
	for _, key := range keys {
		data, err := s.obj.GetFile(ctx, s.bucket, key)
		if err != nil {
			return nil, fmt.Errorf("fetch %q: %w", key, err)
		}
		units = append(units, core.SourceUnit{
			Origin:      strings.TrimPrefix(key, kc.SourcePath+"/"),
			ContentType: mime.TypeByExtension(filepath.Ext(key)),
			Data:        data,
		})
	}
	return units, nil
}

// RepositorySource walks a checked-out repository directory. Files with a
// recognised extension become units; vendored and hidden trees are skipped.
type RepositorySource struct{}

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"dist": true, "build": true, "__pycache__": true,
}

func (s *RepositorySource) Enumerate(ctx context.Context, kc *models.Context) ([]core.SourceUnit, error) {
	root := kc.SourcePath
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("repository path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository path %q is not a directory", root)
	}

	var units []core.SourceUnit
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if skipDirs[name] || (strings.HasPrefix(name, ".") && path != root) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if extract.DetectFamily(path, "") == core.FamilyUnknown {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.Size() == 0 || fi.Size() > maxUnitBytes {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		units = append(units, core.SourceUnit{
			Origin:      filepath.ToSlash(rel),
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
			Data:        data,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk repository: %w", err)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("no ingestible files under %q", root)
	}
	return units, nil
}

// DatabaseSource exports rows from an external Postgres table. The context's
// source path is the DSN and source table names the table. Rows are exported
// in primary-key-free batches as JSONL units so the tabular extractor can
// serialise them with inlined column names.
type DatabaseSource struct {
	batchRows int
}

var identRe = mustIdent()

func mustIdent() func(string) bool {
	ok := func(r rune) bool {
		return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
	}
	return func(s string) bool {
		if s == "" {
			return false
		}
		for i, r := range s {
			if !ok(r) || (i == 0 && r >= '0' && r <= '9') {
				return false
			}
		}
		return true
	}
}

func (s *DatabaseSource) Enumerate(ctx context.Context, kc *models.Context) ([]core.SourceUnit, error) {
	if !identRe(kc.SourceTable) {
		return nil, fmt.Errorf("invalid table name %q", kc.SourceTable)
	}

	conn, err := pgx.Connect(ctx, kc.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("connect source database: %w", err)
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, `SELECT * FROM `+kc.SourceTable)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", kc.SourceTable, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}

	var (
		units []core.SourceUnit
		buf   strings.Builder
		n     int
		batch int
	)
	flush := func() {
		if n == 0 {
			return
		}
		units = append(units, core.SourceUnit{
			Origin:      fmt.Sprintf("%s/rows-%04d.jsonl", kc.SourceTable, batch),
			ContentType: "application/x-ndjson",
			Data:        []byte(buf.String()),
		})
		buf.Reset()
		n = 0
		batch++
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		record := make(map[string]any, len(cols))
		for i, c := range cols {
			record[c] = vals[i]
		}
		line, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("encode row: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
		n++
		if n >= s.batchRows {
			flush()
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", kc.SourceTable, err)
	}
	flush()

	if len(units) == 0 {
		return nil, fmt.Errorf("table %s is empty", kc.SourceTable)
	}
	return units, nil
}
