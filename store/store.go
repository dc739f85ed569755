// Package store implements OrcaPod's content-addressed memoization store
// (spec §4.8): node-level materialized tables are read and written keyed by
// a content digest, so a pipeline run that observes a node's fingerprint
// unchanged from a prior run can skip recomputation entirely.
package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/brianarnold/orcapod/orcaerr"
	"github.com/brianarnold/orcapod/orcahash"
	"github.com/brianarnold/orcapod/table"
	"github.com/brianarnold/orcapod/typespec"
)

// Store is the content-addressed read/write contract every backend
// implements (spec §4.8).
type Store interface {
	Has(ctx context.Context, fp orcahash.Digest) (bool, error)
	GetTable(ctx context.Context, fp orcahash.Digest) (table.Table, error)
	PutTable(ctx context.Context, fp orcahash.Digest, t table.Table) error
	GetResult(ctx context.Context, pipelineFP orcahash.Digest, nodeLabel string) (table.Table, error)
}

// tableDigest computes the content digest of t, used to detect whether a
// PutTable call is an idempotent rewrite of the same content or a genuine
// fingerprint collision.
func tableDigest(t table.Table) orcahash.Digest {
	schemaFields := make([]orcahash.FieldValue, 0, len(t.Schema()))
	for _, c := range t.Schema() {
		schemaFields = append(schemaFields, orcahash.FieldValue{Name: c.Name, Kind: typespec.String, Value: c.Kind.String()})
	}
	schemaDigest := orcahash.HashFields(schemaFields)

	rowDigests := make([]orcahash.Digest, t.NumRows())
	for row := 0; row < t.NumRows(); row++ {
		fields := make([]orcahash.FieldValue, 0, len(t.Schema()))
		for _, c := range t.Schema() {
			col, _ := t.Column(c.Name)
			fields = append(fields, orcahash.FieldValue{Name: c.Name, Kind: c.Kind, Value: col.At(row)})
		}
		rowDigests[row] = orcahash.HashFields(fields)
	}
	return orcahash.HashTable(schemaDigest, rowDigests)
}

// MemStore is an in-memory Store, safe for concurrent reads and
// serializing writes per key.
type MemStore struct {
	mu      sync.RWMutex
	tables  map[orcahash.Digest]table.Table
	digests map[orcahash.Digest]orcahash.Digest
	results map[string]table.Table // "pipelineFP|nodeLabel" -> table
}

// NewMemStore builds an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		tables:  make(map[orcahash.Digest]table.Table),
		digests: make(map[orcahash.Digest]orcahash.Digest),
		results: make(map[string]table.Table),
	}
}

func (s *MemStore) Has(ctx context.Context, fp orcahash.Digest) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tables[fp]
	return ok, nil
}

func (s *MemStore) GetTable(ctx context.Context, fp orcahash.Digest) (table.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[fp]
	if !ok {
		return nil, orcaerr.Missing("store.MemStore.GetTable", fmt.Sprintf("no table stored for fingerprint %s", fp))
	}
	return t, nil
}

func (s *MemStore) PutTable(ctx context.Context, fp orcahash.Digest, t table.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	digest := tableDigest(t)
	if existing, ok := s.digests[fp]; ok {
		if existing != digest {
			return orcaerr.Collide("store.MemStore.PutTable", fmt.Sprintf("fingerprint %s already holds different content", fp))
		}
		return nil // idempotent rewrite
	}
	s.tables[fp] = t
	s.digests[fp] = digest
	return nil
}

func (s *MemStore) GetResult(ctx context.Context, pipelineFP orcahash.Digest, nodeLabel string) (table.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := pipelineFP.String() + "|" + nodeLabel
	t, ok := s.results[key]
	if !ok {
		return nil, orcaerr.Missing("store.MemStore.GetResult", fmt.Sprintf("no result stored for node %q under pipeline %s", nodeLabel, pipelineFP))
	}
	return t, nil
}

// RecordResult stashes t as the named node's output under pipelineFP, for
// later GetResult lookups. pipeline.Run does not call it; it keys node
// results by node fingerprint through PutTable instead.
func (s *MemStore) RecordResult(pipelineFP orcahash.Digest, nodeLabel string, t table.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[pipelineFP.String()+"|"+nodeLabel] = t
}

// FileStore is a filesystem-backed Store rooted at a directory. Each
// fingerprint's table is gob-encoded and written to a temp file in the same
// directory, then os.Rename'd into place, so a crash mid-write never leaves
// a corrupt or partially-written entry visible under its final name (spec
// §4.8 atomicity). File names are bucketed by an xxhash of the fingerprint
// to keep any one directory from growing unbounded — this bucketing is not
// part of the content-hash algorithm itself, just an on-disk layout detail.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore roots a FileStore at dir, creating it if necessary.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store.NewFileStore: %w", err)
	}
	return &FileStore{root: dir}, nil
}

func (s *FileStore) bucketDir(fp orcahash.Digest) string {
	h := xxhash.Sum64(fp.Bytes())
	return filepath.Join(s.root, fmt.Sprintf("%02x", byte(h)))
}

func (s *FileStore) path(fp orcahash.Digest) string {
	return filepath.Join(s.bucketDir(fp), fp.String()+".gob")
}

// gobTable is FileStore's on-disk encoding of a table.Table. ContentDigest
// is the table's content digest (tableDigest) computed at write time and
// persisted alongside the data so a later pass (cmd/orcapod's verify
// command) can recompute it from the decoded rows and catch corruption
// that decodes cleanly but no longer matches what was written.
type gobTable struct {
	Schema        []typespec.ColumnSchema
	Rows          [][]any
	ContentDigest orcahash.Digest
}

func toGobTable(t table.Table) gobTable {
	schema := t.Schema()
	rows := make([][]any, t.NumRows())
	for row := 0; row < t.NumRows(); row++ {
		r := make([]any, len(schema))
		for i, c := range schema {
			col, _ := t.Column(c.Name)
			r[i] = col.At(row)
		}
		rows[row] = r
	}
	return gobTable{Schema: []typespec.ColumnSchema(schema), Rows: rows, ContentDigest: tableDigest(t)}
}

func fromGobTable(g gobTable) (table.Table, error) {
	b := table.NewBuilder(table.Schema(g.Schema))
	for _, row := range g.Rows {
		values := make(map[string]any, len(g.Schema))
		for i, c := range g.Schema {
			values[c.Name] = row[i]
		}
		if err := b.AddRow(values); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

func (s *FileStore) Has(ctx context.Context, fp orcahash.Digest) (bool, error) {
	_, err := os.Stat(s.path(fp))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) readGob(fp orcahash.Digest) (gobTable, error) {
	data, err := os.ReadFile(s.path(fp))
	if os.IsNotExist(err) {
		return gobTable{}, orcaerr.Missing("store.FileStore", fmt.Sprintf("no table stored for fingerprint %s", fp))
	}
	if err != nil {
		return gobTable{}, err
	}
	var g gobTable
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return gobTable{}, fmt.Errorf("store.FileStore: decode: %w", err)
	}
	return g, nil
}

func (s *FileStore) GetTable(ctx context.Context, fp orcahash.Digest) (table.Table, error) {
	g, err := s.readGob(fp)
	if err != nil {
		return nil, err
	}
	return fromGobTable(g)
}

// VerifyContent decodes the entry stored under fp and recomputes its
// content digest from the decoded rows, comparing it against the
// ContentDigest persisted at write time. A mismatch means the bytes on
// disk decoded cleanly but no longer hold what PutTable wrote — silent
// truncation or a flipped byte that gob's own framing didn't catch.
func (s *FileStore) VerifyContent(ctx context.Context, fp orcahash.Digest) error {
	g, err := s.readGob(fp)
	if err != nil {
		return err
	}
	t, err := fromGobTable(g)
	if err != nil {
		return fmt.Errorf("store.FileStore.VerifyContent: rebuild: %w", err)
	}
	if got := tableDigest(t); got != g.ContentDigest {
		return orcaerr.Collide("store.FileStore.VerifyContent", fmt.Sprintf("fingerprint %s: content digest %s does not match %s recorded at write time", fp, got, g.ContentDigest))
	}
	return nil
}

func (s *FileStore) PutTable(ctx context.Context, fp orcahash.Digest, t table.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.readGob(fp); err == nil {
		if existing.ContentDigest != tableDigest(t) {
			return orcaerr.Collide("store.FileStore.PutTable", fmt.Sprintf("fingerprint %s already holds different content on disk", fp))
		}
		return nil // idempotent rewrite
	}

	dir := s.bucketDir(fp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toGobTable(t)); err != nil {
		return fmt.Errorf("store.FileStore.PutTable: encode: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "tmp-*.gob")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path(fp))
}

func (s *FileStore) GetResult(ctx context.Context, pipelineFP orcahash.Digest, nodeLabel string) (table.Table, error) {
	fp := orcahash.HashBytes("result:"+nodeLabel, pipelineFP.Bytes())
	return s.GetTable(ctx, fp)
}

func init() {
	gob.Register(int64(0))
	gob.Register(uint64(0))
	gob.Register(float64(0))
	gob.Register(bool(false))
	gob.Register("")
	gob.Register([]byte(nil))
	gob.Register(typespec.Path(""))
}
