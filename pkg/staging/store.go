package staging

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/nucleus/datapipe/internal/core"
)

// dirMarker makes an empty staging directory observable in an object store.
const dirMarker = ".stage"

// ObjectStagingStore implements Store over any ObjectStore, encoding
// partition files as parquet for the bound column schema.
type ObjectStagingStore struct {
	store  ObjectStore
	bucket string
	schema core.ColumnSchema
}

// NewObjectStagingStore binds an object store, bucket, and schema.
func NewObjectStagingStore(store ObjectStore, bucket string, schema core.ColumnSchema) *ObjectStagingStore {
	return &ObjectStagingStore{store: store, bucket: bucket, schema: schema}
}

// SchemaBinder lets a pipe rebind the row schema after negotiation, e.g.
// when a read job has no explicit projection until the table is introspected.
type SchemaBinder interface {
	WithSchema(schema core.ColumnSchema) Store
}

// WithSchema returns a store sharing the same object store and bucket but
// decoding rows with the given schema.
func (s *ObjectStagingStore) WithSchema(schema core.ColumnSchema) Store {
	return &ObjectStagingStore{store: s.store, bucket: s.bucket, schema: schema}
}

// CreateDir ensures the bucket and staging directory exist. Object stores
// have no real directories; a marker object stands in for one. Permission
// masks apply only to disk-backed stores and are otherwise ignored.
func (s *ObjectStagingStore) CreateDir(ctx context.Context, dir string, perms uint32) error {
	if err := s.store.EnsureBucket(ctx, s.bucket); err != nil {
		return err
	}
	if perms != 0 {
		if ls, ok := s.store.(*LocalStore); ok {
			ls.perm = fs.FileMode(perms)
		}
	}
	return s.store.PutObject(ctx, s.bucket, joinPath(dir, dirMarker), nil)
}

// RemoveDir deletes everything under dir. Absence is not an error.
func (s *ObjectStagingStore) RemoveDir(ctx context.Context, dir string) error {
	keys, err := s.store.ListPrefix(ctx, s.bucket, joinPath(dir)+"/")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.store.DeleteObject(ctx, s.bucket, key); err != nil {
			return err
		}
	}
	return nil
}

// OpenWriteFile opens a partition file for exclusive write. Exclusivity is
// by path ownership: the scheduler guarantees no two workers share a path.
func (s *ObjectStagingStore) OpenWriteFile(ctx context.Context, filePath string) (FileWriter, error) {
	exists, err := s.store.BucketExists(ctx, s.bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, wrapError(CodeBucketNotFound, false,
			fmt.Errorf("staging bucket %s not found", s.bucket))
	}
	key := joinPath(filePath)
	return newPartitionWriter(s.schema, func(ctx context.Context, data []byte) error {
		return s.store.PutObject(ctx, s.bucket, key, data)
	})
}

// OpenReadStream opens a completed partition file for row reads.
func (s *ObjectStagingStore) OpenReadStream(ctx context.Context, filePath string) (RowReader, error) {
	data, err := s.store.GetObject(ctx, s.bucket, joinPath(filePath))
	if err != nil {
		return nil, err
	}
	return newPartitionReader(data, s.schema)
}

// ListGlob matches staged files against a directory-plus-basename pattern.
func (s *ObjectStagingStore) ListGlob(ctx context.Context, pattern string) ([]string, error) {
	dir, base := path.Split(strings.Trim(pattern, "/"))
	keys, err := s.store.ListPrefix(ctx, s.bucket, joinPath(dir)+"/")
	if err != nil {
		return nil, err
	}
	var matched []string
	for _, key := range keys {
		name := path.Base(key)
		ok, matchErr := path.Match(base, name)
		if matchErr != nil {
			return nil, wrapError(CodeStagingReadFailed, false, matchErr)
		}
		if ok {
			matched = append(matched, key)
		}
	}
	return matched, nil
}
