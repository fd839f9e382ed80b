package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/function"
	"github.com/teranos/warden/logger"
	"github.com/teranos/warden/query"
)

// FileStore loads and saves the registry file. Saves are serialized; there is at most
// one writer per FileStore and the manager owns exactly one FileStore per file.
type FileStore struct {
	path    string
	backups int
	logger  *zap.SugaredLogger
	now     func() time.Time

	mu sync.Mutex
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithBackups sets the number of rotating backups kept next to the file (0 disables).
func WithBackups(n int) Option {
	return func(fs *FileStore) {
		if n >= 0 {
			fs.backups = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(fs *FileStore) { fs.logger = logger.OrNop(l) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(fs *FileStore) { fs.now = now }
}

// NewFileStore creates a FileStore for path.
func NewFileStore(path string, opts ...Option) *FileStore {
	fs := &FileStore{
		path:    path,
		backups: 3,
		logger:  logger.OrNop(nil),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// Path returns the registry file path.
func (fs *FileStore) Path() string {
	return fs.path
}

// Load reads the registry file.
//
// A missing file yields an empty document and no error. A file that cannot be read or parsed
// is moved aside to <path>.corrupt-<unix> and an empty document is returned together with an
// error marked ErrCorruptRegistry; callers log it and continue with an empty store.
// A newer schema version is loaded as-is with a warning.
func (fs *FileStore) Load() (*Document, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		fs.logger.Infow("Registry file not found, starting empty", logger.FieldPath, fs.path)
		return NewDocument(), nil
	}
	if err != nil {
		return NewDocument(), fs.corrupt(errors.Wrap(err, "failed to read registry"))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return NewDocument(), fs.corrupt(errors.New("registry file is empty"))
	}

	doc, bad, err := decodeDocument(data)
	if err != nil {
		return NewDocument(), fs.corrupt(errors.Wrap(err, "failed to parse registry"))
	}
	if len(bad) > 0 {
		fs.logger.Warnw("Registry entries could not be decoded and are kept unchanged",
			logger.FieldPath, fs.path,
			"function_ids", bad)
	}

	fs.checkSchemaVersion(doc.Version)
	if doc.Version == "" {
		doc.Version = SchemaVersion
	}
	for id, rec := range doc.Functions {
		doc.Functions[id] = fs.normalize(id, rec)
	}

	fs.logger.Infow("Registry loaded",
		logger.FieldPath, fs.path,
		logger.FieldCount, len(doc.Functions),
		"schema_version", doc.Version)
	return doc, nil
}

// normalize repairs a loaded record so it satisfies the store's invariants.
func (fs *FileStore) normalize(id string, rec function.Record) function.Record {
	if rec.FunctionID == "" {
		rec.FunctionID = id
	} else if rec.FunctionID != id {
		fs.logger.Warnw("Registry key and function_id differ, using key",
			logger.FieldFunctionID, id,
			"record_function_id", rec.FunctionID)
		rec.FunctionID = id
	}
	if !rec.Status.Valid() {
		fs.logger.Warnw("Unknown status in registry, disabling function",
			logger.FieldFunctionID, id,
			logger.FieldStatus, rec.Status)
		rec.Status = function.StatusDisabled
	}
	if rec.Status == function.StatusTesting {
		// The test that set TESTING died with its process.
		if tr, err := function.Apply(&rec, function.TriggerEndTest, fs.now()); err == nil {
			fs.logger.Warnw("Function was saved mid-test, restoring its prior status",
				logger.FieldFunctionID, id,
				logger.FieldStatus, string(tr.To))
		}
	}
	if !rec.SecurityLevel.Valid() {
		rec.SecurityLevel = function.SecurityMedium
	}
	if rec.Name == "" {
		rec.Name = id
	}
	if sum := rec.SuccessCount + rec.ErrorCount; rec.ExecutionCount != sum {
		fs.logger.Warnw("Execution count does not match successes + errors, repairing",
			logger.FieldFunctionID, id,
			logger.FieldExecutions, rec.ExecutionCount,
			logger.FieldSuccesses, rec.SuccessCount,
			logger.FieldErrors, rec.ErrorCount)
		rec.ExecutionCount = sum
	}
	return rec
}

func (fs *FileStore) checkSchemaVersion(v string) {
	if v == "" {
		return
	}
	ours := semver.MustParse(SchemaVersion)
	theirs, err := semver.NewVersion(v)
	if err != nil {
		fs.logger.Warnw("Registry schema version is not semver, loading anyway",
			logger.FieldPath, fs.path, "schema_version", v)
		return
	}
	if theirs.Major() > ours.Major() {
		fs.logger.Warnw("Registry written by a newer schema, unknown fields are preserved",
			logger.FieldPath, fs.path,
			"schema_version", v,
			"supported", SchemaVersion)
	}
}

// corrupt quarantines the unreadable file and returns cause marked ErrCorruptRegistry.
func (fs *FileStore) corrupt(cause error) error {
	quarantine := fmt.Sprintf("%s.corrupt-%d", fs.path, fs.now().Unix())
	err := errors.Mark(cause, errors.ErrCorruptRegistry)

	if renameErr := os.Rename(fs.path, quarantine); renameErr != nil && !os.IsNotExist(renameErr) {
		fs.logger.Errorw("Failed to quarantine corrupt registry",
			logger.FieldPath, fs.path,
			logger.FieldError, renameErr.Error())
		return errors.WithHintf(err, "the file %s was left in place; the next save will replace it", fs.path)
	}

	fs.logger.Errorw("Registry file is corrupt, starting with an empty store",
		logger.FieldPath, fs.path,
		"quarantined_to", quarantine,
		logger.FieldError, cause.Error())
	return errors.WithHintf(err, "the unreadable file was moved to %s", quarantine)
}

// Save writes doc atomically: backups rotate, the new content goes to a temp file in the
// same directory, and the temp file is renamed over the registry.
// The statistics block and last_updated are recomputed from doc's records.
func (fs *FileStore) Save(doc *Document) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := fs.now()
	out := *doc
	out.LastUpdated = now
	stats, err := json.Marshal(query.Compute(doc.Records(), now))
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to encode statistics"), errors.ErrPersistence)
	}
	out.Statistics = stats

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to encode registry"), errors.ErrPersistence)
	}

	if dir := filepath.Dir(fs.path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return errors.Mark(errors.Wrapf(err, "failed to create registry directory %s", dir), errors.ErrPersistence)
		}
	}
	if err := rotateBackups(fs.path, fs.backups, fs.logger); err != nil {
		return errors.Mark(err, errors.ErrPersistence)
	}
	if err := writeAtomic(fs.path, data); err != nil {
		return errors.Mark(err, errors.ErrPersistence)
	}

	fs.logger.Debugw("Registry saved",
		logger.FieldPath, fs.path,
		logger.FieldCount, len(doc.Functions))
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp registry file")
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return errors.Wrap(err, "failed to write temp registry file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return errors.Wrap(err, "failed to sync temp registry file")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.Wrap(err, "failed to close temp registry file")
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		cleanup()
		return errors.Wrap(err, "failed to set registry permissions")
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return errors.Wrap(err, "failed to replace registry file")
	}
	return nil
}
