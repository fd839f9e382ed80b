package registry

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/logger"
)

// backupPath returns the path of the n-th backup (1 is the newest).
func backupPath(path string, n int) string {
	return fmt.Sprintf("%s.back%d", path, n)
}

// rotateBackups shifts .back1..backN one slot older and copies the current file to .back1.
// The oldest backup is dropped. A missing registry file is not an error.
func rotateBackups(path string, keep int, log *zap.SugaredLogger) error {
	if keep <= 0 {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	oldest := backupPath(path, keep)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		// Not fatal: the rename below overwrites it on most platforms
		log.Warnw("Failed to delete old registry backup",
			logger.FieldPath, oldest,
			logger.FieldError, err.Error())
	}

	for n := keep - 1; n >= 1; n-- {
		from := backupPath(path, n)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := os.Rename(from, backupPath(path, n+1)); err != nil {
			return errors.Wrapf(err, "failed to rotate .back%d to .back%d", n, n+1)
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read registry for backup")
	}
	if err := os.WriteFile(backupPath(path, 1), content, 0644); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}
