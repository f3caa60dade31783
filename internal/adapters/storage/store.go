// Package storage persists uploaded and annotated images.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/okian/ewaste/pkg/metrics"
)

var (
	// ErrNotFound is returned by Get for unknown names.
	ErrNotFound = errors.New("image not found")
	// ErrInvalidName rejects names that are empty or could escape the store.
	ErrInvalidName = errors.New("invalid image name")
)

// Store keeps image bytes by name.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Close() error
}

var (
	validName  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	unsafeRune = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
)

// ValidateName accepts only flat names made of letters, digits, dot,
// underscore and dash that do not start with a dot.
func ValidateName(name string) error {
	if !validName.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// SecureFilename reduces a client supplied file name to a safe flat name.
// Directory parts are dropped, whitespace becomes underscores and any other
// character outside [A-Za-z0-9._-] is removed. The result may be empty.
func SecureFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeRune.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}

func observe(backend, op string, start time.Time, err error) {
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	metrics.RecordStorageOperation(backend, op, time.Since(start), err)
}
