// Package file provides file-based persistence for run snapshots.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/fermata-dev/fermata/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the
// file system: one JSON document per run under <root>/runs.
type Persistence struct {
	root    string
	runRepo *RunRepository
}

// NewPersistence creates a file persistence layer rooted at the given
// directory. A "file://" prefix is accepted and stripped.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:    cleanRoot,
		runRepo: NewRunRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is
// nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// RunRepository returns the run repository implementation.
func (fp *Persistence) RunRepository() persistence.RunRepository {
	return fp.runRepo
}
