package file

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fermata-dev/fermata/pkg/models"
	"github.com/fermata-dev/fermata/pkg/persistence"
)

const runFileMode = 0o644

// RunRepository handles run snapshot file operations.
type RunRepository struct {
	root string
}

// NewRunRepository creates a run repository storing documents under
// <root>/runs.
func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

func (rr *RunRepository) SaveRun(ctx context.Context, record *models.RunRecord) error {
	if record == nil || record.RunID == "" || record.WorkflowID == "" {
		return persistence.NewRunError("SaveRun", "", persistence.ErrInvalidRunRecord)
	}

	if err := os.MkdirAll(rr.runsDir(), 0o755); err != nil {
		return persistence.NewRunError("SaveRun", record.RunID, err)
	}

	// Preserve the original creation stamp across snapshot overwrites.
	if record.CreatedAt.IsZero() {
		if existing, err := rr.RunByID(ctx, record.RunID); err == nil {
			record.CreatedAt = existing.CreatedAt
		} else {
			record.CreatedAt = time.Now().UTC()
		}
	}

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return persistence.NewRunError("SaveRun", record.RunID, err)
	}

	if err := os.WriteFile(rr.runPath(record.RunID), payload, runFileMode); err != nil {
		return persistence.NewRunError("SaveRun", record.RunID, err)
	}

	return nil
}

func (rr *RunRepository) RunByID(_ context.Context, runID string) (*models.RunRecord, error) {
	payload, err := os.ReadFile(rr.runPath(runID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewRunError("RunByID", runID, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("RunByID", runID, err)
	}

	var record models.RunRecord

	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, persistence.NewRunError("RunByID", runID, err)
	}

	return &record, nil
}

func (rr *RunRepository) RunsByWorkflowID(ctx context.Context, workflowID string) ([]*models.RunRecord, error) {
	all, err := rr.ListRuns(ctx)
	if err != nil {
		return nil, err
	}

	matching := make([]*models.RunRecord, 0)

	for _, record := range all {
		if record.WorkflowID == workflowID {
			matching = append(matching, record)
		}
	}

	return matching, nil
}

func (rr *RunRepository) ListRuns(ctx context.Context) ([]*models.RunRecord, error) {
	root := os.DirFS(rr.runsDir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, persistence.NewRunError("ListRuns", "", err)
	}

	records := make([]*models.RunRecord, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		runID := file[:len(file)-5] // Remove .json extension

		record, err := rr.RunByID(ctx, runID)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records, nil
}

func (rr *RunRepository) DeleteRun(_ context.Context, runID string) error {
	err := os.Remove(rr.runPath(runID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.NewRunError("DeleteRun", runID, persistence.ErrRunNotFound)
		}

		return persistence.NewRunError("DeleteRun", runID, err)
	}

	return nil
}

func (rr *RunRepository) runsDir() string {
	return filepath.Join(rr.root, "runs")
}

func (rr *RunRepository) runPath(runID string) string {
	return filepath.Join(rr.runsDir(), runID+".json")
}
