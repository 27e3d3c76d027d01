package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fermata-dev/fermata/pkg/models"
	"github.com/fermata-dev/fermata/pkg/persistence"
	redis "github.com/redis/go-redis/v9"
)

const (
	runKeyPrefix     = "fermata:runs:"
	workflowRunsKey  = "fermata:workflows:%s:runs"
	runScanBatchSize = 128
)

// RunRepository stores run snapshots as JSON strings under
// fermata:runs:<run_id>, with a per-workflow index set under
// fermata:workflows:<workflow_id>:runs.
type RunRepository struct {
	client redis.UniversalClient
}

func NewRunRepository(client redis.UniversalClient) *RunRepository {
	return &RunRepository{client: client}
}

func runKey(runID string) string {
	return runKeyPrefix + runID
}

func indexKey(workflowID string) string {
	return fmt.Sprintf(workflowRunsKey, workflowID)
}

func (r *RunRepository) SaveRun(ctx context.Context, run *models.RunRecord) error {
	if run == nil || run.RunID == "" || run.WorkflowID == "" {
		return persistence.NewRunError("SaveRun", "", persistence.ErrInvalidRunRecord)
	}

	// Preserve the original creation stamp across snapshot overwrites.
	if run.CreatedAt.IsZero() {
		if existing, err := r.RunByID(ctx, run.RunID); err == nil {
			run.CreatedAt = existing.CreatedAt
		} else {
			run.CreatedAt = time.Now().UTC()
		}
	}

	data, err := json.Marshal(run)
	if err != nil {
		return persistence.NewRunError("SaveRun", run.RunID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, runKey(run.RunID), data, 0)
	pipe.SAdd(ctx, indexKey(run.WorkflowID), run.RunID)

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewRunError("SaveRun", run.RunID, err)
	}

	return nil
}

func (r *RunRepository) RunByID(ctx context.Context, runID string) (*models.RunRecord, error) {
	data, err := r.client.Get(ctx, runKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewRunError("RunByID", runID, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("RunByID", runID, err)
	}

	var run models.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, persistence.NewRunError("RunByID", runID, err)
	}

	return &run, nil
}

func (r *RunRepository) RunsByWorkflowID(ctx context.Context, workflowID string) ([]*models.RunRecord, error) {
	runIDs, err := r.client.SMembers(ctx, indexKey(workflowID)).Result()
	if err != nil {
		return nil, persistence.NewRunError("ListRuns", "", err)
	}

	runs := make([]*models.RunRecord, 0, len(runIDs))

	for _, runID := range runIDs {
		run, err := r.RunByID(ctx, runID)
		if err != nil {
			if errors.Is(err, persistence.ErrRunNotFound) {
				continue
			}

			return nil, err
		}

		runs = append(runs, run)
	}

	sortRuns(runs)

	return runs, nil
}

func (r *RunRepository) ListRuns(ctx context.Context) ([]*models.RunRecord, error) {
	var (
		runs   []*models.RunRecord
		cursor uint64
	)

	for {
		keys, next, err := r.client.Scan(ctx, cursor, runKeyPrefix+"*", runScanBatchSize).Result()
		if err != nil {
			return nil, persistence.NewRunError("ListRuns", "", err)
		}

		for _, key := range keys {
			run, err := r.RunByID(ctx, key[len(runKeyPrefix):])
			if err != nil {
				if errors.Is(err, persistence.ErrRunNotFound) {
					continue
				}

				return nil, err
			}

			runs = append(runs, run)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	sortRuns(runs)

	return runs, nil
}

func (r *RunRepository) DeleteRun(ctx context.Context, runID string) error {
	run, err := r.RunByID(ctx, runID)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, runKey(runID))

	if run.WorkflowID != "" {
		pipe.SRem(ctx, indexKey(run.WorkflowID), runID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewRunError("DeleteRun", runID, err)
	}

	return nil
}

func sortRuns(runs []*models.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}
