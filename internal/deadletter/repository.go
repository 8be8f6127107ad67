package deadletter

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/curricle/curricle/pkg/pagination"
	"github.com/curricle/curricle/pkg/query"
	"github.com/curricle/curricle/pkg/repository"
	"github.com/curricle/curricle/pkg/storage"
)

type repo struct {
	db         *sql.DB
	storage    storage.System
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a dead-letter repository implementing the System interface.
func New(
	db *sql.DB,
	store storage.System,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		storage:    store,
		logger:     logger.With("system", "deadletter"),
		pagination: pagination,
	}
}

func (r *repo) Handler(replayer Replayer) *Handler {
	return NewHandler(r, replayer, r.logger, r.pagination)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Record], error) {
	page.Normalize(r.pagination)

	qb := query.NewBuilder(projection, defaultSort)
	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count dead letters: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	records, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}

	result := pagination.NewPageResult(records, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Record, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	rec, err := repository.QueryOne(ctx, r.db, q, args, scanRecord)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &rec, nil
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Record, error) {
	id := uuid.New()
	key := snapshotKey(cmd.WorkflowID, cmd.StageID, id)

	if err := r.storage.Upload(
		ctx, key,
		bytes.NewReader(cmd.Payload),
		"application/json",
	); err != nil {
		return nil, fmt.Errorf("upload payload snapshot: %w", err)
	}

	errs, err := json.Marshal(cmd.Errors)
	if err != nil {
		return nil, fmt.Errorf("marshal attempt errors: %w", err)
	}

	q := `
		INSERT INTO dead_letters(id, workflow_id, stage_id, kind, attempts, errors, snapshot_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, workflow_id, stage_id, kind, attempts, errors, snapshot_key, created_at, replayed_at`

	insertArgs := []any{
		id,
		cmd.WorkflowID,
		cmd.StageID,
		cmd.Kind,
		cmd.Attempts,
		errs,
		key,
	}

	rec, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Record, error) {
		return repository.QueryOne(ctx, tx, q, insertArgs, scanRecord)
	})

	if err != nil {
		if delErr := r.storage.Delete(ctx, key); delErr != nil {
			r.logger.Warn("compensating snapshot delete failed", "key", key, "error", delErr)
		}
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info(
		"stage dead-lettered",
		"id", rec.ID,
		"workflow_id", rec.WorkflowID,
		"stage_id", rec.StageID,
		"attempts", rec.Attempts,
	)
	return &rec, nil
}

func (r *repo) Snapshot(ctx context.Context, rec *Record) ([]byte, error) {
	body, err := r.storage.Download(ctx, rec.SnapshotKey)
	if err != nil {
		return nil, fmt.Errorf("download payload snapshot %s: %w", rec.SnapshotKey, err)
	}
	defer body.Close()

	return io.ReadAll(body)
}

func (r *repo) Payload(ctx context.Context, rec *Record) (*storage.BlobInfo, io.ReadCloser, error) {
	info, err := r.storage.Find(ctx, rec.SnapshotKey)
	if err != nil {
		return nil, nil, fmt.Errorf("find payload snapshot %s: %w", rec.SnapshotKey, err)
	}

	body, err := r.storage.Download(ctx, rec.SnapshotKey)
	if err != nil {
		return nil, nil, fmt.Errorf("download payload snapshot %s: %w", rec.SnapshotKey, err)
	}

	return info, body, nil
}

func (r *repo) MarkReplayed(ctx context.Context, id uuid.UUID) (*Record, error) {
	q := `
		UPDATE dead_letters
		SET replayed_at = $2
		WHERE id = $1
		RETURNING id, workflow_id, stage_id, kind, attempts, errors, snapshot_key, created_at, replayed_at`

	rec, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Record, error) {
		return repository.QueryOne(ctx, tx, q, []any{id, time.Now().UTC()}, scanRecord)
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	return &rec, nil
}

func snapshotKey(workflowID uuid.UUID, stageID string, id uuid.UUID) string {
	return fmt.Sprintf("dead-letters/%s/%s/%s.json", workflowID, stageID, id)
}
