// Package semantic provides the typed upsert/query façade over the vector
// similarity store used by the semantic-compare stage. The engine never
// computes embeddings or similarity itself; this gateway keeps the stage
// independent of the store's wire protocol.
package semantic

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	sqlitevec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/curricle/curricle/pkg/lifecycle"
)

// CollectionCourses is the logical collection holding course embeddings.
const CollectionCourses = "course-embeddings"

// Match is one ranked search result with its similarity score in [0, 1].
type Match struct {
	ID      string          `json:"id"`
	Score   float64         `json:"score"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// System manages vector index operations and lifecycle coordination.
type System interface {
	// Start registers startup and shutdown hooks with the lifecycle coordinator.
	Start(lc *lifecycle.Coordinator) error
	// Upsert writes or replaces the vector and payload stored under id.
	// Repeating an upsert with the same id is safe.
	Upsert(ctx context.Context, collection, id string, vector []float32, payload json.RawMessage) error
	// Search returns up to k matches ranked by descending similarity.
	Search(ctx context.Context, collection string, vector []float32, k int) ([]Match, error)
}

var registerOnce sync.Once

type index struct {
	db     *sql.DB
	cfg    *Config
	logger *slog.Logger

	mu      sync.Mutex
	created map[string]bool
}

// New creates a semantic index system backed by an embedded sqlite-vec
// store at the configured path.
func New(cfg *Config, logger *slog.Logger) (System, error) {
	registerOnce.Do(sqlitevec.Auto)

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open semantic index: %w", err)
	}

	return &index{
		db:      db,
		cfg:     cfg,
		logger:  logger.With("system", "semantic"),
		created: make(map[string]bool),
	}, nil
}

func (i *index) Start(lc *lifecycle.Coordinator) error {
	i.logger.Info("starting semantic index", "path", i.cfg.Path)

	lc.OnStartup(func() {
		for name := range i.cfg.Collections {
			if err := i.ensure(lc.Context(), name); err != nil {
				i.logger.Error("collection initialization failed", "collection", name, "error", err)
				return
			}
		}
		i.logger.Info("semantic index ready", "collections", len(i.cfg.Collections))
	})

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		if err := i.db.Close(); err != nil {
			i.logger.Error("semantic index close failed", "error", err)
			return
		}
		i.logger.Info("semantic index closed")
	})

	return nil
}

func (i *index) Upsert(
	ctx context.Context,
	collection, id string,
	vector []float32,
	payload json.RawMessage,
) error {
	if err := i.checkVector(collection, vector); err != nil {
		return err
	}
	if err := i.ensure(ctx, collection); err != nil {
		return err
	}

	meta, vec, err := physicalNames(collection)
	if err != nil {
		return err
	}

	blob, err := sqlitevec.SerializeFloat32(vector)
	if err != nil {
		return fmt.Errorf("serialize vector: %w", err)
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	var rowid int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, payload) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload
		RETURNING rowid`, meta),
		id, string(payload),
	).Scan(&rowid)
	if err != nil {
		return fmt.Errorf("upsert payload %s/%s: %w", collection, id, err)
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", vec), rowid,
	); err != nil {
		return fmt.Errorf("clear vector %s/%s: %w", collection, id, err)
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (rowid, embedding) VALUES (?, ?)", vec),
		rowid, blob,
	); err != nil {
		return fmt.Errorf("insert vector %s/%s: %w", collection, id, err)
	}

	return tx.Commit()
}

func (i *index) Search(
	ctx context.Context,
	collection string,
	vector []float32,
	k int,
) ([]Match, error) {
	if err := i.checkVector(collection, vector); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, ErrInvalidK
	}
	if err := i.ensure(ctx, collection); err != nil {
		return nil, err
	}

	meta, vec, err := physicalNames(collection)
	if err != nil {
		return nil, err
	}

	blob, err := sqlitevec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("serialize vector: %w", err)
	}

	rows, err := i.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT m.id, v.distance, m.payload
		FROM (
			SELECT rowid, distance FROM %s
			WHERE embedding MATCH ? AND k = ?
		) v
		JOIN %s m ON m.rowid = v.rowid
		ORDER BY v.distance`, vec, meta),
		blob, k,
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	defer rows.Close()

	matches := make([]Match, 0, k)
	for rows.Next() {
		var (
			m        Match
			distance float64
			payload  string
		)
		if err := rows.Scan(&m.ID, &distance, &payload); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		// Cosine distance in [0, 2] maps to similarity in [0, 1].
		m.Score = 1 - distance/2
		if payload != "" {
			m.Payload = json.RawMessage(payload)
		}
		matches = append(matches, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}

	return matches, nil
}

func (i *index) checkVector(collection string, vector []float32) error {
	dim := i.cfg.DimensionFor(collection)
	if len(vector) != dim {
		return fmt.Errorf("%w: got %d, collection %s expects %d",
			ErrDimensionMismatch, len(vector), collection, dim)
	}
	return nil
}

// ensure creates the collection's payload table and vec0 virtual table on
// first use. Creation is idempotent.
func (i *index) ensure(ctx context.Context, collection string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.created[collection] {
		return nil
	}

	meta, vec, err := physicalNames(collection)
	if err != nil {
		return err
	}

	dim := i.cfg.DimensionFor(collection)

	if _, err := i.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			payload TEXT
		)`, meta),
	); err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}

	if _, err := i.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS %s
		USING vec0(embedding float[%d] distance_metric=cosine)`, vec, dim),
	); err != nil {
		return fmt.Errorf("create vector table %s: %w", collection, err)
	}

	i.created[collection] = true
	return nil
}

var collectionName = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// physicalNames maps a logical collection name to its payload and vector
// table identifiers.
func physicalNames(collection string) (meta, vec string, err error) {
	if !collectionName.MatchString(collection) {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidCollection, collection)
	}
	base := strings.ReplaceAll(collection, "-", "_")
	return "meta_" + base, "vec_" + base, nil
}
