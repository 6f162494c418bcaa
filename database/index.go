package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
)

// ChangeIndexType changes the vector index of a collection between HNSW and IVFFlat
// indexType: "hnsw" or "ivfflat"
// params: optional parameters for index creation
//   - For HNSW: "m" (int, default 16), "ef_construction" (int, default 64)
//   - For IVFFlat: "lists" (int, default 100)
func (h *PassagesDBHandler) ChangeIndexType(ctx context.Context, collection string, indexType string, params map[string]interface{}) error {
	if err := model.ValidateName(collection); err != nil {
		return helper.NewError("collection name", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	table := pq.QuoteIdentifier("passages_" + collection)
	index := pq.QuoteIdentifier("idx_passages_" + collection + "_embedding")

	// Create new index based on type
	var createIndexSQL string

	switch indexType {
	case "hnsw":
		m := 16
		efConstruction := 64

		if mVal, ok := params["m"].(int); ok {
			m = mVal
		}
		if efVal, ok := params["ef_construction"].(int); ok {
			efConstruction = efVal
		}

		createIndexSQL = fmt.Sprintf(
			`CREATE INDEX %s ON %s USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d);`,
			index, table, m, efConstruction,
		)

	case "ivfflat":
		lists := 100
		if listsVal, ok := params["lists"].(int); ok {
			lists = listsVal
		}

		createIndexSQL = fmt.Sprintf(
			`CREATE INDEX %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d);`,
			index, table, lists,
		)

	default:
		return helper.NewError("change index type", helper.Errorf(helper.ErrInvalidArgument, "unsupported index type: %s (use 'hnsw' or 'ivfflat')", indexType))
	}

	instance, err := h.db.Conn(ctx)
	if err != nil {
		return helper.NewError("connect", err)
	}

	// Fails with not found for an unknown collection
	var dimension int
	err = instance.QueryRowContext(ctx, `SELECT collection_dimension($1)`, collection).Scan(&dimension)
	if err != nil {
		return h.db.HandleError(ctx, "collection dimension", err)
	}

	tx, err := instance.BeginTx(ctx, nil)
	if err != nil {
		return h.db.HandleError(ctx, "begin", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %s;`, index))
	if err != nil {
		return h.db.HandleError(ctx, "drop index", err)
	}

	_, err = tx.ExecContext(ctx, createIndexSQL)
	if err != nil {
		return h.db.HandleError(ctx, "create index", err)
	}

	err = tx.Commit()
	if err != nil {
		return h.db.HandleError(ctx, "commit", err)
	}

	h.db.Logger.Info(fmt.Sprintf("Created %s index with params: %v", indexType, params), slog.String("collection", collection))

	return nil
}
