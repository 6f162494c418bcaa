package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pgvector/pgvector-go"
	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
	"github.com/siherrmann/grounder/sql"
)

// PassagesDBHandlerFunctions defines the interface for passage collection operations.
type PassagesDBHandlerFunctions interface {
	EnsureCollection(ctx context.Context, name string, dimension int) error
	Upsert(ctx context.Context, collection string, records []*model.PassageRecord) error
	Search(ctx context.Context, collection string, vector []float32, k int) ([]*model.PassageHit, error)
	GetByID(ctx context.Context, collection string, id uint64) (*model.PassageRecord, error)
	SamplePassages(ctx context.Context, collection string, limit int) ([]*model.PassageRecord, error)
	Collections(ctx context.Context) ([]*model.CollectionInfo, error)
	DeleteCollection(ctx context.Context, name string) error
}

// PassagesDBHandler keeps named passage collections, one pgvector table per collection.
type PassagesDBHandler struct {
	db *helper.Database
}

// NewPassagesDBHandler creates a new passages database handler.
// It loads the passage SQL functions and creates the collection registry.
// If force is true, it will reload the SQL functions even if they already exist.
func NewPassagesDBHandler(ctx context.Context, db *helper.Database, force bool) (*PassagesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	passagesDbHandler := &PassagesDBHandler{
		db: db,
	}

	instance, err := db.Conn(ctx)
	if err != nil {
		return nil, helper.NewError("connect", err)
	}

	err = sql.LoadPassagesSql(instance, force)
	if err != nil {
		return nil, helper.NewError("load passages sql", err)
	}

	err = passagesDbHandler.CreateTable(ctx)
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized PassagesDBHandler")

	return passagesDbHandler, nil
}

// CreateTable creates the collection registry.
// Collection tables are created by EnsureCollection.
func (h *PassagesDBHandler) CreateTable(ctx context.Context) error {
	instance, err := h.db.Conn(ctx)
	if err != nil {
		return helper.NewError("connect", err)
	}

	_, err = instance.ExecContext(ctx, `SELECT init_passages();`)
	if err != nil {
		return h.db.HandleError(ctx, "init passages", err)
	}

	h.db.Logger.Info("Checked/created table passage_collections")

	return nil
}

// EnsureCollection creates the collection if it does not exist.
// A collection with another dimension is dropped and recreated empty.
func (h *PassagesDBHandler) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if err := model.ValidateName(name); err != nil {
		return helper.NewError("collection name", err)
	}

	instance, err := h.db.Conn(ctx)
	if err != nil {
		return helper.NewError("connect", err)
	}

	var state string
	err = instance.QueryRowContext(
		ctx,
		`SELECT ensure_collection($1, $2)`,
		name,
		dimension,
	).Scan(&state)
	if err != nil {
		return h.db.HandleError(ctx, "ensure collection", err)
	}

	switch state {
	case "created":
		h.db.Logger.Info("Created passage collection", slog.String("collection", name), slog.Int("dimension", dimension))
	case "recreated":
		h.db.Logger.Warn("Recreated passage collection with new dimension, stored passages were dropped", slog.String("collection", name), slog.Int("dimension", dimension))
	}

	return nil
}

// Upsert stores the records keyed by their text hash in one transaction.
// Assigned ids are written back into the records.
func (h *PassagesDBHandler) Upsert(ctx context.Context, collection string, records []*model.PassageRecord) error {
	if err := model.ValidateName(collection); err != nil {
		return helper.NewError("collection name", err)
	}
	if len(records) == 0 {
		return nil
	}

	instance, err := h.db.Conn(ctx)
	if err != nil {
		return helper.NewError("connect", err)
	}

	tx, err := instance.BeginTx(ctx, nil)
	if err != nil {
		return h.db.HandleError(ctx, "begin", err)
	}
	defer tx.Rollback()

	for i, record := range records {
		if len(record.Vector) == 0 {
			return helper.NewError(fmt.Sprintf("record %d", i), helper.Errorf(helper.ErrInvalidArgument, "record has no vector"))
		}
		if record.Hash == "" {
			record.Hash = model.HashText(record.Text)
		}
		if record.Metadata == nil {
			record.Metadata = model.Metadata{}
		}

		var id int64
		err := tx.QueryRowContext(
			ctx,
			`SELECT upsert_passage($1, $2, $3, $4, $5, $6)`,
			collection,
			record.Hash,
			record.Text,
			record.SourceID,
			record.Metadata,
			pgvector.NewVector(record.Vector),
		).Scan(&id)
		if err != nil {
			return h.db.HandleError(ctx, fmt.Sprintf("upsert record %d", i), err)
		}
		record.ID = uint64(id)
	}

	err = tx.Commit()
	if err != nil {
		return h.db.HandleError(ctx, "commit", err)
	}

	return nil
}

// Search returns up to k passages by descending cosine similarity, ties by id.
func (h *PassagesDBHandler) Search(ctx context.Context, collection string, vector []float32, k int) ([]*model.PassageHit, error) {
	if err := model.ValidateName(collection); err != nil {
		return nil, helper.NewError("collection name", err)
	}
	if k < 1 {
		return nil, helper.NewError("search", helper.Errorf(helper.ErrInvalidArgument, "k %d must be positive", k))
	}

	instance, err := h.db.Conn(ctx)
	if err != nil {
		return nil, helper.NewError("connect", err)
	}

	rows, err := instance.QueryContext(
		ctx,
		`SELECT * FROM search_passages($1, $2, $3)`,
		collection,
		pgvector.NewVector(vector),
		k,
	)
	if err != nil {
		return nil, h.db.HandleError(ctx, "query", err)
	}
	defer rows.Close()

	hits := []*model.PassageHit{}
	for rows.Next() {
		hit := &model.PassageHit{}
		var id int64
		err := rows.Scan(
			&id,
			&hit.Hash,
			&hit.Text,
			&hit.SourceID,
			&hit.Metadata,
			&hit.Score,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		hit.ID = uint64(id)

		hits = append(hits, hit)
	}

	err = rows.Err()
	if err != nil {
		return nil, h.db.HandleError(ctx, "rows error", err)
	}

	return hits, nil
}

// GetByID returns one passage with its vector.
func (h *PassagesDBHandler) GetByID(ctx context.Context, collection string, id uint64) (*model.PassageRecord, error) {
	if err := model.ValidateName(collection); err != nil {
		return nil, helper.NewError("collection name", err)
	}

	instance, err := h.db.Conn(ctx)
	if err != nil {
		return nil, helper.NewError("connect", err)
	}

	record := &model.PassageRecord{}
	var rowID int64
	var embedding pgvector.Vector
	err = instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_passage($1, $2)`,
		collection,
		int64(id),
	).Scan(
		&rowID,
		&record.Hash,
		&record.Text,
		&record.SourceID,
		&record.Metadata,
		&embedding,
	)
	if err != nil {
		return nil, h.db.HandleError(ctx, "select passage", err)
	}
	record.ID = uint64(rowID)
	record.Vector = embedding.Slice()

	return record, nil
}

// SamplePassages returns up to limit passages in id order, without vectors.
func (h *PassagesDBHandler) SamplePassages(ctx context.Context, collection string, limit int) ([]*model.PassageRecord, error) {
	if err := model.ValidateName(collection); err != nil {
		return nil, helper.NewError("collection name", err)
	}
	if limit < 1 {
		return nil, helper.NewError("sample passages", helper.Errorf(helper.ErrInvalidArgument, "limit %d must be positive", limit))
	}

	instance, err := h.db.Conn(ctx)
	if err != nil {
		return nil, helper.NewError("connect", err)
	}

	rows, err := instance.QueryContext(
		ctx,
		`SELECT * FROM sample_passages($1, $2)`,
		collection,
		limit,
	)
	if err != nil {
		return nil, h.db.HandleError(ctx, "query", err)
	}
	defer rows.Close()

	records := []*model.PassageRecord{}
	for rows.Next() {
		record := &model.PassageRecord{}
		var id int64
		err := rows.Scan(
			&id,
			&record.Hash,
			&record.Text,
			&record.SourceID,
			&record.Metadata,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		record.ID = uint64(id)

		records = append(records, record)
	}

	err = rows.Err()
	if err != nil {
		return nil, h.db.HandleError(ctx, "rows error", err)
	}

	return records, nil
}

// Collections lists every collection with its dimension and passage count.
func (h *PassagesDBHandler) Collections(ctx context.Context) ([]*model.CollectionInfo, error) {
	instance, err := h.db.Conn(ctx)
	if err != nil {
		return nil, helper.NewError("connect", err)
	}

	rows, err := instance.QueryContext(ctx, `SELECT * FROM select_collections()`)
	if err != nil {
		return nil, h.db.HandleError(ctx, "query", err)
	}
	defer rows.Close()

	collections := []*model.CollectionInfo{}
	for rows.Next() {
		info := &model.CollectionInfo{}
		err := rows.Scan(
			&info.Name,
			&info.Dimension,
			&info.Count,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		collections = append(collections, info)
	}

	err = rows.Err()
	if err != nil {
		return nil, h.db.HandleError(ctx, "rows error", err)
	}

	return collections, nil
}

// DeleteCollection drops a collection and its passages.
func (h *PassagesDBHandler) DeleteCollection(ctx context.Context, name string) error {
	if err := model.ValidateName(name); err != nil {
		return helper.NewError("collection name", err)
	}

	instance, err := h.db.Conn(ctx)
	if err != nil {
		return helper.NewError("connect", err)
	}

	_, err = instance.ExecContext(ctx, `SELECT delete_collection($1)`, name)
	if err != nil {
		return h.db.HandleError(ctx, "delete collection", err)
	}

	h.db.Logger.Warn("Deleted passage collection", slog.String("collection", name))
	return nil
}

var _ PassagesDBHandlerFunctions = (*PassagesDBHandler)(nil)
