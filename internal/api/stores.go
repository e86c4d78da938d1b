package api

import (
	"context"

	"github.com/phrazzld/docsync-api/internal/platform/postgres"
	"github.com/phrazzld/docsync-api/internal/platform/vectordb"
)

// VectorStore is the set of vector store operations the handlers use.
// *vectordb.Operator implements it.
type VectorStore interface {
	CreateCollection(ctx context.Context, c vectordb.Collection) error
	DeleteCollection(ctx context.Context, name string) error
	AddRecords(ctx context.Context, recordType, collection string, records []vectordb.Record, retryTimes int) ([]bool, error)
	UpdateRecords(ctx context.Context, recordType, collection string, records []vectordb.Record, retryTimes int) ([]bool, error)
	QueryRecords(ctx context.Context, collection string, q vectordb.QueryParam) ([]vectordb.Hit, error)
	DeleteRecords(ctx context.Context, collection string, filters []vectordb.Filter) error
	MultiSearch(ctx context.Context, collections []string, q vectordb.QueryParam) ([]vectordb.Hit, []vectordb.SearchFailure, error)
	RetryTimes() int
}

// RunHistory persists and lists sync runs. *postgres.RunStore implements it.
type RunHistory interface {
	Record(ctx context.Context, run *postgres.SyncRun) error
	Recent(ctx context.Context, collection string, limit int) ([]postgres.SyncRun, error)
}

var (
	_ VectorStore = (*vectordb.Operator)(nil)
	_ RunHistory  = (*postgres.RunStore)(nil)
)
