package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"document-qa/internal/config"
	"document-qa/internal/models"
	"document-qa/internal/rag"
)

// ChunkRow is one embedded chunk. The table name is set per store.
type ChunkRow struct {
	bun.BaseModel `bun:"table:document_chunks,alias:dc"`

	Seq        int             `bun:"seq,pk"`
	ChunkID    string          `bun:"chunk_id,notnull"`
	Source     string          `bun:"source,notnull"`
	Page       int             `bun:"page,notnull"`
	CharOffset int             `bun:"char_offset,notnull"`
	Content    string          `bun:"content,notnull"`
	Embedding  pgvector.Vector `bun:"embedding,type:vector,notnull"`
	Similarity float64         `bun:"similarity,scanonly"`
}

// ManifestRow holds the single manifest of the table-backed index.
type ManifestRow struct {
	bun.BaseModel `bun:"table:docqa_index_manifest,alias:m"`

	ID             int       `bun:"id,pk"`
	TableName      string    `bun:"table_name,notnull"`
	EmbeddingModel string    `bun:"embedding_model,notnull"`
	Dimension      int       `bun:"dimension,notnull"`
	ChunkSize      int       `bun:"chunk_size"`
	ChunkOverlap   int       `bun:"chunk_overlap"`
	Source         string    `bun:"source"`
	Chunks         int       `bun:"chunks"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens a connection pool with the configured driver. No connection is
// made until the first query.
func ConnectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "", "pgdriver":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	case "pq":
		return sql.Open("postgres", cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// InitDB enables the vector extension. Build runs it before creating the chunk table.
func InitDB(ctx context.Context, db bun.IDB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("enable vector extension: %w", err)
	}
	return nil
}

// Index searches a chunk table with pgvector's cosine distance operator.
type Index struct {
	db       *bun.DB
	table    string
	manifest models.IndexManifest
	topK     int
}

var _ rag.Index = (*Index)(nil)

func (i *Index) Count() int { return i.manifest.Chunks }

func (i *Index) Manifest() models.IndexManifest { return i.manifest }

func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]models.SearchResult, error) {
	if k <= 0 {
		k = i.topK
	}
	if i.manifest.Chunks == 0 {
		return []models.SearchResult{}, nil
	}
	if len(vector) != i.manifest.Dimension {
		return nil, fmt.Errorf("query vector has dimension %d, index has %d", len(vector), i.manifest.Dimension)
	}

	var rows []ChunkRow
	if err := SearchQuery(i.db, i.table, vector, k).Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	results := make([]models.SearchResult, len(rows))
	for n, r := range rows {
		results[n] = models.SearchResult{Chunk: r.chunk(), Similarity: float32(r.Similarity)}
	}
	return results, nil
}

// SearchQuery orders by cosine distance, then by insertion order.
func SearchQuery(db *bun.DB, table string, vector []float32, k int) *bun.SelectQuery {
	v := pgvector.NewVector(vector)
	return db.NewSelect().
		Model((*ChunkRow)(nil)).
		ModelTableExpr("? AS dc", bun.Ident(table)).
		Column("seq", "chunk_id", "source", "page", "char_offset", "content").
		ColumnExpr("1 - (embedding <=> ?) AS similarity", v).
		OrderExpr("embedding <=> ?", v).
		OrderExpr("seq ASC").
		Limit(k)
}

func (r ChunkRow) chunk() models.Chunk {
	return models.Chunk{
		ID:     r.ChunkID,
		Source: r.Source,
		Page:   r.Page,
		Offset: r.CharOffset,
		Text:   r.Content,
		Seq:    r.Seq,
	}
}

// Store keeps a single index in Postgres. Build replaces the table wholesale.
type Store struct {
	db           *bun.DB
	table        string
	chunkSize    int
	chunkOverlap int
	topK         int
	embedder     rag.Embedder
}

var _ rag.IndexStore = (*Store)(nil)

func NewStore(db *bun.DB, cfg *config.Config, embedder rag.Embedder) *Store {
	return &Store{
		db:           db,
		table:        cfg.Database.Table,
		chunkSize:    cfg.RAG.ChunkSize,
		chunkOverlap: cfg.RAG.ChunkOverlap,
		topK:         cfg.RAG.TopK,
		embedder:     embedder,
	}
}

func (s *Store) Build(ctx context.Context, chunks []models.Chunk) (rag.Index, error) {
	if len(chunks) == 0 {
		return nil, models.ErrNoChunks
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return nil, err
	}

	rows := make([]ChunkRow, len(chunks))
	for i, c := range chunks {
		rows[i] = ChunkRow{
			Seq:        i,
			ChunkID:    c.ID,
			Source:     c.Source,
			Page:       c.Page,
			CharOffset: c.Offset,
			Content:    c.Text,
			Embedding:  pgvector.NewVector(vectors[i]),
		}
	}
	manifest := models.IndexManifest{
		EmbeddingModel: s.embedder.Model(),
		Dimension:      len(vectors[0]),
		ChunkSize:      s.chunkSize,
		ChunkOverlap:   s.chunkOverlap,
		Source:         chunks[0].Source,
		Chunks:         len(rows),
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := InitDB(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.NewDropTable().Table(s.table).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("drop %s: %w", s.table, err)
		}
		if _, err := tx.NewCreateTable().Model((*ChunkRow)(nil)).ModelTableExpr("?", bun.Ident(s.table)).Exec(ctx); err != nil {
			return fmt.Errorf("create %s: %w", s.table, err)
		}
		if _, err := tx.NewInsert().Model(&rows).ModelTableExpr("?", bun.Ident(s.table)).Exec(ctx); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
		if _, err := tx.NewCreateTable().Model((*ManifestRow)(nil)).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create manifest table: %w", err)
		}
		row := manifestRow(s.table, manifest)
		_, err := tx.NewInsert().Model(&row).
			On("CONFLICT (id) DO UPDATE").
			Set("table_name = EXCLUDED.table_name").
			Set("embedding_model = EXCLUDED.embedding_model").
			Set("dimension = EXCLUDED.dimension").
			Set("chunk_size = EXCLUDED.chunk_size").
			Set("chunk_overlap = EXCLUDED.chunk_overlap").
			Set("source = EXCLUDED.source").
			Set("chunks = EXCLUDED.chunks").
			Set("created_at = EXCLUDED.created_at").
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build index table: %w", err)
	}

	log.Info().Str("table", s.table).Int("chunks", len(rows)).Msg("index built")
	return &Index{db: s.db, table: s.table, manifest: manifest, topK: s.topK}, nil
}

// Save is a no-op: Build commits rows in its own transaction.
func (s *Store) Save(_ context.Context, index rag.Index) error {
	if _, ok := index.(*Index); !ok {
		return fmt.Errorf("pgvector store cannot save %T", index)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (rag.Index, error) {
	var row ManifestRow
	if err := s.db.NewSelect().Model(&row).Where("id = 1").Scan(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrIndexNotFound, err)
	}
	if row.TableName != s.table {
		return nil, fmt.Errorf("%w: manifest describes table %q", models.ErrIndexNotFound, row.TableName)
	}
	manifest := row.manifest()
	if want := s.embedder.Model(); manifest.EmbeddingModel != want {
		return nil, fmt.Errorf("%w: index uses %q, configured %q",
			models.ErrEmbeddingModelMismatch, manifest.EmbeddingModel, want)
	}

	n, err := s.db.NewSelect().Model((*ChunkRow)(nil)).ModelTableExpr("? AS dc", bun.Ident(s.table)).Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrIndexNotFound, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: table %s is empty", models.ErrIndexNotFound, s.table)
	}
	if n != manifest.Chunks {
		return nil, fmt.Errorf("%w: manifest lists %d chunks, table holds %d", models.ErrIndexCorrupt, manifest.Chunks, n)
	}
	return &Index{db: s.db, table: s.table, manifest: manifest, topK: s.topK}, nil
}

// DropDocuments removes the chunk table and the manifest.
func (s *Store) DropDocuments(ctx context.Context) error {
	if _, err := s.db.NewDropTable().Table(s.table).IfExists().Exec(ctx); err != nil {
		return err
	}
	_, err := s.db.NewDropTable().Model((*ManifestRow)(nil)).IfExists().Exec(ctx)
	return err
}

func manifestRow(table string, m models.IndexManifest) ManifestRow {
	return ManifestRow{
		ID:             1,
		TableName:      table,
		EmbeddingModel: m.EmbeddingModel,
		Dimension:      m.Dimension,
		ChunkSize:      m.ChunkSize,
		ChunkOverlap:   m.ChunkOverlap,
		Source:         m.Source,
		Chunks:         m.Chunks,
		CreatedAt:      m.CreatedAt,
	}
}

func (r ManifestRow) manifest() models.IndexManifest {
	return models.IndexManifest{
		EmbeddingModel: r.EmbeddingModel,
		Dimension:      r.Dimension,
		ChunkSize:      r.ChunkSize,
		ChunkOverlap:   r.ChunkOverlap,
		Source:         r.Source,
		Chunks:         r.Chunks,
		CreatedAt:      r.CreatedAt,
	}
}
