package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"document-qa/internal/config"
	"document-qa/internal/models"
	"document-qa/internal/rag"
)

const (
	manifestFile = "manifest.yaml"
	lockFile     = ".lock"
	lockRetry    = 50 * time.Millisecond
)

// metadata keys stored on every chromem document
const (
	metaSource  = "source"
	metaPage    = "page"
	metaOffset  = "offset"
	metaSeq     = "seq"
	metaChunkID = "chunk_id"
)

var (
	errNoEmbedFunc = errors.New("documents must carry precomputed embeddings")
	errIndexLocked = errors.New("index dir is locked by another process")
)

// noEmbed keeps chromem from falling back to its default OpenAI embedding function.
func noEmbed(context.Context, string) ([]float32, error) { return nil, errNoEmbedFunc }

// Index is an in-memory chromem collection plus the manifest describing it.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	manifest   models.IndexManifest
	topK       int
}

var _ rag.Index = (*Index)(nil)

func (i *Index) Count() int { return i.collection.Count() }

func (i *Index) Manifest() models.IndexManifest { return i.manifest }

// Search ranks every stored chunk and keeps the best k. chromem does not order
// equal similarities, so the full result set is re-sorted with Seq as tie-breaker.
func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]models.SearchResult, error) {
	if k <= 0 {
		k = i.topK
	}
	n := i.collection.Count()
	if n == 0 {
		return []models.SearchResult{}, nil
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if i.manifest.Dimension > 0 && len(vector) != i.manifest.Dimension {
		return nil, fmt.Errorf("query vector has dimension %d, index has %d", len(vector), i.manifest.Dimension)
	}

	res, err := i.collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	results := make([]models.SearchResult, 0, len(res))
	for _, r := range res {
		chunk, err := chunkFromResult(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrIndexCorrupt, err)
		}
		results = append(results, models.SearchResult{Chunk: chunk, Similarity: r.Similarity})
	}
	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Similarity != results[b].Similarity {
			return results[a].Similarity > results[b].Similarity
		}
		return results[a].Chunk.Seq < results[b].Chunk.Seq
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func chunkFromResult(r chromem.Result) (models.Chunk, error) {
	ints := make(map[string]int, 3)
	for _, key := range []string{metaPage, metaOffset, metaSeq} {
		v, err := strconv.Atoi(r.Metadata[key])
		if err != nil {
			return models.Chunk{}, fmt.Errorf("document %s: bad %s metadata %q", r.ID, key, r.Metadata[key])
		}
		ints[key] = v
	}
	return models.Chunk{
		ID:     r.Metadata[metaChunkID],
		Source: r.Metadata[metaSource],
		Page:   ints[metaPage],
		Offset: ints[metaOffset],
		Text:   r.Content,
		Seq:    ints[metaSeq],
	}, nil
}

// Store builds chromem indexes and persists them under a single directory.
type Store struct {
	dir           string
	collection    string
	compress      bool
	encryptionKey string
	chunkSize     int
	chunkOverlap  int
	topK          int
	embedder      rag.Embedder
}

var _ rag.IndexStore = (*Store)(nil)

func NewStore(cfg *config.Config, embedder rag.Embedder) *Store {
	return &Store{
		dir:           cfg.Storage.IndexDir,
		collection:    cfg.Storage.Collection,
		compress:      cfg.Storage.Compress,
		encryptionKey: cfg.Storage.EncryptionKey,
		chunkSize:     cfg.RAG.ChunkSize,
		chunkOverlap:  cfg.RAG.ChunkOverlap,
		topK:          cfg.RAG.TopK,
		embedder:      embedder,
	}
}

func (s *Store) Dir() string { return s.dir }

// Build embeds all chunks in one call and loads them into a fresh collection. Seq
// follows input order.
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

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:      strconv.Itoa(i),
			Content: c.Text,
			Metadata: map[string]string{
				metaSource:  c.Source,
				metaPage:    strconv.Itoa(c.Page),
				metaOffset:  strconv.Itoa(c.Offset),
				metaSeq:     strconv.Itoa(i),
				metaChunkID: c.ID,
			},
			Embedding: vectors[i],
		}
	}

	db := chromem.NewDB()
	collection, err := db.CreateCollection(s.collection, map[string]string{"embedding_model": s.embedder.Model()}, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("failed to add documents: %w", err)
	}

	log.Info().Str("collection", s.collection).Int("chunks", len(docs)).Msg("index built")
	return &Index{
		db:         db,
		collection: collection,
		manifest: models.IndexManifest{
			EmbeddingModel: s.embedder.Model(),
			Dimension:      len(vectors[0]),
			ChunkSize:      s.chunkSize,
			ChunkOverlap:   s.chunkOverlap,
			Source:         chunks[0].Source,
			Chunks:         len(docs),
			CreatedAt:      time.Now().UTC().Truncate(time.Second),
		},
		topK: s.topK,
	}, nil
}

// indexFile follows chromem's naming so compressed and encrypted exports are
// recognisable on disk.
func (s *Store) indexFile() string {
	name := "index.gob"
	if s.compress {
		name += ".gz"
	}
	if s.encryptionKey != "" {
		name += ".enc"
	}
	return name
}

// Save exports the collection and then the manifest, each through a temp file
// renamed into place. The directory is locked exclusively while writing.
func (s *Store) Save(ctx context.Context, index rag.Index) error {
	idx, ok := index.(*Index)
	if !ok {
		return fmt.Errorf("chromem store cannot save %T", index)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}

	fl := flock.New(filepath.Join(s.dir, lockFile))
	locked, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("failed to lock index dir: %w", err)
	}
	if !locked {
		return errIndexLocked
	}
	defer fl.Unlock()

	tmp, err := tempPath(s.dir, s.indexFile())
	if err != nil {
		return err
	}
	if err := idx.db.ExportToFile(tmp, s.compress, s.encryptionKey, idx.collection.Name); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to export index: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, s.indexFile())); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move index into place: %w", err)
	}

	data, err := yaml.Marshal(idx.manifest)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, manifestFile), data); err != nil {
		return err
	}

	log.Info().Str("dir", s.dir).Int("chunks", idx.manifest.Chunks).Msg("index persisted")
	return nil
}

// Load imports a previously saved index. The directory is share-locked while reading.
func (s *Store) Load(ctx context.Context) (rag.Index, error) {
	if _, err := os.Stat(s.dir); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrIndexNotFound, s.dir)
	}

	fl := flock.New(filepath.Join(s.dir, lockFile))
	locked, err := fl.TryRLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("failed to lock index dir: %w", err)
	}
	if !locked {
		return nil, errIndexLocked
	}
	defer fl.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: no manifest in %s", models.ErrIndexNotFound, s.dir)
	}
	var manifest models.IndexManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", models.ErrIndexCorrupt, err)
	}
	if want := s.embedder.Model(); manifest.EmbeddingModel != want {
		return nil, fmt.Errorf("%w: index uses %q, configured %q",
			models.ErrEmbeddingModelMismatch, manifest.EmbeddingModel, want)
	}

	path := filepath.Join(s.dir, s.indexFile())
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrIndexNotFound, path)
	}

	db := chromem.NewDB()
	if err := db.ImportFromFile(path, s.encryptionKey, s.collection); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrIndexCorrupt, err)
	}
	collection := db.GetCollection(s.collection, noEmbed)
	if collection == nil {
		return nil, fmt.Errorf("%w: collection %q missing from %s", models.ErrIndexCorrupt, s.collection, path)
	}
	if collection.Count() != manifest.Chunks {
		return nil, fmt.Errorf("%w: manifest lists %d chunks, index holds %d",
			models.ErrIndexCorrupt, manifest.Chunks, collection.Count())
	}

	log.Info().Str("dir", s.dir).Int("chunks", manifest.Chunks).Str("source", manifest.Source).Msg("index loaded")
	return &Index{db: db, collection: collection, manifest: manifest, topK: s.topK}, nil
}

func tempPath(dir, name string) (string, error) {
	f, err := os.CreateTemp(dir, "tmp-*-"+name)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	path := f.Name()
	f.Close()
	return path, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := tempPath(filepath.Dir(path), filepath.Base(path))
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
