package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/roach88/ormcore/internal/config"
	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
	"github.com/roach88/ormcore/internal/queryir"
)

// ErrNoPivotTable is returned by LoadFromPivotTable: documents embed
// many-to-many keys instead.
var ErrNoPivotTable = errors.New("mongo stores many-to-many keys inline, not in join tables")

// Store runs entity queries against one MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	md     meta.Provider
	logger *zap.Logger
}

// Open connects to cfg.DSN and pings within cfg.ConnectTimeout (3s when
// unset).
func Open(cfg config.DriverConfig, md meta.Provider, l *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("mongodb uri is empty")
	}
	if l == nil {
		l = zap.NewNop()
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	clientOpts := options.Client().ApplyURI(cfg.DSN)
	if cfg.MaxOpenConns > 0 {
		clientOpts.SetMaxPoolSize(uint64(cfg.MaxOpenConns))
	}
	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, err
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	l.Info("open mongodb success", zap.String("database", cfg.Database))
	s := New(client.Database(cfg.Database), md, l)
	s.client = client
	return s, nil
}

// New wraps an already connected database.
func New(db *mongo.Database, md meta.Provider, l *zap.Logger) *Store {
	if l == nil {
		l = zap.NewNop()
	}
	return &Store{db: db, md: md, logger: l}
}

// Close disconnects a client opened by Open.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// Platform implements the driver contract.
func (s *Store) Platform() meta.Platform {
	return meta.PlatformMongo
}

// UsesPivotTable implements the driver contract.
func (s *Store) UsesPivotTable() bool {
	return false
}

// Find returns the raw data of every document matching q, in query order.
func (s *Store) Find(ctx context.Context, m *meta.EntityMeta, q queryir.Select) ([]ir.Data, error) {
	if q.From != "" && q.From != m.Name {
		return nil, fmt.Errorf("query from %s run against %s", q.From, m.Name)
	}
	filter, sort, err := FindArgs(m, q)
	if err != nil {
		return nil, fmt.Errorf("compile %s query: %w", m.Name, err)
	}

	opts := options.Find().SetSort(sort)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}

	start := time.Now()
	cur, err := s.db.Collection(m.Table).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", m.Table, translate(err))
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("read %s: %w", m.Table, translate(err))
	}
	s.logger.Debug("find",
		zap.String("collection", m.Table),
		zap.Int("documents", len(docs)),
		zap.Duration("elapsed", time.Since(start)))

	out := make([]ir.Data, 0, len(docs))
	for _, doc := range docs {
		data, err := ToData(s.md, m, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// Count returns the number of documents of m matching where.
func (s *Store) Count(ctx context.Context, m *meta.EntityMeta, where queryir.Predicate) (int, error) {
	filter, err := Filter(m, where)
	if err != nil {
		return 0, fmt.Errorf("compile %s count: %w", m.Name, err)
	}
	n, err := s.db.Collection(m.Table).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", m.Table, translate(err))
	}
	return int(n), nil
}

// LoadFromPivotTable always fails; see ErrNoPivotTable.
func (s *Store) LoadFromPivotTable(
	context.Context, *meta.Property, [][]any, queryir.Predicate, []queryir.Order,
) (map[string][]ir.Data, error) {
	return nil, ErrNoPivotTable
}

// FindArgs compiles the filter and sort documents of a select.
func FindArgs(m *meta.EntityMeta, q queryir.Select) (bson.D, bson.D, error) {
	if q.Limit < 0 || q.Offset < 0 {
		return nil, nil, fmt.Errorf("negative limit or offset")
	}
	filter, err := Filter(m, q.Filter)
	if err != nil {
		return nil, nil, err
	}
	sort, err := Sort(m, q.OrderBy)
	if err != nil {
		return nil, nil, err
	}
	return filter, sort, nil
}

func translate(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %w", queryir.ErrNotFound, err)
	}
	return err
}
