package cassandra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
	"github.com/hailocab/go-hostpool"

	"basegraph.app/postprocess/core/config"
	"basegraph.app/postprocess/internal/store"
)

const (
	defaultOpTimeout       = 10 * time.Second
	defaultKeyspace        = "tagstore"
	defaultMaxConnsPerHost = 2
)

const insertEventTag = `INSERT INTO event_tags
	(project_id, event_id, key, value, group_id, environment_id, date_added)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

var errNoHosts = errors.New("number of hosts must be > 0")

// session is the subset of *gocql.Session the tag store needs.
type session interface {
	Query(stmt string, values ...any) *gocql.Query
	NewBatch(typ gocql.BatchType) *gocql.Batch
	ExecuteBatch(batch *gocql.Batch) error
	Close()
}

// TagStore writes event tags to Cassandra, one LOGGED batch per event.
type TagStore struct {
	session session
}

func New(cfg config.CassandraConfig) (*TagStore, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errNoHosts
	}
	validateConfig(&cfg)

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Consistency = gocql.LocalQuorum
	cluster.Keyspace = cfg.Keyspace
	cluster.Timeout = cfg.OpTimeout
	cluster.NumConns = cfg.MaxConnsPerHost
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: cfg.NumRetries}
	cluster.PoolConfig.HostSelectionPolicy = gocql.HostPoolHostPolicy(hostpool.New(nil))
	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	s, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("creating cassandra session: %w", err)
	}
	return &TagStore{session: s}, nil
}

func validateConfig(cfg *config.CassandraConfig) {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	if cfg.Keyspace == "" {
		cfg.Keyspace = defaultKeyspace
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = defaultMaxConnsPerHost
	}
	if cfg.NumRetries < 0 {
		cfg.NumRetries = 0
	}
}

func (s *TagStore) CreateEventTags(ctx context.Context, tags store.EventTags) error {
	if len(tags.Tags) == 0 {
		return nil
	}
	dateAdded := tags.DateAdded
	if dateAdded.IsZero() {
		dateAdded = time.Now().UTC()
	}

	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, t := range tags.Tags {
		batch.Query(insertEventTag,
			tags.ProjectID, tags.EventID, t.Key, t.Value, tags.GroupID, tags.EnvironmentID, dateAdded)
	}
	if err := s.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("writing %d event tags: %w", len(tags.Tags), err)
	}

	slog.DebugContext(ctx, "event tags written", "count", len(tags.Tags), "backend", "cassandra")
	return nil
}

func (s *TagStore) Ping(ctx context.Context) error {
	return s.session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
}

func (s *TagStore) Close() {
	s.session.Close()
}
