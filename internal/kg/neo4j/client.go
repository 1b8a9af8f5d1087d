package neo4j

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/policyqa/backend/internal/domain"
	"github.com/policyqa/backend/pkg/circuitbreaker"
	"github.com/policyqa/backend/pkg/logger"
	"github.com/policyqa/backend/pkg/retry"
)

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type Options struct {
	URI      string
	Username string
	Password string
	Database string
	// Attempts bounds retries per query; 2 means one retry.
	Attempts      int
	OnStateChange func(name, from, to string)
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		opts.URI,
		neo4j.BasicAuth(opts.Username, opts.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	if opts.Database == "" {
		opts.Database = "neo4j"
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 2
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		OnStateChange:    opts.OnStateChange,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    opts.Attempts,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", opts.URI), zap.String("database", opts.Database))

	return &Client{
		driver:      driver,
		database:    opts.Database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(ctx context.Context, session neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{
				DatabaseName: c.database,
				AccessMode:   neo4j.AccessModeRead,
			})
			defer session.Close(ctx)
			return operation(ctx, session)
		})
	})
}

// Expand returns the edges touching each of ids, at most perNodeLimit per
// id, strongest first. Edges come back oriented away from the queried id.
// Relation names are compared lower-cased. An empty relationTypes list
// admits every relation.
func (c *Client) Expand(ctx context.Context, ids []string, relationTypes []string, perNodeLimit int) ([]domain.Edge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if relationTypes == nil {
		relationTypes = []string{}
	}

	var edges []domain.Edge

	err := c.executeWithRetry(ctx, func(ctx context.Context, session neo4j.SessionWithContext) error {
		query := `
			UNWIND $ids AS seed
			MATCH (s:Entity {id: seed})
			CALL {
				WITH s
				MATCH (s)-[r:RELATES]-(o:Entity)
				WHERE size($relations) = 0 OR toLower(r.type) IN $relations
				RETURN r, o, startNode(r) = s AS outgoing
				ORDER BY coalesce(r.confidence, 1.0) DESC, o.id ASC
				LIMIT $limit
			}
			RETURN s.id AS from_id, s.name AS from_name, coalesce(s.category, s.type, '') AS from_category,
			       o.id AS to_id, o.name AS to_name, coalesce(o.category, o.type, '') AS to_category,
			       r.type AS relation, coalesce(r.confidence, 1.0) AS confidence, outgoing,
			       coalesce(r.section_id, '') AS section_id
		`

		result, err := session.Run(ctx, query, map[string]any{
			"ids":       ids,
			"relations": relationTypes,
			"limit":     perNodeLimit,
		})
		if err != nil {
			return fmt.Errorf("failed to expand entities: %w", err)
		}

		edges = edges[:0]
		for result.Next(ctx) {
			record := result.Record()
			edges = append(edges, domain.Edge{
				From: domain.EntityRef{
					ID:       recordString(record, "from_id"),
					Name:     recordString(record, "from_name"),
					Category: domain.EntityCategory(recordString(record, "from_category")),
				},
				To: domain.EntityRef{
					ID:       recordString(record, "to_id"),
					Name:     recordString(record, "to_name"),
					Category: domain.EntityCategory(recordString(record, "to_category")),
				},
				Relation:   strings.ToLower(recordString(record, "relation")),
				Confidence: recordFloat(record, "confidence"),
				Outgoing:   recordBool(record, "outgoing"),
				SectionID:  recordString(record, "section_id"),
			})
		}

		if err := result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("KG expansion completed",
		zap.Int("frontier", len(ids)),
		zap.Int("edges", len(edges)),
	)

	return edges, nil
}

// ListEntities feeds the resolver's alias table at startup.
func (c *Client) ListEntities(ctx context.Context) ([]domain.CanonicalEntity, error) {
	var entities []domain.CanonicalEntity

	err := c.executeWithRetry(ctx, func(ctx context.Context, session neo4j.SessionWithContext) error {
		query := `
			MATCH (e:Entity)
			RETURN e.id AS id, e.name AS name, coalesce(e.category, e.type, '') AS category,
			       coalesce(e.aliases, []) AS aliases, coalesce(e.canonical_name, '') AS canonical_name
			ORDER BY e.id
		`

		result, err := session.Run(ctx, query, nil)
		if err != nil {
			return fmt.Errorf("failed to list entities: %w", err)
		}

		entities = entities[:0]
		for result.Next(ctx) {
			record := result.Record()

			aliases := recordStrings(record, "aliases")
			if canonical := recordString(record, "canonical_name"); canonical != "" {
				aliases = append(aliases, canonical)
			}

			entities = append(entities, domain.CanonicalEntity{
				ID:       recordString(record, "id"),
				Name:     recordString(record, "name"),
				Aliases:  aliases,
				Category: domain.EntityCategory(recordString(record, "category")),
				Extra:    map[string]string{"source": "graph"},
			})
		}

		if err := result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("KG entities listed", zap.Int("count", len(entities)))
	return entities, nil
}

func recordString(record *neo4j.Record, key string) string {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func recordFloat(record *neo4j.Record, key string) float64 {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func recordBool(record *neo4j.Record, key string) bool {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

func recordStrings(record *neo4j.Record, key string) []string {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
