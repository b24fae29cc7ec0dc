package chat

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// GraphStore resolves cross references between articles of the regulation.
type GraphStore interface {
	RelatedArticles(ctx context.Context, articleNumbers []string) (map[string][]string, error)
}

type Neo4jGraphStore struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jGraphStore(driver neo4j.DriverWithContext) *Neo4jGraphStore {
	return &Neo4jGraphStore{driver: driver}
}

// RelatedArticles returns, per requested article, the articles it references
// or is referenced by, ordered numerically.
func (s *Neo4jGraphStore) RelatedArticles(ctx context.Context, articleNumbers []string) (map[string][]string, error) {
	if s.driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}
	if len(articleNumbers) == 0 {
		return map[string][]string{}, nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (a:Article)
		WHERE a.number IN $numbers
		OPTIONAL MATCH (a)-[:REFERENCES]-(other:Article)
		WITH a, other
		ORDER BY other.sort
		WITH a, [n IN collect(DISTINCT other.number) WHERE n IS NOT NULL AND n <> a.number] AS related
		RETURN a.number AS number, related
	`, map[string]any{"numbers": articleNumbers})
	if err != nil {
		return nil, fmt.Errorf("run neo4j related articles query: %w", err)
	}

	related := make(map[string][]string, len(articleNumbers))
	for result.Next(ctx) {
		record := result.Record()
		numberVal, _ := record.Get("number")
		relatedVal, _ := record.Get("related")
		number, ok := numberVal.(string)
		if !ok || number == "" {
			continue
		}
		if values := convertStringSlice(relatedVal); len(values) > 0 {
			related[number] = values
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("neo4j related articles result error: %w", err)
	}

	return related, nil
}

var _ GraphStore = (*Neo4jGraphStore)(nil)

func convertStringSlice(value any) []string {
	raw, ok := value.([]any)
	if !ok {
		if v, ok := value.([]string); ok {
			return v
		}
		return nil
	}

	result := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			result = append(result, s)
		}
	}
	return result
}
