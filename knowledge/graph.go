package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Document is an imported corpus file as seen by the graph.
type Document struct {
	ID         string
	Path       string
	Title      string
	SHA        string
	SourceType string
	Articles   []Article
}

// Article is one article of the regulation with the articles its text cites.
type Article struct {
	Number     string
	Title      string
	Chapter    string
	References []string
}

// Graph mirrors the article structure of imported documents into Neo4j.
type Graph struct {
	driver neo4j.DriverWithContext
}

func NewGraph(driver neo4j.DriverWithContext) *Graph {
	return &Graph{driver: driver}
}

// SyncDocument replaces the document's CONTAINS links and the outgoing
// REFERENCES edges of its articles. Article nodes are shared between
// documents and keyed by number.
func (g *Graph) SyncDocument(ctx context.Context, doc Document) error {
	if g == nil || g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	params := map[string]any{
		"id":          doc.ID,
		"path":        doc.Path,
		"title":       doc.Title,
		"sha":         doc.SHA,
		"source_type": doc.SourceType,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {id: $id})
			SET d.path = $path,
			    d.title = $title,
			    d.sha256 = $sha,
			    d.source_type = $source_type,
			    d.updated_at = datetime()
		`, params); err != nil {
			return nil, fmt.Errorf("upsert document node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[:CONTAINS]->(a:Article)-[r:REFERENCES]->(:Article)
			DELETE r
		`, params); err != nil {
			return nil, fmt.Errorf("clear existing references: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[r:CONTAINS]->(:Article)
			DELETE r
		`, params); err != nil {
			return nil, fmt.Errorf("clear existing article links: %w", err)
		}

		for _, article := range doc.Articles {
			if article.Number == "" {
				continue
			}
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $doc_id})
				MERGE (a:Article {number: $number})
				SET a.title = $title,
				    a.chapter = $chapter,
				    a.sort = $sort
				MERGE (d)-[:CONTAINS]->(a)
			`, map[string]any{
				"doc_id":  doc.ID,
				"number":  article.Number,
				"title":   article.Title,
				"chapter": article.Chapter,
				"sort":    ArticleSortKey(article.Number),
			}); err != nil {
				return nil, fmt.Errorf("upsert article %s: %w", article.Number, err)
			}

			for _, ref := range article.References {
				if ref == "" || ref == article.Number {
					continue
				}
				if _, err := tx.Run(ctx, `
					MATCH (a:Article {number: $from})
					MERGE (b:Article {number: $to})
					ON CREATE SET b.sort = $sort
					MERGE (a)-[:REFERENCES]->(b)
				`, map[string]any{
					"from": article.Number,
					"to":   ref,
					"sort": ArticleSortKey(ref),
				}); err != nil {
					return nil, fmt.Errorf("link article %s to %s: %w", article.Number, ref, err)
				}
			}
		}

		return nil, nil
	})

	return err
}

// Clear removes every document and article node.
func (g *Graph) Clear(ctx context.Context) error {
	if g == nil || g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	if _, err := session.Run(ctx, `
		MATCH (n)
		WHERE n:Document OR n:Article
		DETACH DELETE n
	`, nil); err != nil {
		return fmt.Errorf("clear graph: %w", err)
	}
	return nil
}
