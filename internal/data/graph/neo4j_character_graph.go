package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
	"github.com/yungbote/kanda-backend/internal/platform/neo4jdb"
)

// CharacterGraph mirrors a character's relationships into Neo4j.
type CharacterGraph interface {
	SyncRelationships(ctx context.Context, c *types.CharacterProfile) error
	DeleteCharacter(ctx context.Context, id uuid.UUID) error
}

type neo4jCharacterGraph struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

// NewCharacterGraph returns nil when client is nil so callers can skip the
// mirror with a plain nil check.
func NewCharacterGraph(client *neo4jdb.Client, baseLog *logger.Logger) CharacterGraph {
	if client == nil || client.Driver == nil {
		return nil
	}
	return &neo4jCharacterGraph{client: client, log: baseLog.With("graph", "CharacterGraph")}
}

// RelationshipRows flattens relationship entries into Cypher parameters.
// Entries without a usable name are dropped.
func RelationshipRows(c *types.CharacterProfile, syncedAt string) []map[string]any {
	if c == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(c.Relationships))
	seen := map[string]bool{}
	for _, rel := range c.Relationships {
		name := firstString(rel, "name", "character", "person", "with")
		norm := normalizeName(name)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, map[string]any{
			"name":        strings.TrimSpace(name),
			"name_norm":   norm,
			"kind":        firstString(rel, "relationship", "type", "kind", "relation"),
			"description": firstString(rel, "description", "details", "notes"),
			"synced_at":   syncedAt,
		})
	}
	return out
}

func (g *neo4jCharacterGraph) SyncRelationships(ctx context.Context, c *types.CharacterProfile) error {
	if c == nil || c.ID == uuid.Nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rels := RelationshipRows(c, now)

	session := g.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.client.Database,
	})
	defer session.Close(ctx)

	// Best-effort schema init.
	if res, err := session.Run(ctx, `CREATE CONSTRAINT character_id_unique IF NOT EXISTS FOR (c:Character) REQUIRE c.id IS UNIQUE`, nil); err != nil {
		g.log.Warn("neo4j schema init failed (continuing)", "error", err)
	} else {
		_, _ = res.Consume(ctx)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MERGE (u:User {id: $owner_id})
MERGE (c:Character {id: $id})
SET c.name = $name, c.version_number = $version_number, c.synced_at = $synced_at
MERGE (u)-[o:OWNS]->(c)
SET o.synced_at = $synced_at
WITH c
OPTIONAL MATCH (c)-[old:RELATES_TO]->(:Person)
DELETE old
`, map[string]any{
			"owner_id":       c.OwnerUserID.String(),
			"id":             c.ID.String(),
			"name":           c.Name,
			"version_number": c.VersionNumber,
			"synced_at":      now,
		})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		if len(rels) == 0 {
			return nil, nil
		}
		res, err = tx.Run(ctx, `
MATCH (c:Character {id: $id})
UNWIND $rels AS r
MERGE (p:Person {owner_id: $owner_id, name_norm: r.name_norm})
SET p.name = r.name, p.synced_at = r.synced_at
MERGE (c)-[e:RELATES_TO]->(p)
SET e.kind = r.kind, e.description = r.description, e.synced_at = r.synced_at
`, map[string]any{
			"id":       c.ID.String(),
			"owner_id": c.OwnerUserID.String(),
			"rels":     rels,
		})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("neo4j sync relationships: %w", err)
	}
	return nil
}

func (g *neo4jCharacterGraph) DeleteCharacter(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	session := g.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.client.Database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (c:Character {id: $id}) DETACH DELETE c`, map[string]any{"id": id.String()})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return err
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
