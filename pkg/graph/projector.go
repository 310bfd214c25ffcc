package graph

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Writer executes statements atomically
type Writer interface {
	Write(ctx context.Context, statements []Statement) error
}

const upsertContact = `
MERGE (c:CanonicalContact {id: $id})
SET c.email = $email, c.phone = $phone, c.name = $name, c.company_name = $company_name,
    c.completeness = $completeness, c.is_active = $is_active, c.updated_at = $updated_at`

// Relinks every record of the contact and drops edges to contacts it was
// folded out of.
const linkRecords = `
MATCH (c:CanonicalContact {id: $id})
UNWIND $records AS rec
MERGE (r:SourceRecord {ref: rec.ref})
SET r.table = rec.table, r.record_id = rec.id
WITH c, r
OPTIONAL MATCH (r)-[old:RESOLVES_TO]->(other:CanonicalContact)
WHERE other.id <> c.id
DELETE old
MERGE (r)-[:RESOLVES_TO]->(c)`

const mergedInto = `
MERGE (old:SourceRecord {ref: $merged_ref})
SET old.active = false
MERGE (canon:SourceRecord {ref: $canonical_ref})
MERGE (old)-[m:MERGED_INTO {merged_entity_id: $merged_entity_id}]->(canon)
SET m.automated = $automated, m.at = $at`

// Projector mirrors merges into the identity graph:
// (SourceRecord)-[:RESOLVES_TO]->(CanonicalContact) and
// (SourceRecord)-[:MERGED_INTO]->(SourceRecord)
type Projector struct {
	writer Writer
	logger ectologger.Logger
}

func NewProjector(writer Writer, logger ectologger.Logger) *Projector {
	return &Projector{writer: writer, logger: logger}
}

func (p *Projector) Name() string {
	return "graph"
}

// MergeCompleted implements merging.Observer
func (p *Projector) MergeCompleted(ctx context.Context, result *models.MergeResult) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.MergeCompleted")
	defer span.End()

	statements := Statements(result)
	if len(statements) == 0 {
		return nil
	}
	if err := p.writer.Write(ctx, statements); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("canonical", result.Canonical.String()).Error("Failed to project merge into graph")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"canonical":   result.Canonical.String(),
		"merged_away": result.MergedAway.String(),
	}).Debug("Projected merge into graph")
	return nil
}

// Statements builds the cypher for one merge result
func Statements(result *models.MergeResult) []Statement {
	var statements []Statement

	if c := result.Contact; c != nil {
		statements = append(statements, Statement{Cypher: upsertContact, Params: map[string]any{
			"id":           c.ID,
			"email":        deref(c.Email),
			"phone":        deref(c.Phone),
			"name":         deref(c.Name),
			"company_name": deref(c.CompanyName),
			"completeness": c.Completeness,
			"is_active":    c.IsActive,
			"updated_at":   c.UpdatedAt.UTC().Format(time.RFC3339),
		}})

		records := make([]map[string]any, 0, len(c.LinkedRecords))
		for _, ref := range c.LinkedRecords {
			records = append(records, map[string]any{"ref": ref.String(), "table": ref.Table, "id": ref.ID})
		}
		statements = append(statements, Statement{Cypher: linkRecords, Params: map[string]any{
			"id":      c.ID,
			"records": records,
		}})
	}

	if result.Audit != nil {
		statements = append(statements, Statement{Cypher: mergedInto, Params: map[string]any{
			"merged_ref":       result.MergedAway.String(),
			"canonical_ref":    result.Canonical.String(),
			"merged_entity_id": result.Audit.ID,
			"automated":        result.Audit.Automated,
			"at":               result.Audit.CreatedAt.UTC().Format(time.RFC3339),
		}})
	}
	return statements
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
