package merging

import "github.com/Ramsey-B/clover/pkg/models"

// SelectCanonical picks the surviving record of an automated merge: the more
// complete record, then the higher table priority, then the smaller id.
func SelectCanonical(catalog *models.Catalog, a, b *models.Entity) models.EntityRef {
	tableA, okA := catalog.Table(a.Ref.Table)
	tableB, okB := catalog.Table(b.Ref.Table)
	if okA && okB {
		ca, cb := tableA.Completeness(a), tableB.Completeness(b)
		if ca != cb {
			if ca > cb {
				return a.Ref
			}
			return b.Ref
		}
		if tableA.Priority != tableB.Priority {
			if tableA.Priority > tableB.Priority {
				return a.Ref
			}
			return b.Ref
		}
	}

	if a.Ref.ID != b.Ref.ID {
		if a.Ref.ID < b.Ref.ID {
			return a.Ref
		}
		return b.Ref
	}
	if a.Ref.Less(b.Ref) {
		return a.Ref
	}
	return b.Ref
}
