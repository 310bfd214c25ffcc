package memstore

import "github.com/Ramsey-B/clover/pkg/store"

var (
	_ store.Transactor     = (*Store)(nil)
	_ store.RuleStore      = (*RuleStore)(nil)
	_ store.CandidateStore = (*CandidateStore)(nil)
	_ store.SourceStore    = (*SourceStore)(nil)
	_ store.AuditStore     = (*AuditStore)(nil)
	_ store.CanonicalStore = (*CanonicalStore)(nil)
	_ store.AliasStore     = (*AliasStore)(nil)
)
