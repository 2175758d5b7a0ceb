package domain

// AuditInfo carries the writer identity stamped onto LastModifiedBy (spec §3.1).
type AuditInfo struct {
	LastModifiedBy string
}
