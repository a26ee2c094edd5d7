package models

// TargetKind identifies how queries for a tenant are executed.
type TargetKind string

const (
	// TargetRemote executes through the remote query-execution API.
	TargetRemote TargetKind = "remote"
	// TargetPostgres executes directly against a PostgreSQL database.
	TargetPostgres TargetKind = "postgres"
	// TargetMSSQL executes directly against a SQL Server database.
	TargetMSSQL TargetKind = "mssql"
)

// TenantTarget is the resolved database target for a tenant. Resolved once
// per request from the tenant directory and immutable for the request's
// lifetime. A stale target after a mid-session directory change is accepted
// as eventual consistency.
type TenantTarget struct {
	TenantID   string     `json:"tenantId"`
	DatabaseID string     `json:"databaseId"`
	APIKey     string     `json:"apiKey,omitempty"`
	ConnString string     `json:"connectionString,omitempty"`
	Kind       TargetKind `json:"kind,omitempty"`
}
