package models

// QueryRequest describes one report query to run against a tenant's target.
// Every placeholder referenced in Query must have a corresponding entry in
// Parameters; binding fails fast otherwise rather than emitting a
// partially-substituted query.
type QueryRequest struct {
	TenantID   string         `json:"tenant_id"`
	Query      string         `json:"query"`
	Parameters map[string]any `json:"parameters,omitempty"`
	SkipCache  bool           `json:"skip_cache,omitempty"`
}

// ReportTemplate is stored, parameterized SQL text associated with a report
// id. Read-only reference data owned by the reporting subsystem; the gateway
// treats the query text as an opaque string to template-substitute.
type ReportTemplate struct {
	ReportID     string   `yaml:"report_id" json:"report_id"`
	Name         string   `yaml:"name" json:"name"`
	QueryText    string   `yaml:"query_text" json:"query_text"`
	QueryTextAlt string   `yaml:"query_text_alt,omitempty" json:"query_text_alt,omitempty"`
	Parameters   []string `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// EffectiveQuery returns the query text to execute. Primary takes
// precedence; the secondary dialect text is used only when primary is empty.
func (t *ReportTemplate) EffectiveQuery() string {
	if t.QueryText != "" {
		return t.QueryText
	}
	return t.QueryTextAlt
}
