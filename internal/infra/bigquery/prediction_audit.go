// Package bigquery mirrors classification predictions into a BigQuery
// audit table.
package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/journal-classifier/internal/journal"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// DefaultTable is the audit table name inside the configured dataset.
const DefaultTable = "prediction_audit"

// PredictionAuditRow is one audit record.
type PredictionAuditRow struct {
	PredictionID string `bigquery:"prediction_id"` // REQUIRED
	TenantID     string `bigquery:"tenant_id"`     // REQUIRED

	ModelName        string  `bigquery:"model_name"`        // REQUIRED
	PredictedAccount string  `bigquery:"predicted_account"` // REQUIRED
	Confidence       float64 `bigquery:"confidence"`        // REQUIRED

	MatchedVendorID bigquery.NullString `bigquery:"matched_vendor_id"` // NULLABLE
	TokensUsed      bigquery.NullInt64  `bigquery:"tokens_used"`       // NULLABLE

	RawJSON   bigquery.NullJSON      `bigquery:"raw_json"`   // NULLABLE (JSON)
	CreatedTS bigquery.NullTimestamp `bigquery:"created_ts"` // REQUIRED
}

// NewPredictionAuditRow builds the audit row for a saved prediction. Raw
// replies that are not JSON objects are wrapped as {"text": ...}.
func NewPredictionAuditRow(tenantID, predictionID string, p journal.Prediction) *PredictionAuditRow {
	row := &PredictionAuditRow{
		PredictionID:     predictionID,
		TenantID:         tenantID,
		ModelName:        p.Model,
		PredictedAccount: p.PredictedAccount,
		Confidence:       p.AccountConfidence,
		MatchedVendorID:  bigquery.NullString{StringVal: p.MatchedVendorID, Valid: p.MatchedVendorID != ""},
		CreatedTS:        bigquery.NullTimestamp{Timestamp: p.CreatedAt, Valid: !p.CreatedAt.IsZero()},
	}
	if !row.CreatedTS.Valid {
		row.CreatedTS = bigquery.NullTimestamp{Timestamp: time.Now().UTC(), Valid: true}
	}
	if p.TokensUsed != nil {
		row.TokensUsed = bigquery.NullInt64{Int64: int64(*p.TokensUsed), Valid: true}
	}
	if p.RawResponse != "" {
		raw := p.RawResponse
		if !json.Valid([]byte(raw)) {
			b, _ := json.Marshal(map[string]string{"text": raw})
			raw = string(b)
		}
		row.RawJSON = bigquery.NullJSON{JSONVal: raw, Valid: true}
	}
	return row
}

// PredictionAuditRepository writes audit rows through a shared client.
type PredictionAuditRepository struct {
	client  *bigquery.Client
	project string
	dataset string
	table   string
}

// NewPredictionAuditRepository creates a BigQuery client for projectID.
func NewPredictionAuditRepository(ctx context.Context, projectID, datasetID string, opts ...option.ClientOption) (*PredictionAuditRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewPredictionAuditRepository: creating client: %w", err)
	}
	return &PredictionAuditRepository{
		client:  client,
		project: projectID,
		dataset: datasetID,
		table:   DefaultTable,
	}, nil
}

// Close closes the BigQuery client connection.
func (r *PredictionAuditRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// TableRef returns the fully qualified, quoted table name.
func (r *PredictionAuditRepository) TableRef() string {
	return tableRef(r.project, r.dataset, r.table)
}

func tableRef(project, dataset, table string) string {
	return "`" + project + "." + dataset + "." + table + "`"
}

// InsertPredictionAudit inserts one row. Uses DML INSERT to avoid streaming
// buffer issues.
func (r *PredictionAuditRepository) InsertPredictionAudit(ctx context.Context, row *PredictionAuditRow) error {
	q := r.client.Query(`
		INSERT INTO ` + r.TableRef() + ` (
			prediction_id, tenant_id, model_name,
			predicted_account, confidence, matched_vendor_id,
			tokens_used, raw_json, created_ts
		)
		VALUES (
			@prediction_id, @tenant_id, @model_name,
			@predicted_account, @confidence, @matched_vendor_id,
			@tokens_used, @raw_json, @created_ts
		)
	`)

	q.Parameters = []bigquery.QueryParameter{
		{Name: "prediction_id", Value: row.PredictionID},
		{Name: "tenant_id", Value: row.TenantID},
		{Name: "model_name", Value: row.ModelName},
		{Name: "predicted_account", Value: row.PredictedAccount},
		{Name: "confidence", Value: row.Confidence},
		{Name: "matched_vendor_id", Value: row.MatchedVendorID},
		{Name: "tokens_used", Value: row.TokensUsed},
		{Name: "raw_json", Value: row.RawJSON},
		{Name: "created_ts", Value: row.CreatedTS},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("InsertPredictionAudit: running insert query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("InsertPredictionAudit: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("InsertPredictionAudit: job error: %w", err)
	}

	return nil
}

// ListRecentPredictionAudits returns a tenant's latest audit rows.
func (r *PredictionAuditRepository) ListRecentPredictionAudits(ctx context.Context, tenantID string, limit int) ([]*PredictionAuditRow, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.client.Query(`
		SELECT
		  prediction_id, tenant_id, model_name,
		  predicted_account, confidence, matched_vendor_id,
		  tokens_used, raw_json, created_ts
		FROM ` + r.TableRef() + `
		WHERE tenant_id = @tenant_id
		ORDER BY created_ts DESC
		LIMIT @limit
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "tenant_id", Value: tenantID},
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRecentPredictionAudits: query read: %w", err)
	}

	var rows []*PredictionAuditRow
	for {
		var row PredictionAuditRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRecentPredictionAudits: iter next: %w", err)
		}
		rows = append(rows, &row)
	}
	return rows, nil
}
