package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"vigil/internal/models"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) InsertMetrics(ctx context.Context, metrics []models.Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO metrics (name,kind,value,ts,tags_json) VALUES (?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range metrics {
		tags := "{}"
		if len(m.Tags) > 0 {
			b, _ := json.Marshal(m.Tags)
			tags = string(b)
		}
		if _, err := stmt.ExecContext(ctx, m.Name, string(m.Kind), m.Value, m.TS.UTC(), tags); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertAlerts writes trigger rows and flips them to resolved when the
// same id arrives again with the resolved flag set.
func (r *Repository) UpsertAlerts(ctx context.Context, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO alerts (id,rule,severity,message,ts,resolved,resolved_ts)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET resolved=excluded.resolved, resolved_ts=excluded.resolved_ts`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, a := range alerts {
		var resolvedAt any
		if a.ResolvedAt != nil {
			resolvedAt = a.ResolvedAt.UTC()
		}
		if _, err := stmt.ExecContext(ctx, a.ID, a.RuleIdentity, string(a.Severity), a.Message,
			a.TriggeredAt.UTC(), a.Resolved, resolvedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) InsertRecommendations(ctx context.Context, recs []models.ScalingRecommendation) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO scaling_recommendations
		(id,action,resource,cur,rec,confidence,reasoning,ts,applied) VALUES (?,?,?,?,?,?,?,?,0)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, rec.ID, string(rec.Action), rec.ResourceType,
			rec.CurrentCapacity, rec.RecommendedCapacity, rec.Confidence, rec.Reasoning, rec.TS.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) InsertReport(ctx context.Context, rep models.HealthReport) error {
	summary, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT OR IGNORE INTO reports (id,start_ts,end_ts,summary_json,score,ts)
		VALUES (?,?,?,?,?,?)`,
		rep.ID, rep.Start.UTC(), rep.End.UTC(), string(summary), rep.HealthScore, rep.GeneratedAt.UTC())
	return err
}

// MarkRecommendationApplied records that a caller acted on a recommendation.
func (r *Repository) MarkRecommendationApplied(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE scaling_recommendations SET applied=1 WHERE id = ?`, id)
	return err
}

func (r *Repository) RecentMetrics(ctx context.Context, name string, from time.Time, limit int) ([]models.Metric, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, `SELECT name,kind,value,ts,tags_json FROM metrics
		WHERE name = ? AND ts >= ? ORDER BY ts ASC LIMIT ?`, name, from.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Metric, 0, limit)
	for rows.Next() {
		var m models.Metric
		var kind, tags string
		if err := rows.Scan(&m.Name, &kind, &m.Value, &m.TS, &tags); err != nil {
			return nil, err
		}
		m.Kind = models.MetricKind(kind)
		if tags != "" && tags != "{}" {
			_ = json.Unmarshal([]byte(tags), &m.Tags)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) AlertsBetween(ctx context.Context, start, end time.Time) ([]models.Alert, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,rule,severity,message,ts,resolved,resolved_ts FROM alerts
		WHERE ts >= ? AND ts <= ? ORDER BY ts ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Alert
	for rows.Next() {
		var a models.Alert
		var severity string
		var resolvedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.RuleIdentity, &severity, &a.Message, &a.TriggeredAt, &a.Resolved, &resolvedAt); err != nil {
			return nil, err
		}
		a.Severity = models.Severity(severity)
		if resolvedAt.Valid {
			t := resolvedAt.Time.UTC()
			a.ResolvedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) RecommendationsFor(ctx context.Context, resource string, limit int) ([]models.ScalingRecommendation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id,action,resource,cur,rec,confidence,reasoning,ts
		FROM scaling_recommendations WHERE resource = ? ORDER BY ts DESC LIMIT ?`, resource, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ScalingRecommendation
	for rows.Next() {
		var rec models.ScalingRecommendation
		var action string
		if err := rows.Scan(&rec.ID, &action, &rec.ResourceType, &rec.CurrentCapacity,
			&rec.RecommendedCapacity, &rec.Confidence, &rec.Reasoning, &rec.TS); err != nil {
			return nil, err
		}
		rec.Action = models.ScalingAction(action)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneBefore drops history rows older than the cutoff. Resolved alerts
// only; an alert still firing is kept regardless of age.
func (r *Repository) PruneBefore(ctx context.Context, cutoff time.Time) error {
	c := cutoff.UTC()
	for _, stmt := range []string{
		`DELETE FROM metrics WHERE ts < ?`,
		`DELETE FROM alerts WHERE ts < ? AND resolved = 1`,
		`DELETE FROM scaling_recommendations WHERE ts < ?`,
		`DELETE FROM reports WHERE ts < ?`,
	} {
		if _, err := r.db.ExecContext(ctx, stmt, c); err != nil {
			return err
		}
	}
	return nil
}
