// Package audit appends immutable custody-transition records. Entries are
// written after the lease mutation has committed; the mutation is the source
// of truth, so a failed audit write is logged and never propagated back to
// the caller.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

type Writer struct {
	DB     *sql.DB
	Logger *log.Logger
	Now    func() time.Time
}

type Details map[string]any

// Entry describes one transition to record.
type Entry struct {
	VideoID       string
	EventType     string
	CorrelationID string
	ActorID       string
	FromHolder    string
	ToHolder      string
	FromRole      string
	ToRole        string
	Details       Details
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w Writer) logger() *log.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return log.Default()
}

// Append writes one audit row.
func (w Writer) Append(ctx context.Context, e Entry) error {
	ts := w.now().UTC().Format(time.RFC3339)
	if e.Details == nil {
		e.Details = Details{}
	}
	data, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO audit_events(ts,video_id,event_type,correlation_id,actor_id,from_holder,to_holder,from_role,to_role,details_json)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ts, e.VideoID, e.EventType, e.CorrelationID, e.ActorID,
		nullable(e.FromHolder), nullable(e.ToHolder), nullable(e.FromRole), nullable(e.ToRole), string(data))
	return err
}

// Record appends best-effort: the custody mutation already committed, so a
// failure here is logged rather than surfaced.
func (w Writer) Record(ctx context.Context, e Entry) {
	if err := w.Append(ctx, e); err != nil {
		w.logger().Printf("audit: append %s for video %s failed: %v", e.EventType, e.VideoID, err)
	}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
