package mysql

import (
	"context"
	"database/sql"
	"time"

	"material-exchange/internal/domain"
)

// MySQLBidEventRepository is the analytics event log fed by the bidding
// event stream.
type MySQLBidEventRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewMySQLBidEventRepository(db *sql.DB) *MySQLBidEventRepository {
	return &MySQLBidEventRepository{db: db, now: time.Now}
}

func (r *MySQLBidEventRepository) SaveBidEvent(ctx context.Context, event *domain.BidEvent) error {
	query := `
        INSERT INTO bid_events (auction_id, event_type, user_id, amount, previous_amount, end_time, timestamp, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `
	var endTime sql.NullTime
	if event.EndTime != nil {
		endTime = sql.NullTime{Time: event.EndTime.UTC(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		event.AuctionID, string(event.Type), event.UserID, event.Amount, event.PreviousAmount,
		endTime, event.Timestamp.UTC(), r.now().UTC())
	if err != nil {
		return storageErr(err, "insert bid event")
	}
	return nil
}

func (r *MySQLBidEventRepository) GetBidEvents(ctx context.Context, auctionID string) ([]*domain.BidEvent, error) {
	query := `
        SELECT auction_id, event_type, user_id, amount, previous_amount, end_time, timestamp
        FROM bid_events
        WHERE auction_id = ?
        ORDER BY timestamp ASC, id ASC
    `

	rows, err := r.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, storageErr(err, "query bid events")
	}
	defer rows.Close()

	var events []*domain.BidEvent
	for rows.Next() {
		var event domain.BidEvent
		var eventType string
		var endTime sql.NullTime

		err := rows.Scan(&event.AuctionID, &eventType, &event.UserID, &event.Amount,
			&event.PreviousAmount, &endTime, &event.Timestamp)
		if err != nil {
			return nil, storageErr(err, "scan bid event")
		}

		event.Type = domain.BidEventType(eventType)
		if endTime.Valid {
			t := endTime.Time
			event.EndTime = &t
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "iterate bid events")
	}

	return events, nil
}
