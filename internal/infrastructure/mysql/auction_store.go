package mysql

import (
	"context"
	"database/sql"
	"time"

	"material-exchange/internal/domain"
	"material-exchange/pkg/utils"

	"github.com/cockroachdb/errors"
	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

const auctionColumns = `id, listing_id, seller_id, start_time, end_time, starting_price,
        min_increment, soft_close_ms, deposit_required, created_at, updated_at`

// storageErr marks a driver failure so callers can tell it apart from the
// expected domain outcomes.
func storageErr(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), domain.ErrStorage)
}

type MySQLAuctionStore struct {
	db *sql.DB
}

func NewMySQLAuctionStore(db *sql.DB) *MySQLAuctionStore {
	return &MySQLAuctionStore{db: db}
}

func (r *MySQLAuctionStore) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	query := `
        INSERT INTO auctions (id, listing_id, seller_id, start_time, end_time, starting_price,
            min_increment, soft_close_ms, deposit_required, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		auction.ID, auction.ListingID, auction.SellerID,
		auction.StartTime.UTC(), auction.EndTime.UTC(),
		auction.StartingPrice, auction.MinIncrement,
		auction.SoftClose.Milliseconds(), auction.DepositRequired,
		auction.CreatedAt.UTC(), auction.UpdatedAt.UTC())
	if err != nil {
		return storageErr(err, "insert auction")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (*domain.Auction, error) {
	var auction domain.Auction
	var softCloseMs int64

	err := row.Scan(&auction.ID, &auction.ListingID, &auction.SellerID,
		&auction.StartTime, &auction.EndTime, &auction.StartingPrice,
		&auction.MinIncrement, &softCloseMs, &auction.DepositRequired,
		&auction.CreatedAt, &auction.UpdatedAt)
	if err != nil {
		return nil, err
	}
	auction.SoftClose = time.Duration(softCloseMs) * time.Millisecond
	return &auction, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// latestBid returns the ledger tail, or nil for an empty ledger. Amounts
// strictly increase with sequence, so the tail is also the high bid.
func latestBid(ctx context.Context, q queryer, auctionID string) (*domain.Bid, int, error) {
	query := `
        SELECT id, bidder_id, amount, placed_at, sequence
        FROM bids WHERE auction_id = ?
        ORDER BY sequence DESC LIMIT 1
    `
	var bid domain.Bid
	err := q.QueryRowContext(ctx, query, auctionID).Scan(
		&bid.ID, &bid.BidderID, &bid.Amount, &bid.Timestamp, &bid.Sequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	bid.AuctionID = auctionID
	return &bid, int(bid.Sequence), nil
}

func (r *MySQLAuctionStore) snapshot(ctx context.Context, auction *domain.Auction) (*domain.AuctionSnapshot, error) {
	high, count, err := latestBid(ctx, r.db, auction.ID)
	if err != nil {
		return nil, storageErr(err, "load high bid")
	}
	return &domain.AuctionSnapshot{
		Auction:  *auction,
		HighBid:  high,
		BidCount: count,
	}, nil
}

func (r *MySQLAuctionStore) GetSnapshot(ctx context.Context, auctionID string) (*domain.AuctionSnapshot, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = ?`

	auction, err := scanAuction(r.db.QueryRowContext(ctx, query, auctionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr(err, "load auction")
	}
	return r.snapshot(ctx, auction)
}

// AppendBid re-derives the high bid from the ledger inside a transaction that
// holds the auction row lock, checks the minimum raise against it, then
// inserts the bid and moves the end time.
func (r *MySQLAuctionStore) AppendBid(ctx context.Context, auctionID string, bid domain.NewBid) (*domain.Commit, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr(err, "begin transaction")
	}
	defer tx.Rollback()

	var endTime time.Time
	var startingPrice decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT end_time, starting_price FROM auctions WHERE id = ? FOR UPDATE`, auctionID,
	).Scan(&endTime, &startingPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr(err, "lock auction row")
	}

	previous, sequence, err := latestBid(ctx, tx, auctionID)
	if err != nil {
		return nil, storageErr(err, "load high bid")
	}

	high := startingPrice
	if previous != nil {
		high = previous.Amount
	}
	if !bid.Clears(high) {
		return nil, errors.Wrapf(domain.ErrLedgerConflict, "amount %s, high %s", bid.Amount, high)
	}

	ext := domain.MaybeExtend(endTime, bid.SoftClose, bid.Timestamp)

	committed := &domain.Bid{
		ID:             utils.GenerateID("bid"),
		AuctionID:      auctionID,
		BidderID:       bid.BidderID,
		Amount:         bid.Amount,
		Timestamp:      bid.Timestamp.UTC(),
		Sequence:       int64(sequence + 1),
		IdempotencyKey: bid.IdempotencyKey,
	}

	var idemKey sql.NullString
	if bid.IdempotencyKey != "" {
		idemKey = sql.NullString{String: bid.IdempotencyKey, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO bids (id, auction_id, bidder_id, amount, placed_at, sequence, idempotency_key)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `, committed.ID, auctionID, committed.BidderID, committed.Amount,
		committed.Timestamp, committed.Sequence, idemKey)
	if err != nil {
		return nil, storageErr(err, "insert bid")
	}

	if ext.Extended {
		_, err = tx.ExecContext(ctx,
			`UPDATE auctions SET end_time = ?, updated_at = ? WHERE id = ?`,
			ext.EndTime.UTC(), committed.Timestamp, auctionID)
		if err != nil {
			return nil, storageErr(err, "extend auction")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr(err, "commit bid")
	}

	return &domain.Commit{
		Bid:          committed,
		PreviousHigh: previous,
		EndTime:      ext.EndTime,
		Extended:     ext.Extended,
	}, nil
}

func (r *MySQLAuctionStore) GetBidHistory(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM auctions WHERE id = ?`, auctionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr(err, "load auction")
	}

	query := `
        SELECT id, bidder_id, amount, placed_at, sequence
        FROM bids
        WHERE auction_id = ?
        ORDER BY sequence ASC
    `
	rows, err := r.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, storageErr(err, "query bids")
	}
	defer rows.Close()

	bids := []*domain.Bid{}
	for rows.Next() {
		bid := domain.Bid{AuctionID: auctionID}
		if err := rows.Scan(&bid.ID, &bid.BidderID, &bid.Amount, &bid.Timestamp, &bid.Sequence); err != nil {
			return nil, storageErr(err, "scan bid")
		}
		bids = append(bids, &bid)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "iterate bids")
	}
	return bids, nil
}

func (r *MySQLAuctionStore) ListUnannounced(ctx context.Context, now time.Time) ([]*domain.AuctionSnapshot, error) {
	query := `SELECT ` + auctionColumns + `
        FROM auctions
        WHERE announced_at IS NULL AND end_time <= ?
        ORDER BY end_time ASC
    `
	rows, err := r.db.QueryContext(ctx, query, now.UTC())
	if err != nil {
		return nil, storageErr(err, "query ended auctions")
	}

	var auctions []*domain.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			rows.Close()
			return nil, storageErr(err, "scan auction")
		}
		auctions = append(auctions, auction)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "iterate auctions")
	}

	snapshots := make([]*domain.AuctionSnapshot, 0, len(auctions))
	for _, auction := range auctions {
		snap, err := r.snapshot(ctx, auction)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func (r *MySQLAuctionStore) MarkAnnounced(ctx context.Context, auctionID string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE auctions SET announced_at = ? WHERE id = ?`, at.UTC(), auctionID)
	if err != nil {
		return storageErr(err, "mark auction announced")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storageErr(err, "mark auction announced")
	}
	if affected == 0 {
		return errors.WithStack(domain.ErrNotFound)
	}
	return nil
}
