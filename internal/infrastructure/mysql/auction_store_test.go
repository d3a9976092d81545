package mysql

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"material-exchange/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var auctionRowColumns = []string{
	"id", "listing_id", "seller_id", "start_time", "end_time", "starting_price",
	"min_increment", "soft_close_ms", "deposit_required", "created_at", "updated_at",
}

var bidRowColumns = []string{"id", "bidder_id", "amount", "placed_at", "sequence"}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func TestAppendBid_ExtendsInsideWindow(t *testing.T) {
	db, mock := newMock(t)
	store := NewMySQLAuctionStore(db)

	end := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	placed := end.Add(-90 * time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT end_time, starting_price FROM auctions WHERE id = \? FOR UPDATE`).
		WithArgs("auction-1").
		WillReturnRows(sqlmock.NewRows([]string{"end_time", "starting_price"}).AddRow(end, "0"))
	mock.ExpectQuery(`SELECT id, bidder_id, amount, placed_at, sequence\s+FROM bids WHERE auction_id = \?`).
		WithArgs("auction-1").
		WillReturnRows(sqlmock.NewRows(bidRowColumns).AddRow("bid_1", "alice", "50.0000", end.Add(-200*time.Second), int64(1)))
	mock.ExpectExec(`INSERT INTO bids`).
		WithArgs(sqlmock.AnyArg(), "auction-1", "bob", decimal.NewFromInt(65), placed, int64(2), "key-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE auctions SET end_time = \?, updated_at = \? WHERE id = \?`).
		WithArgs(end.Add(90*time.Second), placed, "auction-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	commit, err := store.AppendBid(context.Background(), "auction-1", domain.NewBid{
		BidderID:       "bob",
		Amount:         decimal.NewFromInt(65),
		Timestamp:      placed,
		SoftClose:      180 * time.Second,
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.True(t, commit.Extended)
	assert.Equal(t, end.Add(90*time.Second), commit.EndTime)
	assert.Equal(t, int64(2), commit.Bid.Sequence)
	require.NotNil(t, commit.PreviousHigh)
	assert.Equal(t, "alice", commit.PreviousHigh.BidderID)
	assert.True(t, decimal.NewFromInt(50).Equal(commit.PreviousHigh.Amount))
}

func TestAppendBid_OutsideWindowLeavesEndTime(t *testing.T) {
	db, mock := newMock(t)
	store := NewMySQLAuctionStore(db)

	end := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("auction-1").
		WillReturnRows(sqlmock.NewRows([]string{"end_time", "starting_price"}).AddRow(end, "10"))
	mock.ExpectQuery(`FROM bids WHERE auction_id = \?`).
		WithArgs("auction-1").
		WillReturnRows(sqlmock.NewRows(bidRowColumns))
	mock.ExpectExec(`INSERT INTO bids`).
		WithArgs(sqlmock.AnyArg(), "auction-1", "alice", decimal.NewFromInt(20), end.Add(-time.Hour), int64(1), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	commit, err := store.AppendBid(context.Background(), "auction-1", domain.NewBid{
		BidderID:  "alice",
		Amount:    decimal.NewFromInt(20),
		Timestamp: end.Add(-time.Hour),
		SoftClose: 180 * time.Second,
	})
	require.NoError(t, err)
	assert.False(t, commit.Extended)
	assert.Nil(t, commit.PreviousHigh)
	assert.Equal(t, end, commit.EndTime)
}

func TestAppendBid_RejectsAmountNotAboveLedger(t *testing.T) {
	db, mock := newMock(t)
	store := NewMySQLAuctionStore(db)

	end := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("auction-1").
		WillReturnRows(sqlmock.NewRows([]string{"end_time", "starting_price"}).AddRow(end, "0"))
	mock.ExpectQuery(`FROM bids WHERE auction_id = \?`).
		WithArgs("auction-1").
		WillReturnRows(sqlmock.NewRows(bidRowColumns).AddRow("bid_1", "alice", "100", end.Add(-time.Hour), int64(1)))
	mock.ExpectRollback()

	_, err := store.AppendBid(context.Background(), "auction-1", domain.NewBid{
		BidderID:  "bob",
		Amount:    decimal.NewFromInt(100),
		Timestamp: end.Add(-time.Minute),
	})
	assert.True(t, errors.Is(err, domain.ErrLedgerConflict))
}

func TestAppendBid_RejectsAmountShortOfMinRaise(t *testing.T) {
	db, mock := newMock(t)
	store := NewMySQLAuctionStore(db)

	end := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("auction-1").
		WillReturnRows(sqlmock.NewRows([]string{"end_time", "starting_price"}).AddRow(end, "0"))
	mock.ExpectQuery(`FROM bids WHERE auction_id = \?`).
		WithArgs("auction-1").
		WillReturnRows(sqlmock.NewRows(bidRowColumns).AddRow("bid_1", "alice", "100", end.Add(-time.Hour), int64(1)))
	mock.ExpectRollback()

	_, err := store.AppendBid(context.Background(), "auction-1", domain.NewBid{
		BidderID:  "bob",
		Amount:    decimal.RequireFromString("100.01"),
		Timestamp: end.Add(-time.Minute),
		MinRaise:  decimal.NewFromInt(10),
	})
	assert.True(t, errors.Is(err, domain.ErrLedgerConflict))
}

func TestAppendBid_UnknownAuction(t *testing.T) {
	db, mock := newMock(t)
	store := NewMySQLAuctionStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.AppendBid(context.Background(), "missing", domain.NewBid{Amount: decimal.NewFromInt(1)})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestAppendBid_InsertFailureIsStorageError(t *testing.T) {
	db, mock := newMock(t)
	store := NewMySQLAuctionStore(db)

	end := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("auction-1").
		WillReturnRows(sqlmock.NewRows([]string{"end_time", "starting_price"}).AddRow(end, "0"))
	mock.ExpectQuery(`FROM bids WHERE auction_id = \?`).
		WithArgs("auction-1").
		WillReturnRows(sqlmock.NewRows(bidRowColumns))
	mock.ExpectExec(`INSERT INTO bids`).
		WillReturnError(errors.New("deadlock found when trying to get lock"))
	mock.ExpectRollback()

	_, err := store.AppendBid(context.Background(), "auction-1", domain.NewBid{
		BidderID:  "alice",
		Amount:    decimal.NewFromInt(5),
		Timestamp: end.Add(-time.Hour),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStorage))
	assert.False(t, errors.Is(err, domain.ErrNotFound))
}

func TestGetSnapshot(t *testing.T) {
	db, mock := newMock(t)
	store := NewMySQLAuctionStore(db)

	start := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	mock.ExpectQuery(`FROM auctions WHERE id = \?`).
		WithArgs("auction-1").
		WillReturnRows(sqlmock.NewRows(auctionRowColumns).AddRow(
			"auction-1", "listing-1", "seller", start, end, "25.00", "5.00", int64(120000), true, start, start))
	mock.ExpectQuery(`FROM bids WHERE auction_id = \?`).
		WithArgs("auction-1").
		WillReturnRows(sqlmock.NewRows(bidRowColumns).AddRow("bid_3", "carol", "80", start.Add(time.Hour), int64(3)))

	snap, err := store.GetSnapshot(context.Background(), "auction-1")
	require.NoError(t, err)
	assert.Equal(t, "listing-1", snap.Auction.ListingID)
	assert.Equal(t, 2*time.Minute, snap.Auction.SoftClose)
	assert.True(t, snap.Auction.DepositRequired)
	assert.True(t, decimal.RequireFromString("25").Equal(snap.Auction.StartingPrice))
	assert.Equal(t, 3, snap.BidCount)
	assert.Equal(t, "carol", snap.LeaderID())
	assert.True(t, decimal.NewFromInt(80).Equal(snap.CurrentHigh()))
}

func TestGetSnapshot_NotFound(t *testing.T) {
	db, mock := newMock(t)
	store := NewMySQLAuctionStore(db)

	mock.ExpectQuery(`FROM auctions WHERE id = \?`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(auctionRowColumns))

	_, err := store.GetSnapshot(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestGetBidHistory(t *testing.T) {
	db, mock := newMock(t)
	store := NewMySQLAuctionStore(db)

	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT 1 FROM auctions WHERE id = \?`).
		WithArgs("auction-1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(`ORDER BY sequence ASC`).
		WithArgs("auction-1").
		WillReturnRows(sqlmock.NewRows(bidRowColumns).
			AddRow("bid_1", "alice", "50", at, int64(1)).
			AddRow("bid_2", "bob", "65", at.Add(time.Minute), int64(2)))

	bids, err := store.GetBidHistory(context.Background(), "auction-1")
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, "auction-1", bids[1].AuctionID)
	assert.Equal(t, int64(2), bids[1].Sequence)
}

func TestMarkAnnounced(t *testing.T) {
	db, mock := newMock(t)
	store := NewMySQLAuctionStore(db)

	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE auctions SET announced_at = \? WHERE id = \?`).
		WithArgs(at, "auction-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE auctions SET announced_at = \? WHERE id = \?`).
		WithArgs(at, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.MarkAnnounced(context.Background(), "auction-1", at))
	assert.True(t, errors.Is(store.MarkAnnounced(context.Background(), "missing", at), domain.ErrNotFound))
}

func TestListUnannounced(t *testing.T) {
	db, mock := newMock(t)
	store := NewMySQLAuctionStore(db)

	start := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	now := end.Add(time.Minute)

	mock.ExpectQuery(`WHERE announced_at IS NULL AND end_time <= \?`).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(auctionRowColumns).AddRow(
			"auction-1", "listing-1", "seller", start, end, "0", "0", int64(0), false, start, start))
	mock.ExpectQuery(`FROM bids WHERE auction_id = \?`).
		WithArgs("auction-1").
		WillReturnRows(sqlmock.NewRows(bidRowColumns))

	due, err := store.ListUnannounced(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Nil(t, due[0].HighBid)
	assert.Equal(t, "", due[0].LeaderID())
}

func TestBidEventRepository(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMySQLBidEventRepository(db)
	created := time.Date(2026, 4, 1, 12, 0, 1, 0, time.UTC)
	repo.now = func() time.Time { return created }

	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	end := at.Add(3 * time.Minute)

	mock.ExpectExec(`INSERT INTO bid_events`).
		WithArgs("auction-1", "auction_extended", "", "", "", end, at, created).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`FROM bid_events`).
		WithArgs("auction-1").
		WillReturnRows(sqlmock.NewRows([]string{"auction_id", "event_type", "user_id", "amount", "previous_amount", "end_time", "timestamp"}).
			AddRow("auction-1", "bid_accepted", "alice", "50", "", nil, at.Add(-time.Second)).
			AddRow("auction-1", "auction_extended", "", "", "", end, at))

	require.NoError(t, repo.SaveBidEvent(context.Background(), &domain.BidEvent{
		Type:      domain.AuctionExtended,
		AuctionID: "auction-1",
		EndTime:   &end,
		Timestamp: at,
	}))

	events, err := repo.GetBidEvents(context.Background(), "auction-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Nil(t, events[0].EndTime)
	require.NotNil(t, events[1].EndTime)
	assert.Equal(t, end, *events[1].EndTime)
}
