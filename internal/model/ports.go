package model

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ── Storage / Stream Port Interfaces ──
// These interfaces decouple the use cases from concrete infrastructure
// (SQLite, Redis). Each implementation satisfies one or more of these ports.

// Sentinel errors shared by all PositionStore implementations.
var (
	// ErrNotFound is returned when no position matches the lookup key.
	ErrNotFound = errors.New("position not found")

	// ErrDuplicateTicker is returned by Save when a position for the
	// ticker already exists (unique-ticker constraint).
	ErrDuplicateTicker = errors.New("position already exists for ticker")

	// ErrVersionConflict is returned by Update when the stored row changed
	// since it was read. The caller reloads and retries.
	ErrVersionConflict = errors.New("position version conflict")
)

// PositionStore is durable keyed storage for positions and their
// applied-transaction sets. Save and Update commit the position row and
// the applied-transaction records in a single transaction: a position is
// never persisted with its fields updated but an ID missing, or vice versa.
type PositionStore interface {
	// FindByTicker returns the position for ticker, or ErrNotFound.
	FindByTicker(ctx context.Context, ticker string) (*Position, error)

	// FindByID returns the position with the given ID, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Position, error)

	// FindAll returns every stored position.
	FindAll(ctx context.Context) ([]*Position, error)

	// Save inserts a new position. Returns ErrDuplicateTicker if the
	// ticker is already taken.
	Save(ctx context.Context, p *Position) (*Position, error)

	// Update atomically replaces the position row and synchronizes the
	// applied-transaction set. Returns ErrVersionConflict if the stored
	// version differs from p.Version.
	Update(ctx context.Context, p *Position) (*Position, error)

	// ExistsByTicker reports whether a position exists for ticker.
	ExistsByTicker(ctx context.Context, ticker string) (bool, error)

	// CountAll returns the total number of positions.
	CountAll(ctx context.Context) (int64, error)

	// CountWithShares returns the number of positions holding shares.
	CountWithShares(ctx context.Context) (int64, error)

	// Close releases underlying resources.
	Close() error
}

// EnsureResult is the outcome of an idempotent consumer-group creation.
type EnsureResult int

const (
	GroupCreated EnsureResult = iota
	GroupAlreadyExists
)

// StreamEntry is one undelivered entry read from a stream.
type StreamEntry struct {
	ID      string
	Payload []byte
}

// StreamBroker is the transaction-event stream collaborator
// (Redis Streams in production).
type StreamBroker interface {
	// EnsureGroup idempotently creates the consumer group on stream.
	// "Already exists" is success, not error; any other failure is fatal
	// to the stream's bootstrap.
	EnsureGroup(ctx context.Context, stream, group string) (EnsureResult, error)

	// ReadNext pulls the next batch of undelivered entries for the group.
	// Returns an empty batch when nothing arrived within block.
	ReadNext(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamEntry, error)

	// Ack removes an entry from the group's pending list.
	Ack(ctx context.Context, stream, group, entryID string) error

	// Publish sends a payload to a pub/sub channel for live subscribers.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Close releases underlying resources.
	Close() error
}

// PriceProvider is the market-data collaborator. It is consumed only to
// refresh LatestMarketPrice, never by the transaction-event path.
type PriceProvider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// GetCurrentPrice returns the latest price for ticker.
	GetCurrentPrice(ctx context.Context, ticker, exchange string) (decimal.Decimal, error)
}
