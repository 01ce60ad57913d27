package processor

import "position-ledger/internal/model"

// Outcome discriminates the three processing results. Every use case
// returns exactly one of Success, Ignored, or Error; expected business
// conditions never surface as panics or bare errors.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeIgnored
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorKind categorizes a processing failure.
type ErrorKind string

const (
	KindInvalidInput       ErrorKind = "INVALID_INPUT"
	KindOversell           ErrorKind = "OVERSELL"
	KindInvalidReversal    ErrorKind = "INVALID_TRANSACTION_REVERSAL"
	KindCurrencyMismatch   ErrorKind = "CURRENCY_MISMATCH"
	KindDuplicatedPosition ErrorKind = "DUPLICATED_POSITION"
	KindPersistence        ErrorKind = "PERSISTENCE_ERROR"
	KindCalculation        ErrorKind = "CALCULATION_ERROR"
	KindUnexpected         ErrorKind = "UNEXPECTED_ERROR"
)

// IgnoreReason explains an idempotency no-op.
type IgnoreReason string

const (
	ReasonAlreadyProcessed IgnoreReason = "ALREADY_PROCESSED"
	ReasonNotApplied       IgnoreReason = "NOT_APPLIED"
)

// Result is the tagged outcome of one use case invocation. Exactly one of
// Position (Success), Reason (Ignored), or Kind/Message (Error) is set.
type Result struct {
	Outcome  Outcome
	Position *model.Position
	Reason   IgnoreReason
	Kind     ErrorKind
	Message  string
	Err      error
}

// Success wraps the persisted position after a successfully applied event.
func Success(p *model.Position) Result {
	return Result{Outcome: OutcomeSuccess, Position: p}
}

// Ignored marks an idempotency no-op; the entry is safe to acknowledge.
func Ignored(reason IgnoreReason) Result {
	return Result{Outcome: OutcomeIgnored, Reason: reason}
}

// Failure wraps a categorized processing error. err may be nil for pure
// validation failures.
func Failure(kind ErrorKind, msg string, err error) Result {
	return Result{Outcome: OutcomeError, Kind: kind, Message: msg, Err: err}
}

// Ackable reports whether the stream entry that produced this result may
// be acknowledged: Success and Ignored remove the entry from the pending
// list, Error leaves it for redelivery.
func (r Result) Ackable() bool {
	return r.Outcome != OutcomeError
}
