package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position-ledger/internal/model"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func tx(id string, typ model.TransactionType, qty, price, fees string) model.Transaction {
	return model.Transaction{
		ID:       id,
		Ticker:   "AAPL",
		Type:     typ,
		Quantity: dec(qty),
		Price:    dec(price),
		Fees:     dec(fees),
		Currency: "USD",
		Date:     time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
	}
}

func emptyPosition() model.Position {
	return *model.NewPosition("pos-1", "AAPL", "USD", "NASDAQ", "US")
}

func TestApplyBuy_FirstPurchase(t *testing.T) {
	p, err := ApplyBuy(emptyPosition(), tx("t1", model.TransactionBuy, "100", "10", "1"))
	require.NoError(t, err)

	assert.True(t, p.SharesOwned.Equal(dec("100")), "shares = %s", p.SharesOwned)
	assert.True(t, p.TotalInvestedAmount.Equal(dec("1001")), "invested = %s", p.TotalInvestedAmount)
	assert.True(t, p.AverageCostPerShare.Equal(dec("10.01")), "avg = %s", p.AverageCostPerShare)
	assert.True(t, p.TotalTransactionFees.Equal(dec("1")))
	require.NotNil(t, p.FirstPurchaseDate)
	assert.Equal(t, 2025, p.FirstPurchaseDate.Year())
}

func TestApplySell_AverageCostUnchanged(t *testing.T) {
	p, err := ApplyBuy(emptyPosition(), tx("t1", model.TransactionBuy, "100", "10", "1"))
	require.NoError(t, err)

	p, err = ApplySell(p, tx("t2", model.TransactionSell, "40", "12", "0"))
	require.NoError(t, err)

	assert.True(t, p.SharesOwned.Equal(dec("60")), "shares = %s", p.SharesOwned)
	assert.True(t, p.AverageCostPerShare.Equal(dec("10.01")), "avg = %s", p.AverageCostPerShare)
	// 1001 - 40*10.01 = 600.60
	assert.True(t, p.TotalInvestedAmount.Equal(dec("600.6")), "invested = %s", p.TotalInvestedAmount)
}

func TestApplySell_Oversell(t *testing.T) {
	p, err := ApplyBuy(emptyPosition(), tx("t1", model.TransactionBuy, "10", "5", "0"))
	require.NoError(t, err)

	got, err := ApplySell(p, tx("t2", model.TransactionSell, "11", "5", "0"))
	require.ErrorIs(t, err, ErrOversell)
	// position unchanged on failure
	assert.True(t, got.SharesOwned.Equal(p.SharesOwned))
	assert.True(t, got.TotalInvestedAmount.Equal(p.TotalInvestedAmount))
}

func TestApplySell_EntireHoldingZeroesBasis(t *testing.T) {
	// fees make the average repeat: 30.10 / 3 = 10.0333..., so removing
	// 3 * 10.0333 leaves a 0.0001 residue that must be swept to zero
	p, err := ApplyBuy(emptyPosition(), tx("t1", model.TransactionBuy, "3", "10", "0.10"))
	require.NoError(t, err)

	p, err = ApplySell(p, tx("t2", model.TransactionSell, "3", "11", "0"))
	require.NoError(t, err)

	assert.True(t, p.SharesOwned.IsZero())
	assert.True(t, p.TotalInvestedAmount.IsZero(), "invested = %s", p.TotalInvestedAmount)
	assert.True(t, p.AverageCostPerShare.IsZero(), "avg = %s", p.AverageCostPerShare)
}

func TestApply_RejectsBadAmounts(t *testing.T) {
	cases := []struct {
		name string
		tx   model.Transaction
	}{
		{"zero quantity", tx("t", model.TransactionBuy, "0", "10", "0")},
		{"negative quantity", tx("t", model.TransactionBuy, "-1", "10", "0")},
		{"negative price", tx("t", model.TransactionBuy, "1", "-10", "0")},
		{"negative fees", tx("t", model.TransactionBuy, "1", "10", "-1")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Apply(emptyPosition(), tc.tx)
			assert.ErrorIs(t, err, ErrBadAmount)
		})
	}
}

func TestReverse_BuyRoundTrip(t *testing.T) {
	before := emptyPosition()
	buy := tx("t1", model.TransactionBuy, "100", "10", "1")

	after, err := ApplyBuy(before, buy)
	require.NoError(t, err)

	restored, err := Reverse(after, buy)
	require.NoError(t, err)

	assert.True(t, restored.SharesOwned.Equal(before.SharesOwned))
	assert.True(t, restored.TotalInvestedAmount.Equal(before.TotalInvestedAmount))
	assert.True(t, restored.AverageCostPerShare.Equal(before.AverageCostPerShare))
	assert.True(t, restored.TotalTransactionFees.Equal(before.TotalTransactionFees))
	// first purchase date survives the reversal: "ever first purchased"
	assert.NotNil(t, restored.FirstPurchaseDate)
}

func TestReverse_SellRoundTrip(t *testing.T) {
	p, err := ApplyBuy(emptyPosition(), tx("t1", model.TransactionBuy, "100", "10", "1"))
	require.NoError(t, err)
	before := p

	sell := tx("t2", model.TransactionSell, "40", "12", "2")
	p, err = ApplySell(p, sell)
	require.NoError(t, err)

	restored, err := Reverse(p, sell)
	require.NoError(t, err)

	assert.True(t, restored.SharesOwned.Equal(before.SharesOwned), "shares = %s", restored.SharesOwned)
	assert.True(t, restored.TotalInvestedAmount.Equal(before.TotalInvestedAmount), "invested = %s", restored.TotalInvestedAmount)
	assert.True(t, restored.AverageCostPerShare.Equal(before.AverageCostPerShare))
	assert.True(t, restored.TotalTransactionFees.Equal(before.TotalTransactionFees))
}

func TestReverse_BuyAfterSellingBelowQuantity(t *testing.T) {
	p, err := ApplyBuy(emptyPosition(), tx("t1", model.TransactionBuy, "100", "10", "0"))
	require.NoError(t, err)
	p, err = ApplySell(p, tx("t2", model.TransactionSell, "70", "11", "0"))
	require.NoError(t, err)

	// only 30 shares remain; reversing the 100-share buy must fail
	_, err = Reverse(p, tx("t1", model.TransactionBuy, "100", "10", "0"))
	assert.ErrorIs(t, err, ErrInvalidReversal)
}

func TestReverse_BuyCannotDriveInvestedNegative(t *testing.T) {
	// cheap buy after an expensive one pulls the average down; selling at
	// that blended average then leaves less basis than the expensive buy
	// originally contributed
	p, err := ApplyBuy(emptyPosition(), tx("t1", model.TransactionBuy, "5", "20", "0"))
	require.NoError(t, err)
	p, err = ApplyBuy(p, tx("t2", model.TransactionBuy, "15", "1", "0"))
	require.NoError(t, err)
	p, err = ApplySell(p, tx("t3", model.TransactionSell, "10", "10", "0"))
	require.NoError(t, err)

	// 10 shares remain with invested 57.50; removing t1's 100 cost would
	// leave invested at -42.50 with shares still held
	_, err = Reverse(p, tx("t1", model.TransactionBuy, "5", "20", "0"))
	assert.ErrorIs(t, err, ErrInvalidReversal)
}

func TestReverse_LastBuyZeroesPosition(t *testing.T) {
	buy := tx("t1", model.TransactionBuy, "100", "10", "1")
	p, err := ApplyBuy(emptyPosition(), buy)
	require.NoError(t, err)

	p, err = Reverse(p, buy)
	require.NoError(t, err)

	assert.True(t, p.SharesOwned.IsZero())
	assert.True(t, p.TotalInvestedAmount.IsZero())
	assert.True(t, p.AverageCostPerShare.IsZero())
}

func TestAmend_PriceChange(t *testing.T) {
	buy := tx("t1", model.TransactionBuy, "100", "10", "0")
	p, err := ApplyBuy(emptyPosition(), buy)
	require.NoError(t, err)

	amended, err := Amend(p, buy, tx("t1", model.TransactionBuy, "100", "12", "0"))
	require.NoError(t, err)

	assert.True(t, amended.SharesOwned.Equal(dec("100")))
	// invested rises by 100 * (12 - 10) = 200
	assert.True(t, amended.TotalInvestedAmount.Equal(dec("1200")), "invested = %s", amended.TotalInvestedAmount)
	assert.True(t, amended.AverageCostPerShare.Equal(dec("12")))
}

func TestAmend_TypeChange(t *testing.T) {
	p, err := ApplyBuy(emptyPosition(), tx("t1", model.TransactionBuy, "100", "10", "0"))
	require.NoError(t, err)
	p, err = ApplyBuy(p, tx("t2", model.TransactionBuy, "50", "10", "0"))
	require.NoError(t, err)

	// t2 was recorded as a buy but is actually a sell of 50
	amended, err := Amend(p, tx("t2", model.TransactionBuy, "50", "10", "0"),
		tx("t2", model.TransactionSell, "50", "10", "0"))
	require.NoError(t, err)

	assert.True(t, amended.SharesOwned.Equal(dec("50")), "shares = %s", amended.SharesOwned)
	assert.True(t, amended.TotalInvestedAmount.Equal(dec("500")), "invested = %s", amended.TotalInvestedAmount)
}

func TestAmend_FailedReversalLeavesPositionUnchanged(t *testing.T) {
	p, err := ApplyBuy(emptyPosition(), tx("t1", model.TransactionBuy, "100", "10", "0"))
	require.NoError(t, err)
	p, err = ApplySell(p, tx("t2", model.TransactionSell, "80", "11", "0"))
	require.NoError(t, err)

	// reversing the 100-share buy is impossible with 20 shares left
	got, err := Amend(p, tx("t1", model.TransactionBuy, "100", "10", "0"),
		tx("t1", model.TransactionBuy, "100", "9", "0"))
	require.ErrorIs(t, err, ErrInvalidReversal)
	assert.True(t, got.SharesOwned.Equal(p.SharesOwned))
	assert.True(t, got.TotalInvestedAmount.Equal(p.TotalInvestedAmount))
}

func TestAmend_FailedApplyLeavesPositionUnchanged(t *testing.T) {
	buy := tx("t1", model.TransactionBuy, "100", "10", "0")
	p, err := ApplyBuy(emptyPosition(), buy)
	require.NoError(t, err)

	// amending the only buy into a 200-share sell cannot apply
	got, err := Amend(p, buy, tx("t1", model.TransactionSell, "200", "10", "0"))
	require.ErrorIs(t, err, ErrOversell)
	assert.True(t, got.SharesOwned.Equal(p.SharesOwned))
	assert.True(t, got.TotalInvestedAmount.Equal(p.TotalInvestedAmount))
}

func TestSharesConservation(t *testing.T) {
	p := emptyPosition()
	seq := []struct {
		typ model.TransactionType
		qty string
	}{
		{model.TransactionBuy, "100.5"},
		{model.TransactionBuy, "24.25"},
		{model.TransactionSell, "50"},
		{model.TransactionBuy, "10"},
		{model.TransactionSell, "30.75"},
	}

	net := decimal.Zero
	for i, s := range seq {
		var err error
		p, err = Apply(p, tx("t", s.typ, s.qty, "10", "0"))
		require.NoError(t, err, "step %d", i)
		if s.typ == model.TransactionBuy {
			net = net.Add(dec(s.qty))
		} else {
			net = net.Sub(dec(s.qty))
		}
	}

	assert.True(t, p.SharesOwned.Equal(net), "shares %s != net %s", p.SharesOwned, net)
}
