package memory

import (
	"context"
	"testing"
	"time"

	"github.com/baharkarakas/paygate/internal/models"
	repo "github.com/baharkarakas/paygate/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	txns := New().Transactions()

	tx, err := txns.Insert(ctx, models.Transaction{TradeNo: "T1", MerchantID: "m", Amount: 500, Status: models.TxnPending})
	require.NoError(t, err)

	var p models.TransactionPatch
	p.IfStatus = models.Ptr(models.TxnPending)
	p.Stamp(models.TxnAuthorized, time.Now())

	ok, err := txns.UpdateFields(ctx, tx.ID, p)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = txns.UpdateFields(ctx, tx.ID, p)
	require.NoError(t, err)
	assert.False(t, ok, "second swap from pending must lose")

	got, err := txns.GetByTradeNo(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, models.TxnAuthorized, got.Status)
	assert.NotNil(t, got.AuthorizedAt)

	_, err = txns.Insert(ctx, models.Transaction{TradeNo: "T1"})
	assert.ErrorIs(t, err, repo.ErrDuplicate)
}

func TestTransactionListFilters(t *testing.T) {
	ctx := context.Background()
	st := New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	i := 0
	st.now = func() time.Time { i++; return base.Add(time.Duration(i) * time.Minute) }
	txns := st.Transactions()

	for _, tn := range []string{"A", "B", "C"} {
		_, err := txns.Insert(ctx, models.Transaction{TradeNo: tn, MerchantID: "m1", Status: models.TxnPending, OrderRef: "o-" + tn})
		require.NoError(t, err)
	}
	_, err := txns.Insert(ctx, models.Transaction{TradeNo: "X", MerchantID: "m2", Status: models.TxnPending})
	require.NoError(t, err)

	all, err := txns.List(ctx, models.TransactionFilter{MerchantID: "m1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "C", all[0].TradeNo, "newest first")

	page, err := txns.List(ctx, models.TransactionFilter{MerchantID: "m1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "B", page[0].TradeNo)

	byRef, err := txns.List(ctx, models.TransactionFilter{MerchantID: "m1", OrderRef: "o-A", Limit: 10})
	require.NoError(t, err)
	require.Len(t, byRef, 1)
	assert.Equal(t, "A", byRef[0].TradeNo)
}

func TestCvsSelectionConsumedOnce(t *testing.T) {
	ctx := context.Background()
	sel := New().CvsSelections()

	c, err := sel.Upsert(ctx, models.CvsSelection{MerchantID: "m", TempTradeNo: "tmp1", StoreID: "990011"})
	require.NoError(t, err)

	ok, err := sel.MarkUsed(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = sel.MarkUsed(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = sel.Upsert(ctx, models.CvsSelection{MerchantID: "m", TempTradeNo: "tmp1", StoreID: "990022"})
	assert.ErrorIs(t, err, repo.ErrSelectionUsed)
	kept, err := sel.GetByTempTradeNo(ctx, "m", "tmp1")
	require.NoError(t, err)
	assert.True(t, kept.IsUsed)
	assert.Equal(t, "990011", kept.StoreID)

	fresh, err := sel.Upsert(ctx, models.CvsSelection{MerchantID: "m", TempTradeNo: "tmp2", StoreID: "990011"})
	require.NoError(t, err)
	repicked, err := sel.Upsert(ctx, models.CvsSelection{MerchantID: "m", TempTradeNo: "tmp2", StoreID: "990033"})
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, repicked.ID)
	assert.False(t, repicked.IsUsed)
	assert.Equal(t, "990033", repicked.StoreID)

	_, err = sel.GetByTempTradeNo(ctx, "other", "tmp1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestMerchantLookups(t *testing.T) {
	ctx := context.Background()
	ms := New().Merchants()

	m, err := ms.Create(ctx, models.Merchant{Code: "shop", APIKeyPrefix: "gk_abcdefghi"})
	require.NoError(t, err)
	assert.Equal(t, models.EnvStaging, m.Environment)

	found, err := ms.GetByAPIKeyPrefix(ctx, "gk_abcdefghi")
	require.NoError(t, err)
	require.Len(t, found, 1)

	require.NoError(t, ms.Deactivate(ctx, "shop"))
	found, err = ms.GetByAPIKeyPrefix(ctx, "gk_abcdefghi")
	require.NoError(t, err)
	assert.Empty(t, found)

	assert.ErrorIs(t, ms.UpdateEnvironment(ctx, "nope", models.EnvProduction), repo.ErrNotFound)
	_, err = ms.Create(ctx, models.Merchant{Code: "shop"})
	assert.ErrorIs(t, err, repo.ErrDuplicate)
}
