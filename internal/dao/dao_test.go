package dao_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Daneel-Li/dgshop/internal/dao"
	"github.com/Daneel-Li/dgshop/internal/dao/daotest"
	"github.com/Daneel-Li/dgshop/internal/errs"
	dgs "github.com/Daneel-Li/dgshop/internal/models"
	"github.com/Daneel-Li/dgshop/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedProduct(t *testing.T, repo dao.Repository, typ dgs.ProductType) *dgs.Product {
	t.Helper()
	p := &dgs.Product{Name: "Pro License", Price: 2500, Currency: "USD", Type: typ, Active: true}
	require.NoError(t, repo.CreateProduct(context.Background(), p))
	return p
}

func seedOrder(t *testing.T, repo dao.Repository, p *dgs.Product, qty int, status dgs.OrderStatus) *dgs.Order {
	t.Helper()
	o := &dgs.Order{
		CustomerEmail: "buyer@example.com",
		Quantity:      qty,
		Currency:      p.Currency,
		Amount:        p.Price * int64(qty),
		Status:        status,
		Items:         []dgs.OrderItem{{ProductID: p.ID, Quantity: qty, Price: p.Price}},
	}
	require.NoError(t, repo.CreateOrder(context.Background(), o))
	return o
}

func seedCodes(t *testing.T, repo dao.Repository, productID uint, n int) {
	t.Helper()
	items := make([]*dgs.InventoryItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, &dgs.InventoryItem{ProductID: productID, LicenseCode: fmt.Sprintf("CODE-%d-%d", productID, i)})
	}
	require.NoError(t, repo.AddInventoryItems(context.Background(), items))
}

func TestCreateOrderWritesItems(t *testing.T) {
	repo, _ := daotest.NewRepository(t)
	ctx := context.Background()
	p := seedProduct(t, repo, dgs.ProductTypeLicense)
	o := seedOrder(t, repo, p, 2, dgs.OrderStatusCart)

	got, err := repo.GetOrderByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.Amount)
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(2500), got.Items[0].Price)

	_, err = repo.GetOrderByID(ctx, o.ID+100)
	assert.ErrorIs(t, err, errs.ErrOrderNotFound)
}

func TestInTxRollsBack(t *testing.T) {
	repo, _ := daotest.NewRepository(t)
	ctx := context.Background()
	p := seedProduct(t, repo, dgs.ProductTypeLicense)
	o := seedOrder(t, repo, p, 1, dgs.OrderStatusPending)

	boom := errors.New("boom")
	err := repo.InTx(ctx, func(ctx context.Context) error {
		ok, err := repo.TransitionOrder(ctx, o.ID, []dgs.OrderStatus{dgs.OrderStatusPending}, dgs.OrderStatusProcessing, nil)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetOrderByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, dgs.OrderStatusPending, got.Status)
}

func TestTransitionOrderIsConditional(t *testing.T) {
	repo, _ := daotest.NewRepository(t)
	ctx := context.Background()
	p := seedProduct(t, repo, dgs.ProductTypeFile)
	o := seedOrder(t, repo, p, 1, dgs.OrderStatusCart)

	ok, err := repo.TransitionOrder(ctx, o.ID, []dgs.OrderStatus{dgs.OrderStatusPending}, dgs.OrderStatusProcessing, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.TransitionOrder(ctx, o.ID, []dgs.OrderStatus{dgs.OrderStatusCart}, dgs.OrderStatusPending, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMarkPaymentPaidOnlyOnce(t *testing.T) {
	repo, _ := daotest.NewRepository(t)
	ctx := context.Background()
	pay := &dgs.Payment{TransactionNumber: "T1", OrderID: 1, Amount: 100, Currency: "USD",
		Method: types.METHOD_RAZORPAY, Status: dgs.PaymentStatusUnpaid}
	require.NoError(t, repo.CreatePayment(ctx, pay))

	ok, err := repo.MarkPaymentPaid(ctx, "T1", "pay_1", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkPaymentPaid(ctx, "T1", "pay_1", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetPaymentByTransactionNumber(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, dgs.PaymentStatusPaid, got.Status)
	assert.Equal(t, "pay_1", got.ExternalTransactionID)
}

func TestFailStalePayments(t *testing.T) {
	repo, db := daotest.NewRepository(t)
	ctx := context.Background()
	old := &dgs.Payment{TransactionNumber: "OLD", OrderID: 1, Amount: 100, Currency: "USD",
		Method: types.METHOD_WECHATPAY, Status: dgs.PaymentStatusUnpaid}
	fresh := &dgs.Payment{TransactionNumber: "NEW", OrderID: 2, Amount: 100, Currency: "USD",
		Method: types.METHOD_WECHATPAY, Status: dgs.PaymentStatusUnpaid}
	require.NoError(t, repo.CreatePayment(ctx, old))
	require.NoError(t, repo.CreatePayment(ctx, fresh))
	require.NoError(t, db.Model(old).Update("created_at", time.Now().UTC().Add(-2*time.Hour)).Error)

	n, err := repo.FailStalePayments(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetPaymentByTransactionNumber(ctx, "OLD")
	require.NoError(t, err)
	assert.Equal(t, dgs.PaymentStatusFailed, got.Status)

	// 迟到的回调仍然可以结算
	ok, err := repo.MarkPaymentPaid(ctx, "OLD", "late", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimInventory(t *testing.T) {
	repo, _ := daotest.NewRepository(t)
	ctx := context.Background()
	p := seedProduct(t, repo, dgs.ProductTypeLicense)
	seedCodes(t, repo, p.ID, 3)
	o := seedOrder(t, repo, p, 2, dgs.OrderStatusProcessing)

	items, err := repo.ClaimInventory(ctx, p.ID, o.ID, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	for _, it := range items {
		require.NotNil(t, it.OrderID)
		assert.Equal(t, o.ID, *it.OrderID)
	}

	left, err := repo.CountAvailable(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), left)
}

func TestClaimInventoryShortfallLeavesPoolUnchanged(t *testing.T) {
	repo, _ := daotest.NewRepository(t)
	ctx := context.Background()
	p := seedProduct(t, repo, dgs.ProductTypeLicense)
	seedCodes(t, repo, p.ID, 2)
	o := seedOrder(t, repo, p, 3, dgs.OrderStatusProcessing)

	_, err := repo.ClaimInventory(ctx, p.ID, o.ID, 3)
	assert.ErrorIs(t, err, errs.ErrInsufficientInventory)

	left, err := repo.CountAvailable(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), left)
	claimed, err := repo.GetInventoryByOrderID(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimLastCodeExactlyOneWinner(t *testing.T) {
	repo, _ := daotest.NewRepository(t)
	ctx := context.Background()
	p := seedProduct(t, repo, dgs.ProductTypeLicense)
	seedCodes(t, repo, p.ID, 1)
	o1 := seedOrder(t, repo, p, 1, dgs.OrderStatusProcessing)
	o2 := seedOrder(t, repo, p, 1, dgs.OrderStatusProcessing)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, oid := range []uint{o1.ID, o2.ID} {
		wg.Add(1)
		go func(i int, oid uint) {
			defer wg.Done()
			_, results[i] = repo.ClaimInventory(ctx, p.ID, oid, 1)
		}(i, oid)
	}
	wg.Wait()

	var wins, shortfalls int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, errs.ErrInsufficientInventory):
			shortfalls++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, shortfalls)
}

func TestAddInventoryRejectsDuplicateCodes(t *testing.T) {
	repo, _ := daotest.NewRepository(t)
	ctx := context.Background()
	p := seedProduct(t, repo, dgs.ProductTypeLicense)
	seedCodes(t, repo, p.ID, 1)

	err := repo.AddInventoryItems(ctx, []*dgs.InventoryItem{{ProductID: p.ID, LicenseCode: fmt.Sprintf("CODE-%d-0", p.ID)}})
	assert.ErrorIs(t, err, errs.ErrDuplicateLicenseCode)
}

func TestIncrementCouponUsageRespectsMax(t *testing.T) {
	repo, _ := daotest.NewRepository(t)
	ctx := context.Background()
	c := &dgs.Coupon{Code: "save10", Type: dgs.CouponTypePercentage, Amount: 10, MaxUses: 1, IsActive: true}
	require.NoError(t, repo.CreateCoupon(ctx, c))

	got, err := repo.GetCouponByCode(ctx, " Save10 ")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", got.Code)

	ok, err := repo.IncrementCouponUsage(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.IncrementCouponUsage(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveWebhookEventDeduplicates(t *testing.T) {
	repo, _ := daotest.NewRepository(t)
	ctx := context.Background()

	ev := func() *dgs.WebhookEvent {
		return &dgs.WebhookEvent{Provider: types.METHOD_RAZORPAY, EventID: "evt_1", EventType: "payment.captured"}
	}
	inserted, err := repo.SaveWebhookEvent(ctx, ev())
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.SaveWebhookEvent(ctx, ev())
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestGrantLifecycle(t *testing.T) {
	repo, _ := daotest.NewRepository(t)
	ctx := context.Background()
	g := &dgs.DownloadGrant{Token: "tok", OrderID: 9, ProductID: 1, DownloadsRemaining: 1,
		ExpiresAt: time.Now().UTC().Add(time.Hour)}
	require.NoError(t, repo.CreateGrants(ctx, []*dgs.DownloadGrant{g}))

	ok, err := repo.ConsumeGrant(ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.ConsumeGrant(ctx, g.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.ExpireGrantsByOrderID(ctx, 9, time.Now().UTC()))
	got, err := repo.GetGrantByToken(ctx, "tok")
	require.NoError(t, err)
	assert.NotNil(t, got.RevokedAt)
}
