package transactions

import (
	"context"
	"errors"
	"strings"
	"testing"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"github.com/agritrace/agritracechain/layer-2/apperror"
	"github.com/agritrace/agritracechain/layer-2/l1client"
	"github.com/agritrace/agritracechain/layer-2/repository"
	"github.com/agritrace/agritracechain/layer-2/repository/models"
)

const (
	buyer  = "0x00000000000000000000000000000000000000b1"
	seller = "0x00000000000000000000000000000000000000c1"
)

type fixture struct {
	svc    *Service
	repo   *repository.Repository
	ledger *l1client.MemoryClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := repository.NewRepository(repository.Options{
		Dialector:    sqlite.Open("file::memory:"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	t.Cleanup(func() { _ = repo.Close() })

	ledger := l1client.NewMemoryClient()
	svc, err := NewService(repo, ledger, "api-test", cmtlog.NewNopLogger())
	require.NoError(t, err)
	return &fixture{svc: svc, repo: repo, ledger: ledger}
}

func (f *fixture) product(t *testing.T, id string) {
	t.Helper()
	rerr := f.repo.CreateProduct(context.Background(), &models.Product{
		ID:       id,
		Name:     "Coffee",
		Type:     "Bean",
		Quantity: 10,
		Location: "Buon Ma Thuot",
		Status:   models.StatusRegistered,
		TxHash:   "0xseed",
	})
	require.Nil(t, rerr)
}

func TestPay(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p-1")

	receipt, err := f.svc.Pay(context.Background(), PaymentInput{
		ProductID:     "p-1",
		BuyerAddress:  buyer,
		SellerAddress: seller,
		Amount:        42.5,
	})
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.NotEmpty(t, receipt.TxHash)
	assert.Equal(t, 42.5, receipt.Amount)
	assert.Equal(t, int64(1), f.ledger.Height())

	v, err := f.ledger.Verify(context.Background(), receipt.TxHash)
	require.NoError(t, err)
	assert.Equal(t, l1client.KindPayment, v.Kind)
	assert.Equal(t, "p-1", v.SubjectID)
}

func TestPayValidation(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p-1")
	ctx := context.Background()

	tests := []struct {
		name string
		in   PaymentInput
		kind apperror.Kind
	}{
		{"missing product", PaymentInput{BuyerAddress: buyer, SellerAddress: seller, Amount: 1}, apperror.KindValidation},
		{"missing buyer", PaymentInput{ProductID: "p-1", SellerAddress: seller, Amount: 1}, apperror.KindValidation},
		{"zero amount", PaymentInput{ProductID: "p-1", BuyerAddress: buyer, SellerAddress: seller}, apperror.KindValidation},
		{"negative amount", PaymentInput{ProductID: "p-1", BuyerAddress: buyer, SellerAddress: seller, Amount: -3}, apperror.KindValidation},
		{"unknown product", PaymentInput{ProductID: "p-2", BuyerAddress: buyer, SellerAddress: seller, Amount: 1}, apperror.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Pay(ctx, tt.in)
			assert.Equal(t, tt.kind, apperror.KindOf(err))
		})
	}
	assert.Equal(t, int64(0), f.ledger.Height())
}

func TestComplain(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p-1")
	ctx := context.Background()

	receipt, err := f.svc.Complain(ctx, ComplaintInput{
		ProductID:    "p-1",
		TxHash:       "0xseed",
		Reason:       "Arrived spoiled",
		BuyerAddress: buyer,
	})
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.True(t, strings.HasPrefix(receipt.ComplaintID, ComplaintIDPrefix))
	assert.Equal(t, ComplaintPending, receipt.Status)
	assert.Equal(t, "0xseed", receipt.OriginalTxHash)
	assert.NotEqual(t, receipt.OriginalTxHash, receipt.TxHash)

	second, err := f.svc.Complain(ctx, ComplaintInput{
		ProductID:    "p-1",
		TxHash:       receipt.TxHash,
		Reason:       "No reply",
		BuyerAddress: buyer,
	})
	require.NoError(t, err)
	assert.NotEqual(t, receipt.ComplaintID, second.ComplaintID)

	complaints, err := f.svc.ListComplaints(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, complaints, 2)
	assert.Equal(t, receipt.ComplaintID, complaints[0].ID)
	assert.Equal(t, "Arrived spoiled", complaints[0].Reason)
}

func TestComplainValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Complain(ctx, ComplaintInput{ProductID: "p-1", TxHash: "0x1", BuyerAddress: buyer})
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	_, err = f.svc.Complain(ctx, ComplaintInput{ProductID: "p-9", TxHash: "0x1", Reason: "bad", BuyerAddress: buyer})
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	_, err = f.svc.ListComplaints(ctx, "p-9")
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestLedgerFailureStoresNothing(t *testing.T) {
	f := newFixture(t)
	f.product(t, "p-1")
	ctx := context.Background()
	f.ledger.FailWith(errors.New("ledger down"))

	_, err := f.svc.Complain(ctx, ComplaintInput{ProductID: "p-1", TxHash: "0x1", Reason: "bad", BuyerAddress: buyer})
	assert.Equal(t, apperror.KindInternal, apperror.KindOf(err))

	_, err = f.svc.Pay(ctx, PaymentInput{ProductID: "p-1", BuyerAddress: buyer, SellerAddress: seller, Amount: 1})
	assert.Equal(t, apperror.KindInternal, apperror.KindOf(err))

	f.ledger.FailWith(nil)
	complaints, err := f.svc.ListComplaints(ctx, "p-1")
	require.NoError(t, err)
	assert.Empty(t, complaints)
}
