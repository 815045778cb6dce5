package transactions

import (
	"context"
	"strings"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/google/uuid"
	gonanoid "github.com/jaevor/go-nanoid"

	"github.com/agritrace/agritracechain/layer-2/apperror"
	"github.com/agritrace/agritracechain/layer-2/l1client"
	"github.com/agritrace/agritracechain/layer-2/repository"
	"github.com/agritrace/agritracechain/layer-2/repository/models"
)

const (
	ComplaintIDPrefix = "complaint_"
	ComplaintPending  = "Pending"
)

type Store interface {
	GetProduct(ctx context.Context, productID string) (*models.Product, *repository.RepositoryError)
	CreatePayment(ctx context.Context, payment *models.Payment) *repository.RepositoryError
	CreateComplaint(ctx context.Context, complaint *models.Complaint) *repository.RepositoryError
	ListComplaints(ctx context.Context, productID string) ([]models.Complaint, *repository.RepositoryError)
}

type PaymentInput struct {
	ProductID     string  `json:"productId"`
	BuyerAddress  string  `json:"buyerAddress"`
	SellerAddress string  `json:"sellerAddress"`
	Amount        float64 `json:"amount"`
}

type PaymentReceipt struct {
	Success       bool      `json:"success"`
	TxHash        string    `json:"txHash"`
	BlockHeight   int64     `json:"blockHeight,string"`
	Timestamp     time.Time `json:"timestamp"`
	Amount        float64   `json:"amount"`
	ProductID     string    `json:"productId"`
	BuyerAddress  string    `json:"buyerAddress"`
	SellerAddress string    `json:"sellerAddress"`
}

type ComplaintInput struct {
	ProductID    string `json:"productId"`
	TxHash       string `json:"txHash"`
	Reason       string `json:"reason"`
	BuyerAddress string `json:"buyerAddress"`
}

type ComplaintReceipt struct {
	Success        bool      `json:"success"`
	ComplaintID    string    `json:"complaintId"`
	TxHash         string    `json:"txHash"`
	BlockHeight    int64     `json:"blockHeight,string"`
	Timestamp      time.Time `json:"timestamp"`
	Status         string    `json:"status"`
	ProductID      string    `json:"productId"`
	OriginalTxHash string    `json:"originalTxHash"`
	Reason         string    `json:"reason"`
	BuyerAddress   string    `json:"buyerAddress"`
}

// Service records payments and complaints on the ledger and in the store
type Service struct {
	store       Store
	ledger      l1client.LedgerClient
	submitterID string
	newID       func() string
	logger      cmtlog.Logger
	now         func() time.Time
}

func NewService(store Store, ledger l1client.LedgerClient, submitterID string, logger cmtlog.Logger) (*Service, error) {
	newID, err := gonanoid.Standard(12)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:       store,
		ledger:      ledger,
		submitterID: submitterID,
		newID:       newID,
		logger:      logger.With("module", "transactions"),
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Pay records a purchase of a product
func (s *Service) Pay(ctx context.Context, in PaymentInput) (*PaymentReceipt, error) {
	in.ProductID = strings.TrimSpace(in.ProductID)
	in.BuyerAddress = strings.TrimSpace(in.BuyerAddress)
	in.SellerAddress = strings.TrimSpace(in.SellerAddress)
	if in.ProductID == "" || in.BuyerAddress == "" || in.SellerAddress == "" || in.Amount == 0 {
		return nil, apperror.Validation("missing required fields: productId, buyerAddress, sellerAddress, amount")
	}
	if in.Amount < 0 {
		return nil, apperror.Validation("amount must be positive")
	}
	if _, rerr := s.store.GetProduct(ctx, in.ProductID); rerr != nil {
		return nil, apperror.FromRepository(rerr)
	}

	receipt, err := s.submit(ctx, l1client.KindPayment, in.ProductID, in.BuyerAddress, in)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:            uuid.NewString(),
		ProductID:     in.ProductID,
		BuyerAddress:  in.BuyerAddress,
		SellerAddress: in.SellerAddress,
		Amount:        in.Amount,
		TxHash:        receipt.TxHash,
		BlockHeight:   receipt.BlockHeight,
		Timestamp:     receipt.ConfirmTime,
	}
	if rerr := s.store.CreatePayment(ctx, payment); rerr != nil {
		s.logger.Error("Ledger payment has no stored row", "product", in.ProductID, "tx", receipt.TxHash, "err", rerr)
		return nil, apperror.FromRepository(rerr)
	}

	s.logger.Info("Payment recorded", "product", in.ProductID, "tx", receipt.TxHash, "amount", in.Amount)
	return &PaymentReceipt{
		Success:       true,
		TxHash:        receipt.TxHash,
		BlockHeight:   receipt.BlockHeight,
		Timestamp:     receipt.ConfirmTime,
		Amount:        in.Amount,
		ProductID:     in.ProductID,
		BuyerAddress:  in.BuyerAddress,
		SellerAddress: in.SellerAddress,
	}, nil
}

// Complain files a complaint against an earlier ledger transaction of a product
func (s *Service) Complain(ctx context.Context, in ComplaintInput) (*ComplaintReceipt, error) {
	in.ProductID = strings.TrimSpace(in.ProductID)
	in.TxHash = strings.TrimSpace(in.TxHash)
	in.Reason = strings.TrimSpace(in.Reason)
	in.BuyerAddress = strings.TrimSpace(in.BuyerAddress)
	if in.ProductID == "" || in.TxHash == "" || in.Reason == "" || in.BuyerAddress == "" {
		return nil, apperror.Validation("missing required fields: productId, txHash, reason, buyerAddress")
	}
	if _, rerr := s.store.GetProduct(ctx, in.ProductID); rerr != nil {
		return nil, apperror.FromRepository(rerr)
	}

	complaintID := ComplaintIDPrefix + s.newID()
	receipt, err := s.submit(ctx, l1client.KindComplaint, in.ProductID, in.BuyerAddress, map[string]any{
		"complaintId":    complaintID,
		"originalTxHash": in.TxHash,
		"reason":         in.Reason,
	})
	if err != nil {
		return nil, err
	}

	complaint := &models.Complaint{
		ID:             complaintID,
		ProductID:      in.ProductID,
		OriginalTxHash: in.TxHash,
		Reason:         in.Reason,
		BuyerAddress:   in.BuyerAddress,
		Status:         ComplaintPending,
		TxHash:         receipt.TxHash,
		BlockHeight:    receipt.BlockHeight,
		Timestamp:      receipt.ConfirmTime,
	}
	if rerr := s.store.CreateComplaint(ctx, complaint); rerr != nil {
		s.logger.Error("Ledger complaint has no stored row", "complaint", complaintID, "tx", receipt.TxHash, "err", rerr)
		return nil, apperror.FromRepository(rerr)
	}

	s.logger.Info("Complaint filed", "complaint", complaintID, "product", in.ProductID, "tx", receipt.TxHash)
	return &ComplaintReceipt{
		Success:        true,
		ComplaintID:    complaintID,
		TxHash:         receipt.TxHash,
		BlockHeight:    receipt.BlockHeight,
		Timestamp:      receipt.ConfirmTime,
		Status:         ComplaintPending,
		ProductID:      in.ProductID,
		OriginalTxHash: in.TxHash,
		Reason:         in.Reason,
		BuyerAddress:   in.BuyerAddress,
	}, nil
}

func (s *Service) ListComplaints(ctx context.Context, productID string) ([]models.Complaint, error) {
	if _, rerr := s.store.GetProduct(ctx, productID); rerr != nil {
		return nil, apperror.FromRepository(rerr)
	}
	complaints, rerr := s.store.ListComplaints(ctx, productID)
	if rerr != nil {
		return nil, apperror.FromRepository(rerr)
	}
	if complaints == nil {
		complaints = []models.Complaint{}
	}
	return complaints, nil
}

func (s *Service) submit(ctx context.Context, kind, subjectID, actor string, payload any) (*l1client.Receipt, error) {
	sub, err := l1client.NewSubmission(s.submitterID, kind, subjectID, actor, payload)
	if err != nil {
		return nil, apperror.Internal("failed to build ledger submission", err)
	}
	receipt, err := s.ledger.Submit(ctx, sub)
	if err != nil {
		s.logger.Error("Ledger submission failed", "kind", kind, "subject", subjectID, "err", err)
		return nil, apperror.Internal("ledger submission failed", err)
	}
	if receipt.ConfirmTime.IsZero() {
		receipt.ConfirmTime = s.now()
	}
	return receipt, nil
}
