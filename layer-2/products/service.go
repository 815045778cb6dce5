package products

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/sync/errgroup"

	"github.com/agritrace/agritracechain/layer-2/apperror"
	"github.com/agritrace/agritracechain/layer-2/l1client"
	"github.com/agritrace/agritracechain/layer-2/repository"
	"github.com/agritrace/agritracechain/layer-2/repository/models"
)

// ScanPrefix is prepended to product IDs in QR payloads
const ScanPrefix = "product_"

// DefaultFarmerName is used when a product is registered without a farmer name
const DefaultFarmerName = "Anonymous Farmer"

// Store is the persistence the product service needs
type Store interface {
	CreateProduct(ctx context.Context, product *models.Product) *repository.RepositoryError
	GetProduct(ctx context.Context, productID string) (*models.Product, *repository.RepositoryError)
	ListProducts(ctx context.Context, filter repository.ProductFilter) ([]models.Product, *repository.RepositoryError)
	UpdateProduct(ctx context.Context, productID string, expectedVersion int64, changes repository.ProductChanges, stamp repository.LedgerStamp) (*models.Product, *repository.RepositoryError)
	AppendTransportEvent(ctx context.Context, productID string, expectedVersion int64, event models.TransportEvent, stamp repository.LedgerStamp) (*models.Product, *repository.RepositoryError)
	DeleteProduct(ctx context.Context, productID string) (*models.Product, *repository.RepositoryError)
}

// FarmerInput is the farmer block of create and patch requests
type FarmerInput struct {
	Name          string `json:"name"`
	WalletAddress string `json:"walletAddress"`
}

// CreateInput is a product registration request
type CreateInput struct {
	Name           string       `json:"name"`
	Type           string       `json:"type"`
	Quantity       *float64     `json:"quantity"`
	Unit           string       `json:"unit"`
	Location       string       `json:"location"`
	Description    string       `json:"description"`
	HarvestDate    string       `json:"harvestDate"`
	Price          *float64     `json:"price"`
	Certifications []string     `json:"certifications"`
	Farmer         *FarmerInput `json:"farmer"`
	Owner          string       `json:"owner"`
	Receiver       string       `json:"receiver"`
	Provider       string       `json:"provider"`
}

// TransportInput is one transport step
type TransportInput struct {
	Status   string `json:"status"`
	Location string `json:"location"`
	Handler  string `json:"handler"`
}

// ScanResult is what a consumer sees after scanning a product code
type ScanResult struct {
	Verified               bool                   `json:"verified"`
	Product                *models.Product        `json:"product"`
	BlockchainVerification BlockchainVerification `json:"blockchainVerification"`
}

// BlockchainVerification summarizes the ledger's view of a product
type BlockchainVerification struct {
	TxHash            string    `json:"txHash"`
	BlockHeight       int64     `json:"blockHeight,string"`
	Timestamp         time.Time `json:"timestamp"`
	VerificationCount int       `json:"verificationCount"`
}

// QRCode is a scannable code for a product
type QRCode struct {
	ProductID string `json:"productId"`
	Code      string `json:"code"`
	DataURL   string `json:"qrCode"`
}

// Service is the product record service. Every mutation except delete is written
// to the ledger before it is stored.
type Service struct {
	store       Store
	ledger      l1client.LedgerClient
	submitterID string
	logger      cmtlog.Logger
	now         func() time.Time
	writes      productLocks
}

// productLocks serializes the mutations of one product on this node
type productLocks struct {
	mu    sync.Mutex
	locks map[string]*productLock
}

type productLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until the caller holds id and returns the release func
func (p *productLocks) lock(id string) func() {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[string]*productLock)
	}
	l, ok := p.locks[id]
	if !ok {
		l = &productLock{}
		p.locks[id] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, id)
		}
		p.mu.Unlock()
	}
}

func NewService(store Store, ledger l1client.LedgerClient, submitterID string, logger cmtlog.Logger) *Service {
	return &Service{
		store:       store,
		ledger:      ledger,
		submitterID: submitterID,
		logger:      logger.With("module", "products"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a new lot. actor is the authenticated wallet, if any.
func (s *Service) Create(ctx context.Context, in CreateInput, actor string) (*models.Product, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Type = strings.TrimSpace(in.Type)
	in.Location = strings.TrimSpace(in.Location)

	var missing []string
	if in.Name == "" {
		missing = append(missing, "name")
	}
	if in.Type == "" {
		missing = append(missing, "type")
	}
	if in.Quantity == nil {
		missing = append(missing, "quantity")
	}
	if in.Location == "" {
		missing = append(missing, "location")
	}
	if len(missing) > 0 {
		return nil, apperror.Validation("missing required fields: %s", strings.Join(missing, ", "))
	}
	if *in.Quantity < 0 {
		return nil, apperror.Validation("quantity must not be negative")
	}
	if in.Price != nil && *in.Price < 0 {
		return nil, apperror.Validation("price must not be negative")
	}

	owner := in.Owner
	if actor != "" {
		owner = actor
	}
	farmer := models.Farmer{Name: DefaultFarmerName, WalletAddress: owner}
	if in.Farmer != nil {
		if name := strings.TrimSpace(in.Farmer.Name); name != "" {
			farmer.Name = name
		}
		if in.Farmer.WalletAddress != "" {
			farmer.WalletAddress = in.Farmer.WalletAddress
		}
	}

	product := &models.Product{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Type:        in.Type,
		Quantity:    *in.Quantity,
		Unit:        in.Unit,
		Location:    in.Location,
		Description: in.Description,
		HarvestDate: in.HarvestDate,
		Price:       in.Price,
		Farmer:      farmer,
		Owner:       owner,
		Receiver:    in.Receiver,
		Provider:    in.Provider,
		Status:      models.StatusRegistered,

		Certifications: []models.Certification{},
	}
	for _, label := range dedupe(in.Certifications) {
		product.Certifications = append(product.Certifications, models.Certification{Label: label})
	}

	receipt, err := s.submit(ctx, l1client.KindProductRegister, product.ID, actor, map[string]any{
		"name":           product.Name,
		"type":           product.Type,
		"quantity":       product.Quantity,
		"unit":           product.Unit,
		"location":       product.Location,
		"farmer":         product.Farmer,
		"owner":          product.Owner,
		"certifications": product.CertificationLabels(),
	})
	if err != nil {
		return nil, err
	}

	product.TxHash = receipt.TxHash
	product.BlockHeight = receipt.BlockHeight
	product.Timestamp = receipt.ConfirmTime
	product.TransportHistory = []models.TransportEvent{{
		Date:     receipt.ConfirmTime,
		Location: product.Location,
		Status:   models.StatusRegistered,
		Handler:  farmer.Name,
		TxHash:   receipt.TxHash,
	}}

	if rerr := s.store.CreateProduct(ctx, product); rerr != nil {
		s.logger.Error("Ledger record has no stored product", "product", product.ID, "tx", receipt.TxHash, "err", rerr)
		return nil, apperror.FromRepository(rerr)
	}

	s.logger.Info("Product registered", "product", product.ID, "tx", receipt.TxHash, "height", receipt.BlockHeight)
	return product, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Product, error) {
	product, rerr := s.store.GetProduct(ctx, id)
	if rerr != nil {
		return nil, apperror.FromRepository(rerr)
	}
	return product, nil
}

func (s *Service) List(ctx context.Context, filter repository.ProductFilter) ([]models.Product, error) {
	products, rerr := s.store.ListProducts(ctx, filter)
	if rerr != nil {
		return nil, apperror.FromRepository(rerr)
	}
	if products == nil {
		products = []models.Product{}
	}
	return products, nil
}

// Update applies a patch. History, status and location only move through
// AppendTransportEvent.
func (s *Service) Update(ctx context.Context, id string, patch Patch, actor string) (*models.Product, error) {
	release := s.writes.lock(id)
	defer release()

	current, rerr := s.store.GetProduct(ctx, id)
	if rerr != nil {
		return nil, apperror.FromRepository(rerr)
	}
	if patch.Version != nil && *patch.Version != current.Version {
		return nil, apperror.Conflict("product %s is at version %d, not %d", id, current.Version, *patch.Version)
	}

	changes, err := patch.changes()
	if err != nil {
		return nil, err
	}

	// Another API node can still move the version before UpdateProduct. The
	// product.update record is then orphaned on the ledger and counted by Scan.
	receipt, err := s.submit(ctx, l1client.KindProductUpdate, id, actor, patch)
	if err != nil {
		return nil, err
	}

	updated, rerr := s.store.UpdateProduct(ctx, id, current.Version, changes, stamp(receipt))
	if rerr != nil {
		return nil, apperror.FromRepository(rerr)
	}
	return updated, nil
}

// AppendTransportEvent records one transport step at the end of the product's history
func (s *Service) AppendTransportEvent(ctx context.Context, id string, in TransportInput, actor string) (*models.Product, error) {
	in.Status = strings.TrimSpace(in.Status)
	in.Location = strings.TrimSpace(in.Location)
	in.Handler = strings.TrimSpace(in.Handler)
	if in.Handler == "" {
		in.Handler = actor
	}
	if in.Status == "" || in.Location == "" || in.Handler == "" {
		return nil, apperror.Validation("status, location and handler are required")
	}

	release := s.writes.lock(id)
	defer release()

	current, rerr := s.store.GetProduct(ctx, id)
	if rerr != nil {
		return nil, apperror.FromRepository(rerr)
	}

	// Same orphan window as Update when a second API node appends concurrently.
	receipt, err := s.submit(ctx, l1client.KindProductTransport, id, actor, in)
	if err != nil {
		return nil, err
	}

	event := models.TransportEvent{
		Date:     receipt.ConfirmTime,
		Location: in.Location,
		Status:   in.Status,
		Handler:  in.Handler,
		TxHash:   receipt.TxHash,
	}
	updated, rerr := s.store.AppendTransportEvent(ctx, id, current.Version, event, stamp(receipt))
	if rerr != nil {
		return nil, apperror.FromRepository(rerr)
	}

	s.logger.Info("Transport event appended", "product", id, "status", in.Status, "tx", receipt.TxHash)
	return updated, nil
}

// Delete removes a product. The ledger keeps its records.
func (s *Service) Delete(ctx context.Context, id string) (*models.Product, error) {
	product, rerr := s.store.DeleteProduct(ctx, id)
	if rerr != nil {
		return nil, apperror.FromRepository(rerr)
	}
	return product, nil
}

// Scan resolves a scanned code and checks the product's latest write against the ledger
func (s *Service) Scan(ctx context.Context, code string) (*ScanResult, error) {
	id := ProductIDFromCode(code)
	if id == "" {
		return nil, apperror.Validation("code is required")
	}

	product, rerr := s.store.GetProduct(ctx, id)
	if rerr != nil {
		return nil, apperror.FromRepository(rerr)
	}

	var (
		verification *l1client.Verification
		count        int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.ledger.Verify(gctx, product.TxHash)
		if errors.Is(err, l1client.ErrNotFound) {
			return nil
		}
		verification = v
		return err
	})
	g.Go(func() error {
		n, err := s.ledger.CountRecords(gctx, product.ID)
		count = n
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperror.Internal("ledger verification failed", err)
	}

	result := &ScanResult{
		Product: product,
		BlockchainVerification: BlockchainVerification{
			TxHash:            product.TxHash,
			BlockHeight:       product.BlockHeight,
			Timestamp:         product.Timestamp,
			VerificationCount: count,
		},
	}
	if verification != nil && verification.SubjectID == product.ID {
		result.Verified = true
		result.BlockchainVerification.BlockHeight = verification.BlockHeight
	}
	return result, nil
}

// QRCode renders the scan code of a product as a PNG data URL
func (s *Service) QRCode(ctx context.Context, id string) (*QRCode, error) {
	if _, rerr := s.store.GetProduct(ctx, id); rerr != nil {
		return nil, apperror.FromRepository(rerr)
	}

	code := ScanPrefix + id
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return nil, apperror.Internal("failed to render QR code", err)
	}

	var buf bytes.Buffer
	buf.WriteString("data:image/png;base64,")
	buf.WriteString(base64.StdEncoding.EncodeToString(png))
	return &QRCode{ProductID: id, Code: code, DataURL: buf.String()}, nil
}

// ProductIDFromCode strips the scan prefix if present
func ProductIDFromCode(code string) string {
	return strings.TrimPrefix(strings.TrimSpace(code), ScanPrefix)
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

func stamp(receipt *l1client.Receipt) repository.LedgerStamp {
	return repository.LedgerStamp{
		TxHash:      receipt.TxHash,
		BlockHeight: receipt.BlockHeight,
		Timestamp:   receipt.ConfirmTime,
	}
}

// dedupe trims labels and drops blanks and repeats, keeping first-seen order
func dedupe(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, label)
	}
	return out
}
