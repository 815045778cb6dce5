package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/agritrace/agritracechain/layer-2/repository/models"
)

// ProductFilter narrows ListProducts. Zero-valued fields are ignored and the rest are ANDed.
type ProductFilter struct {
	Name                string
	Type                string
	Location            string
	Quantity            *float64
	CreatedAtStart      *time.Time
	CreatedAtEnd        *time.Time
	FarmerName          string
	FarmerWalletAddress string
	TransportStatus     string
	TransportLocation   string
	Certification       string
}

// ProductChanges is a conditional update of the product row.
// Certifications, when non-nil, replace the stored set.
type ProductChanges struct {
	Fields         map[string]any
	Certifications []string
}

// LedgerStamp is the ledger result of one write
type LedgerStamp struct {
	TxHash      string
	BlockHeight int64
	Timestamp   time.Time
}

func preloadProduct(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Certifications", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("TransportHistory", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") })
}

// CreateProduct stores a new product with its certifications and history
func (r *Repository) CreateProduct(ctx context.Context, product *models.Product) *RepositoryError {
	db, rerr := r.handle(ctx)
	if rerr != nil {
		return rerr
	}

	if product.Version == 0 {
		product.Version = 1
	}
	for i := range product.Certifications {
		product.Certifications[i].Position = i
	}
	for i := range product.TransportHistory {
		product.TransportHistory[i].Seq = i + 1
	}

	if err := db.Create(product).Error; err != nil {
		if isUniqueViolation(err) {
			return &RepositoryError{
				Code:    CodeAlreadyExists,
				Message: "Product already exists",
				Detail:  fmt.Sprintf("Product %s already exists", product.ID),
			}
		}
		return &RepositoryError{
			Code:    CodeCreateFailed,
			Message: "Failed to create product",
			Detail:  err.Error(),
		}
	}
	return nil
}

// GetProduct retrieves a product by ID
func (r *Repository) GetProduct(ctx context.Context, productID string) (*models.Product, *RepositoryError) {
	db, rerr := r.handle(ctx)
	if rerr != nil {
		return nil, rerr
	}
	return getProduct(db, productID)
}

func getProduct(db *gorm.DB, productID string) (*models.Product, *RepositoryError) {
	var product models.Product
	err := preloadProduct(db).Where("product_id = ?", productID).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, productNotFound(productID)
		}
		return nil, databaseError(err)
	}
	return &product, nil
}

func productNotFound(productID string) *RepositoryError {
	return &RepositoryError{
		Code:    CodeNotFound,
		Message: "Product not found",
		Detail:  fmt.Sprintf("Product %s does not exist", productID),
	}
}

// ListProducts returns the products matching every set filter field, newest first
func (r *Repository) ListProducts(ctx context.Context, filter ProductFilter) ([]models.Product, *RepositoryError) {
	db, rerr := r.handle(ctx)
	if rerr != nil {
		return nil, rerr
	}

	query := preloadProduct(db).Model(&models.Product{})
	if filter.Name != "" {
		query = query.Where("products.name = ?", filter.Name)
	}
	if filter.Type != "" {
		query = query.Where("products.type = ?", filter.Type)
	}
	if filter.Location != "" {
		query = query.Where("products.location = ?", filter.Location)
	}
	if filter.Quantity != nil {
		query = query.Where("products.quantity = ?", *filter.Quantity)
	}
	if filter.CreatedAtStart != nil {
		query = query.Where("products.created_at >= ?", *filter.CreatedAtStart)
	}
	if filter.CreatedAtEnd != nil {
		query = query.Where("products.created_at <= ?", *filter.CreatedAtEnd)
	}
	if filter.FarmerName != "" {
		query = query.Where("products.farmer_name = ?", filter.FarmerName)
	}
	if filter.FarmerWalletAddress != "" {
		query = query.Where("LOWER(products.farmer_wallet_address) = LOWER(?)", filter.FarmerWalletAddress)
	}
	// Status and location may be satisfied by different history entries.
	if filter.TransportStatus != "" {
		query = query.Where("EXISTS (SELECT 1 FROM transport_events te WHERE te.product_id = products.product_id AND te.status = ?)", filter.TransportStatus)
	}
	if filter.TransportLocation != "" {
		query = query.Where("EXISTS (SELECT 1 FROM transport_events te WHERE te.product_id = products.product_id AND te.location = ?)", filter.TransportLocation)
	}
	if filter.Certification != "" {
		query = query.Where("EXISTS (SELECT 1 FROM product_certifications pc WHERE pc.product_id = products.product_id AND pc.label = ?)", filter.Certification)
	}

	var products []models.Product
	if err := query.Order("products.created_at DESC").Order("products.product_id ASC").Find(&products).Error; err != nil {
		return nil, databaseError(err)
	}
	return products, nil
}

// UpdateProduct applies changes if the stored version still equals expectedVersion,
// then bumps the version and returns the fresh product.
func (r *Repository) UpdateProduct(ctx context.Context, productID string, expectedVersion int64, changes ProductChanges, stamp LedgerStamp) (*models.Product, *RepositoryError) {
	db, rerr := r.handle(ctx)
	if rerr != nil {
		return nil, rerr
	}

	var updated *models.Product
	err := db.Transaction(func(tx *gorm.DB) error {
		fields := stampFields(stamp)
		for k, v := range changes.Fields {
			fields[k] = v
		}
		if rerr := conditionalUpdate(tx, productID, expectedVersion, fields); rerr != nil {
			return rerr
		}

		if changes.Certifications != nil {
			if err := tx.Where("product_id = ?", productID).Delete(&models.Certification{}).Error; err != nil {
				return err
			}
			if len(changes.Certifications) > 0 {
				certs := make([]models.Certification, 0, len(changes.Certifications))
				for i, label := range changes.Certifications {
					certs = append(certs, models.Certification{ProductID: productID, Label: label, Position: i})
				}
				if err := tx.Create(&certs).Error; err != nil {
					return err
				}
			}
		}

		product, rerr := getProduct(tx, productID)
		if rerr != nil {
			return rerr
		}
		updated = product
		return nil
	})
	if err != nil {
		return nil, asRepositoryError(err, CodeUpdateFailed, "Failed to update product")
	}
	return updated, nil
}

// AppendTransportEvent adds one history entry after the current last one and moves the
// product's status and location to the entry's values.
func (r *Repository) AppendTransportEvent(ctx context.Context, productID string, expectedVersion int64, event models.TransportEvent, stamp LedgerStamp) (*models.Product, *RepositoryError) {
	db, rerr := r.handle(ctx)
	if rerr != nil {
		return nil, rerr
	}

	var updated *models.Product
	err := db.Transaction(func(tx *gorm.DB) error {
		fields := stampFields(stamp)
		fields["status"] = event.Status
		fields["location"] = event.Location
		if rerr := conditionalUpdate(tx, productID, expectedVersion, fields); rerr != nil {
			return rerr
		}

		var lastSeq int
		if err := tx.Model(&models.TransportEvent{}).
			Where("product_id = ?", productID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&lastSeq).Error; err != nil {
			return err
		}

		event.ID = 0
		event.ProductID = productID
		event.Seq = lastSeq + 1
		if err := tx.Create(&event).Error; err != nil {
			return err
		}

		product, rerr := getProduct(tx, productID)
		if rerr != nil {
			return rerr
		}
		updated = product
		return nil
	})
	if err != nil {
		return nil, asRepositoryError(err, CodeUpdateFailed, "Failed to append transport event")
	}
	return updated, nil
}

// DeleteProduct removes a product and everything attached to it
func (r *Repository) DeleteProduct(ctx context.Context, productID string) (*models.Product, *RepositoryError) {
	db, rerr := r.handle(ctx)
	if rerr != nil {
		return nil, rerr
	}

	var deleted *models.Product
	err := db.Transaction(func(tx *gorm.DB) error {
		product, rerr := getProduct(tx, productID)
		if rerr != nil {
			return rerr
		}
		if err := tx.Where("product_id = ?", productID).Delete(&models.TransportEvent{}).Error; err != nil {
			return err
		}
		if err := tx.Where("product_id = ?", productID).Delete(&models.Certification{}).Error; err != nil {
			return err
		}
		if err := tx.Where("product_id = ?", productID).Delete(&models.Product{}).Error; err != nil {
			return err
		}
		deleted = product
		return nil
	})
	if err != nil {
		return nil, asRepositoryError(err, CodeDeleteFailed, "Failed to delete product")
	}
	return deleted, nil
}

func stampFields(stamp LedgerStamp) map[string]any {
	return map[string]any{
		"tx_hash":          stamp.TxHash,
		"block_height":     stamp.BlockHeight,
		"ledger_timestamp": stamp.Timestamp,
	}
}

// conditionalUpdate is the compare-and-set on version that keeps concurrent writers from
// overwriting each other.
func conditionalUpdate(tx *gorm.DB, productID string, expectedVersion int64, fields map[string]any) error {
	fields["version"] = gorm.Expr("version + 1")
	fields["updated_at"] = time.Now().UTC()

	result := tx.Model(&models.Product{}).
		Where("product_id = ? AND version = ?", productID, expectedVersion).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := tx.Model(&models.Product{}).Where("product_id = ?", productID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return productNotFound(productID)
	}
	return &RepositoryError{
		Code:    CodeVersionConflict,
		Message: "Product was modified concurrently",
		Detail:  fmt.Sprintf("Product %s is no longer at version %d", productID, expectedVersion),
	}
}

func asRepositoryError(err error, code, message string) *RepositoryError {
	var rerr *RepositoryError
	if errors.As(err, &rerr) {
		return rerr
	}
	if isUniqueViolation(err) {
		return &RepositoryError{
			Code:    CodeVersionConflict,
			Message: "Product was modified concurrently",
			Detail:  err.Error(),
		}
	}
	return &RepositoryError{Code: code, Message: message, Detail: err.Error()}
}
