package repository

import (
	"context"

	"github.com/agritrace/agritracechain/layer-2/repository/models"
)

// CreatePayment stores a payment confirmed on the ledger
func (r *Repository) CreatePayment(ctx context.Context, payment *models.Payment) *RepositoryError {
	db, rerr := r.handle(ctx)
	if rerr != nil {
		return rerr
	}
	if err := db.Create(payment).Error; err != nil {
		return &RepositoryError{
			Code:    CodeCreateFailed,
			Message: "Failed to record payment",
			Detail:  err.Error(),
		}
	}
	return nil
}

// CreateComplaint stores a complaint confirmed on the ledger
func (r *Repository) CreateComplaint(ctx context.Context, complaint *models.Complaint) *RepositoryError {
	db, rerr := r.handle(ctx)
	if rerr != nil {
		return rerr
	}
	if err := db.Create(complaint).Error; err != nil {
		return &RepositoryError{
			Code:    CodeCreateFailed,
			Message: "Failed to record complaint",
			Detail:  err.Error(),
		}
	}
	return nil
}

// ListComplaints returns the complaints filed against a product, oldest first
func (r *Repository) ListComplaints(ctx context.Context, productID string) ([]models.Complaint, *RepositoryError) {
	db, rerr := r.handle(ctx)
	if rerr != nil {
		return nil, rerr
	}
	var complaints []models.Complaint
	if err := db.Where("product_id = ?", productID).Order("created_at ASC").Find(&complaints).Error; err != nil {
		return nil, databaseError(err)
	}
	return complaints, nil
}
