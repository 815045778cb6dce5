package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/agritrace/agritracechain/layer-2/repository/models"
)

// NormalizeWallet lower-cases a wallet address so lookups and the unique index are
// case-insensitive.
func NormalizeWallet(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// CreateIdentity registers a participant together with its role profile
func (r *Repository) CreateIdentity(ctx context.Context, identity *models.Identity) *RepositoryError {
	db, rerr := r.handle(ctx)
	if rerr != nil {
		return rerr
	}

	identity.AddressWallet = NormalizeWallet(identity.AddressWallet)
	if err := db.Create(identity).Error; err != nil {
		if isUniqueViolation(err) {
			return &RepositoryError{
				Code:    CodeAlreadyExists,
				Message: "Wallet address already registered",
				Detail:  fmt.Sprintf("Wallet %s already belongs to an identity", identity.AddressWallet),
			}
		}
		return &RepositoryError{
			Code:    CodeCreateFailed,
			Message: "Failed to create identity",
			Detail:  err.Error(),
		}
	}
	return nil
}

// GetIdentity retrieves an identity and its profile by wallet address
func (r *Repository) GetIdentity(ctx context.Context, address string) (*models.Identity, *RepositoryError) {
	db, rerr := r.handle(ctx)
	if rerr != nil {
		return nil, rerr
	}

	var identity models.Identity
	err := db.Preload("Farm").
		Preload("Logistics").
		Preload("ProductOwner").
		Preload("Store").
		Where("address_wallet = ?", NormalizeWallet(address)).
		First(&identity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identityNotFound(address)
		}
		return nil, databaseError(err)
	}
	return &identity, nil
}

// FindRole returns the role registered for address with a single indexed lookup
func (r *Repository) FindRole(ctx context.Context, address string) (models.Role, *RepositoryError) {
	db, rerr := r.handle(ctx)
	if rerr != nil {
		return 0, rerr
	}

	var rows []models.Identity
	err := db.Select("role").
		Where("address_wallet = ?", NormalizeWallet(address)).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return 0, databaseError(err)
	}
	if len(rows) == 0 {
		return 0, identityNotFound(address)
	}
	return rows[0].Role, nil
}

func identityNotFound(address string) *RepositoryError {
	return &RepositoryError{
		Code:    CodeNotFound,
		Message: "Identity not found",
		Detail:  fmt.Sprintf("No identity registered for wallet %s", address),
	}
}
