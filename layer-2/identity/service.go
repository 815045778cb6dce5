package identity

import (
	"context"
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/agritrace/agritracechain/layer-2/apperror"
	"github.com/agritrace/agritracechain/layer-2/auth"
	"github.com/agritrace/agritracechain/layer-2/repository"
	"github.com/agritrace/agritracechain/layer-2/repository/models"
)

// Store is the persistence the identity service needs
type Store interface {
	CreateIdentity(ctx context.Context, identity *models.Identity) *repository.RepositoryError
	GetIdentity(ctx context.Context, address string) (*models.Identity, *repository.RepositoryError)
	FindRole(ctx context.Context, address string) (models.Role, *repository.RepositoryError)
}

// Resolution is the outcome of a role lookup. Available means no identity owns the address.
type Resolution struct {
	Available  bool
	Role       models.Role
	Collection string
}

// RegisterInput is a registration request. Only the fields of Role's profile are used.
type RegisterInput struct {
	AddressWallet string   `json:"addressWallet"`
	Role          *int     `json:"role"`
	Name          string   `json:"name"`
	Owner         string   `json:"owner,omitempty"`
	ContactNumber string   `json:"contactNumber,omitempty"`
	Vehicles      []string `json:"vehicles,omitempty"`
	Provider      string   `json:"provider,omitempty"`
	Address       string   `json:"address,omitempty"`
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// ResolveRole reports which role, if any, owns address
func (s *Service) ResolveRole(ctx context.Context, address string) (*Resolution, error) {
	if address == "" {
		return nil, apperror.Validation("addressWallet is required")
	}

	role, rerr := s.store.FindRole(ctx, address)
	if rerr != nil {
		if rerr.Code == repository.CodeNotFound {
			return &Resolution{Available: true}, nil
		}
		return nil, apperror.FromRepository(rerr)
	}
	return &Resolution{Role: role, Collection: role.Collection()}, nil
}

// Register creates an identity with exactly the profile its role calls for
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Identity, error) {
	if in.AddressWallet == "" || in.Name == "" || in.Role == nil {
		return nil, apperror.Validation("addressWallet, role and name are required")
	}
	if !auth.IsWalletAddress(in.AddressWallet) {
		return nil, apperror.Validation("addressWallet is not a valid wallet address")
	}
	role := models.Role(*in.Role)
	if !role.Valid() {
		return nil, apperror.Validation("role must be between 0 and 3")
	}

	identity := &models.Identity{
		AddressWallet: in.AddressWallet,
		Role:          role,
		Name:          in.Name,
	}
	switch role {
	case models.RoleFarm:
		identity.Farm = &models.FarmProfile{Owner: in.Owner}
	case models.RoleLogistics:
		vehicles := in.Vehicles
		if vehicles == nil {
			vehicles = []string{}
		}
		raw, err := json.Marshal(vehicles)
		if err != nil {
			return nil, apperror.Internal("failed to encode vehicles", err)
		}
		identity.Logistics = &models.LogisticsProfile{ContactNumber: in.ContactNumber, Vehicles: datatypes.JSON(raw)}
	case models.RoleProductOwner:
		identity.ProductOwner = &models.ProductOwnerProfile{Provider: in.Provider}
	case models.RoleStore:
		identity.Store = &models.StoreProfile{Address: in.Address}
	}

	if rerr := s.store.CreateIdentity(ctx, identity); rerr != nil {
		return nil, apperror.FromRepository(rerr)
	}
	return identity, nil
}

// Get returns the identity registered for address
func (s *Service) Get(ctx context.Context, address string) (*models.Identity, error) {
	if address == "" {
		return nil, apperror.Validation("addressWallet is required")
	}
	identity, rerr := s.store.GetIdentity(ctx, address)
	if rerr != nil {
		return nil, apperror.FromRepository(rerr)
	}
	return identity, nil
}
