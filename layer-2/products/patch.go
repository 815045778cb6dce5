package products

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/agritrace/agritracechain/layer-2/apperror"
	"github.com/agritrace/agritracechain/layer-2/repository"
)

// Fields a patch may never set. Top-level status and location always equal the
// last transportHistory entry, so they move only with an appended transport event.
var immutableFields = map[string]bool{
	"id":               true,
	"transportHistory": true,
	"status":           true,
	"location":         true,
	"txHash":           true,
	"blockHeight":      true,
	"timestamp":        true,
	"createdAt":        true,
	"updatedAt":        true,
}

// Patch is a partial product update. Nil fields are left unchanged.
type Patch struct {
	Name           *string      `json:"name,omitempty"`
	Type           *string      `json:"type,omitempty"`
	Quantity       *float64     `json:"quantity,omitempty"`
	Unit           *string      `json:"unit,omitempty"`
	Description    *string      `json:"description,omitempty"`
	HarvestDate    *string      `json:"harvestDate,omitempty"`
	Price          *float64     `json:"price,omitempty"`
	Certifications []string     `json:"certifications,omitempty"`
	Farmer         *FarmerInput `json:"farmer,omitempty"`
	Owner          *string      `json:"owner,omitempty"`
	Receiver       *string      `json:"receiver,omitempty"`
	Provider       *string      `json:"provider,omitempty"`

	// Version, when sent, must match the stored version
	Version *int64 `json:"version,omitempty"`
}

// ParsePatch decodes a patch body, rejecting immutable and unknown fields
func ParsePatch(body []byte) (Patch, error) {
	var patch Patch
	if len(bytes.TrimSpace(body)) == 0 {
		return patch, apperror.Validation("request body is required")
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(body, &keys); err != nil {
		return patch, apperror.Validation("invalid JSON body: %v", err)
	}
	var rejected []string
	for key := range keys {
		if immutableFields[key] {
			rejected = append(rejected, key)
		}
	}
	if len(rejected) > 0 {
		sort.Strings(rejected)
		if keys["status"] != nil || keys["location"] != nil {
			return patch, apperror.Validation("fields cannot be updated: %s (status and location change only through a transport event)", strings.Join(rejected, ", "))
		}
		return patch, apperror.Validation("fields cannot be updated: %s", strings.Join(rejected, ", "))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		return patch, apperror.Validation("invalid update: %v", err)
	}

	// keep "certifications": [] distinct from an absent field
	if raw, ok := keys["certifications"]; ok && patch.Certifications == nil && string(bytes.TrimSpace(raw)) != "null" {
		patch.Certifications = []string{}
	}
	return patch, nil
}

func (p Patch) changes() (repository.ProductChanges, error) {
	fields := map[string]any{}

	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return repository.ProductChanges{}, apperror.Validation("name cannot be empty")
		}
		fields["name"] = name
	}
	if p.Type != nil {
		typ := strings.TrimSpace(*p.Type)
		if typ == "" {
			return repository.ProductChanges{}, apperror.Validation("type cannot be empty")
		}
		fields["type"] = typ
	}
	if p.Quantity != nil {
		if *p.Quantity < 0 {
			return repository.ProductChanges{}, apperror.Validation("quantity must not be negative")
		}
		fields["quantity"] = *p.Quantity
	}
	if p.Price != nil {
		if *p.Price < 0 {
			return repository.ProductChanges{}, apperror.Validation("price must not be negative")
		}
		fields["price"] = *p.Price
	}
	if p.Unit != nil {
		fields["unit"] = *p.Unit
	}
	if p.Description != nil {
		fields["description"] = *p.Description
	}
	if p.HarvestDate != nil {
		fields["harvest_date"] = *p.HarvestDate
	}
	if p.Farmer != nil {
		if name := strings.TrimSpace(p.Farmer.Name); name != "" {
			fields["farmer_name"] = name
		}
		if p.Farmer.WalletAddress != "" {
			fields["farmer_wallet_address"] = p.Farmer.WalletAddress
		}
	}
	if p.Owner != nil {
		fields["owner"] = *p.Owner
	}
	if p.Receiver != nil {
		fields["receiver"] = *p.Receiver
	}
	if p.Provider != nil {
		fields["provider"] = *p.Provider
	}

	changes := repository.ProductChanges{Fields: fields}
	if p.Certifications != nil {
		changes.Certifications = dedupe(p.Certifications)
	}
	return changes, nil
}
