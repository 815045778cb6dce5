package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Product statuses
const (
	StatusRegistered = "Registered"
)

// Farmer is the producer of a lot, stored inline on the product row
type Farmer struct {
	Name          string `gorm:"column:name;type:varchar(255)" json:"name"`
	WalletAddress string `gorm:"column:wallet_address;type:varchar(42);index" json:"walletAddress"`
}

// Product represents one harvested lot tracked on the ledger
type Product struct {
	ID          string   `gorm:"column:product_id;primaryKey;type:varchar(36)" json:"id"`
	Name        string   `gorm:"column:name;type:varchar(255);not null;index" json:"name"`
	Type        string   `gorm:"column:type;type:varchar(100);not null;index" json:"type"`
	Quantity    float64  `gorm:"column:quantity;not null" json:"quantity"`
	Unit        string   `gorm:"column:unit;type:varchar(20)" json:"unit,omitempty"`
	Location    string   `gorm:"column:location;type:varchar(255);not null;index" json:"location"`
	Description string   `gorm:"column:description;type:text" json:"description"`
	HarvestDate string   `gorm:"column:harvest_date;type:varchar(30)" json:"harvestDate,omitempty"`
	Price       *float64 `gorm:"column:price" json:"price,omitempty"`
	Farmer      Farmer   `gorm:"embedded;embeddedPrefix:farmer_" json:"farmer"`
	Owner       string   `gorm:"column:owner;type:varchar(42)" json:"owner"`
	Receiver    string   `gorm:"column:receiver;type:varchar(42)" json:"receiver"`
	Provider    string   `gorm:"column:provider;type:varchar(42)" json:"provider"`
	Status      string   `gorm:"column:status;type:varchar(50);not null" json:"status"`

	// Ledger info of the latest write
	TxHash      string    `gorm:"column:tx_hash;type:varchar(66);not null" json:"txHash"`
	BlockHeight int64     `gorm:"column:block_height;not null" json:"blockHeight,string"`
	Timestamp   time.Time `gorm:"column:ledger_timestamp" json:"timestamp"`

	Version   int64     `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`

	// Relationships
	Certifications   []Certification  `gorm:"foreignKey:ProductID;references:ID" json:"certifications"`
	TransportHistory []TransportEvent `gorm:"foreignKey:ProductID;references:ID" json:"transportHistory"`
}

// CertificationLabels returns the labels in insertion order
func (p *Product) CertificationLabels() []string {
	labels := make([]string, 0, len(p.Certifications))
	for _, c := range p.Certifications {
		labels = append(labels, c.Label)
	}
	return labels
}

// Certification is one label attached to a product. It serializes as a bare string.
type Certification struct {
	ID        uint   `gorm:"column:certification_id;primaryKey;autoIncrement"`
	ProductID string `gorm:"column:product_id;type:varchar(36);not null;uniqueIndex:idx_cert_product_label"`
	Label     string `gorm:"column:label;type:varchar(100);not null;uniqueIndex:idx_cert_product_label;index"`
	Position  int    `gorm:"column:position;not null"`
}

func (Certification) TableName() string { return "product_certifications" }

func (c Certification) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Label)
}

func (c *Certification) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &c.Label)
}

// TransportEvent is one immutable step of a product's journey
type TransportEvent struct {
	ID        uint      `gorm:"column:event_id;primaryKey;autoIncrement" json:"-"`
	ProductID string    `gorm:"column:product_id;type:varchar(36);not null;uniqueIndex:idx_transport_product_seq" json:"-"`
	Seq       int       `gorm:"column:seq;not null;uniqueIndex:idx_transport_product_seq" json:"-"`
	Date      time.Time `gorm:"column:event_date;not null" json:"date"`
	Location  string    `gorm:"column:location;type:varchar(255);not null;index" json:"location"`
	Status    string    `gorm:"column:status;type:varchar(50);not null;index" json:"status"`
	Handler   string    `gorm:"column:handler;type:varchar(255)" json:"handler"`
	TxHash    string    `gorm:"column:tx_hash;type:varchar(66)" json:"txHash"`
}

// Role discriminates the identity kinds
type Role int

const (
	RoleFarm Role = iota
	RoleLogistics
	RoleProductOwner
	RoleStore
)

var roleCollections = [...]string{"Farm", "Logistics", "Product", "Store"}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r >= RoleFarm && r <= RoleStore
}

// Collection is the participant group name the role belongs to
func (r Role) Collection() string {
	if !r.Valid() {
		return ""
	}
	return roleCollections[r]
}

// Identity is a registered participant. Exactly one profile matching Role is set.
type Identity struct {
	ID            uint      `gorm:"column:identity_id;primaryKey;autoIncrement" json:"-"`
	AddressWallet string    `gorm:"column:address_wallet;type:varchar(42);not null;uniqueIndex" json:"addressWallet"`
	Role          Role      `gorm:"column:role;not null" json:"role"`
	Name          string    `gorm:"column:name;type:varchar(255);not null" json:"name"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`

	// Relationships
	Farm         *FarmProfile         `gorm:"foreignKey:IdentityID;constraint:OnDelete:CASCADE" json:"farm,omitempty"`
	Logistics    *LogisticsProfile    `gorm:"foreignKey:IdentityID;constraint:OnDelete:CASCADE" json:"logistics,omitempty"`
	ProductOwner *ProductOwnerProfile `gorm:"foreignKey:IdentityID;constraint:OnDelete:CASCADE" json:"productOwner,omitempty"`
	Store        *StoreProfile        `gorm:"foreignKey:IdentityID;constraint:OnDelete:CASCADE" json:"store,omitempty"`
}

// FarmProfile holds Farm-only attributes
type FarmProfile struct {
	IdentityID uint   `gorm:"column:identity_id;primaryKey" json:"-"`
	Owner      string `gorm:"column:owner;type:varchar(255)" json:"owner"`
}

// LogisticsProfile holds Logistics-only attributes
type LogisticsProfile struct {
	IdentityID    uint           `gorm:"column:identity_id;primaryKey" json:"-"`
	ContactNumber string         `gorm:"column:contact_number;type:varchar(50)" json:"contactNumber"`
	Vehicles      datatypes.JSON `gorm:"column:vehicles" json:"vehicles"`
}

// ProductOwnerProfile holds Product-owner-only attributes
type ProductOwnerProfile struct {
	IdentityID uint   `gorm:"column:identity_id;primaryKey" json:"-"`
	Provider   string `gorm:"column:provider;type:varchar(255)" json:"provider"`
}

// StoreProfile holds Store-only attributes
type StoreProfile struct {
	IdentityID uint   `gorm:"column:identity_id;primaryKey" json:"-"`
	Address    string `gorm:"column:address;type:varchar(255)" json:"address"`
}

// Payment records a purchase written to the ledger
type Payment struct {
	ID            string    `gorm:"column:payment_id;primaryKey;type:varchar(36)" json:"id"`
	ProductID     string    `gorm:"column:product_id;type:varchar(36);not null;index" json:"productId"`
	BuyerAddress  string    `gorm:"column:buyer_address;type:varchar(42);not null" json:"buyerAddress"`
	SellerAddress string    `gorm:"column:seller_address;type:varchar(42);not null" json:"sellerAddress"`
	Amount        float64   `gorm:"column:amount;not null" json:"amount"`
	TxHash        string    `gorm:"column:tx_hash;type:varchar(66);not null" json:"txHash"`
	BlockHeight   int64     `gorm:"column:block_height" json:"blockHeight,string"`
	Timestamp     time.Time `gorm:"column:ledger_timestamp" json:"timestamp"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// Complaint records a buyer complaint against a ledger transaction
type Complaint struct {
	ID             string    `gorm:"column:complaint_id;primaryKey;type:varchar(50)" json:"complaintId"`
	ProductID      string    `gorm:"column:product_id;type:varchar(36);not null;index" json:"productId"`
	OriginalTxHash string    `gorm:"column:original_tx_hash;type:varchar(66);not null" json:"originalTxHash"`
	Reason         string    `gorm:"column:reason;type:text;not null" json:"reason"`
	BuyerAddress   string    `gorm:"column:buyer_address;type:varchar(42);not null" json:"buyerAddress"`
	Status         string    `gorm:"column:status;type:varchar(20);not null;default:'Pending'" json:"status"`
	TxHash         string    `gorm:"column:tx_hash;type:varchar(66);not null" json:"txHash"`
	BlockHeight    int64     `gorm:"column:block_height" json:"blockHeight,string"`
	Timestamp      time.Time `gorm:"column:ledger_timestamp" json:"timestamp"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}
