package voucher

import "time"

// QRPrefix prepended to the redemption code forms the QR token handed to the
// merchant for offline verification.
const QRPrefix = "SPITAK-"

// Voucher is a catalog item purchasable with tokens. RemainingQuantity never
// goes negative; a purchase is only permitted while the voucher is active and
// in stock.
type Voucher struct {
	ID                string
	BrandName         string
	Description       string
	Category          string
	DiscountValue     string
	Price             float64
	RemainingQuantity int64
	Active            bool
	ValidUntil        time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Purchase is the immutable record of one successful redemption, linking the
// buyer, the voucher, the ledger entry and the issued codes.
type Purchase struct {
	ID             string
	UserID         string
	VoucherID      string
	LedgerEntryID  string
	QRCode         string
	RedemptionCode string
	PurchasedAt    time.Time
}
