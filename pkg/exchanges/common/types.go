package common

// Side denotes order side in the venue's bid/ask vocabulary.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// SizingMode says how OrderRequest.Value is interpreted.
type SizingMode string

const (
	// SizeByValue spends Value in quote currency (market buy).
	SizeByValue SizingMode = "price"
	// SizeByVolume sells Value units of the asset (market sell).
	SizeByVolume SizingMode = "market"
)

// Credentials is an access/secret key pair.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// Empty reports whether either key is missing.
func (c Credentials) Empty() bool {
	return c.AccessKey == "" || c.SecretKey == ""
}

// OrderRequest captures a market order intent.
type OrderRequest struct {
	Market string
	Side   Side
	Mode   SizingMode
	Value  float64
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id,omitempty"`
	Message string `json:"message,omitempty"`
	// Price/Volume are filled in when the venue reports an execution (paper fills).
	Price  float64 `json:"price,omitempty"`
	Volume float64 `json:"volume,omitempty"`
}

// Verification is the outcome of a credential check.
type Verification struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}
