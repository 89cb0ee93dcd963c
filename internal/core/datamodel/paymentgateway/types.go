package paymentgateway

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// SessionRequest is what the shim asks the gateway to open a checkout for.
type SessionRequest struct {
	Amount    decimal.Decimal
	Currency  string
	ReturnURL string
	Metadata  map[string]interface{}
}

// InitPayload is the JSON body sent to the gateway's order init endpoint.
// Amount is in minor units; an amount that rounds to zero is rejected.
type InitPayload struct {
	Amount      int64                  `json:"amount" validate:"gt=0"`
	Currency    string                 `json:"currency" validate:"len=3,uppercase"`
	Client      string                 `json:"client" validate:"required"`
	Environment string                 `json:"environment" validate:"oneof=sandbox production"`
	RedirectURL string                 `json:"redirect_url,omitempty" validate:"omitempty,url"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

type SessionResponse struct {
	Token string
	Raw   json.RawMessage
}

type StatusResponse struct {
	State string
	Raw   json.RawMessage
}
