package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/cristianortiz/liveAuction/internal/payment/domain"
	"github.com/shopspring/decimal"
)

const (
	phonePeVerifyHeader    = "X-VERIFY"
	phonePeSaltIndexMarker = "###"
)

type phonePeEnvelope struct {
	Response string `json:"response"`
}

type phonePePayload struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Data    struct {
		MerchantID            string `json:"merchantId"`
		MerchantTransactionID string `json:"merchantTransactionId"`
		TransactionID         string `json:"transactionId"`
		Amount                int64  `json:"amount"` // paise
		State                 string `json:"state"`
	} `json:"data"`
}

// PhonePeVerifier checks the X-VERIFY header of a PhonePe server-to-server callback.
type PhonePeVerifier struct {
	saltKey   string
	saltIndex string
	path      string // overrides Request.Path when the public callback path differs from the routed one
}

func NewPhonePeVerifier(saltKey, saltIndex, callbackPath string) *PhonePeVerifier {
	return &PhonePeVerifier{saltKey: saltKey, saltIndex: saltIndex, path: callbackPath}
}

func (v *PhonePeVerifier) Gateway() domain.Gateway { return domain.GatewayPhonePe }

func (v *PhonePeVerifier) Configured() bool { return v.saltKey != "" }

func (v *PhonePeVerifier) Verify(req Request) (*Notification, error) {
	if !v.Configured() {
		return nil, ErrInvalidSignature
	}
	var env phonePeEnvelope
	if err := json.Unmarshal(req.Body, &env); err != nil || env.Response == "" {
		return nil, malformed("phonepe envelope")
	}

	path := req.Path
	if v.path != "" {
		path = v.path
	}
	header := req.Headers.Get(phonePeVerifyHeader)
	expected := PhonePeChecksum(env.Response, path, v.saltKey, v.saltIndex)
	if header == "" || subtle.ConstantTimeCompare([]byte(header), []byte(expected)) != 1 {
		return nil, ErrInvalidSignature
	}

	decoded, err := base64.StdEncoding.DecodeString(env.Response)
	if err != nil {
		return nil, malformed("phonepe response is not base64")
	}
	var payload phonePePayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, malformed("phonepe payload: %v", err)
	}
	if payload.Data.MerchantTransactionID == "" {
		return nil, malformed("phonepe merchantTransactionId missing")
	}

	n := newNotification(domain.GatewayPhonePe, req.Body)
	n.merchantReference = payload.Data.MerchantTransactionID
	n.gatewayTransactionID = payload.Data.TransactionID
	n.rawStatus = payload.Data.State
	n.amount = decimal.New(payload.Data.Amount, -2)
	n.eventID = payload.Data.TransactionID
	n.outcome = phonePeOutcome(payload.Data.State)
	return n, nil
}

// PhonePeChecksum builds the X-VERIFY value sha256(payload + path + salt) + "###" + saltIndex.
func PhonePeChecksum(base64Payload, path, saltKey, saltIndex string) string {
	sum := sha256.Sum256([]byte(base64Payload + path + saltKey))
	return hex.EncodeToString(sum[:]) + phonePeSaltIndexMarker + saltIndex
}

func phonePeOutcome(state string) domain.Status {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "COMPLETED":
		return domain.StatusPaid
	case "FAILED":
		return domain.StatusFailed
	case "CANCELLED":
		return domain.StatusCancelled
	default:
		return domain.StatusPending
	}
}
