package gateway

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/cristianortiz/liveAuction/internal/payment/domain"
	"github.com/shopspring/decimal"
)

// PayUVerifier checks the reverse hash PayU posts with its form callback.
type PayUVerifier struct {
	salt string
}

func NewPayUVerifier(salt string) *PayUVerifier {
	return &PayUVerifier{salt: salt}
}

func (v *PayUVerifier) Gateway() domain.Gateway { return domain.GatewayPayU }

func (v *PayUVerifier) Configured() bool { return v.salt != "" }

func (v *PayUVerifier) Verify(req Request) (*Notification, error) {
	// an empty salt is public knowledge, anyone could sign with it
	if !v.Configured() {
		return nil, ErrInvalidSignature
	}
	form, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return nil, malformed("payu form: %v", err)
	}
	hash := strings.ToLower(form.Get("hash"))
	if hash == "" {
		return nil, ErrInvalidSignature
	}
	expected := PayUHash(v.salt, form)
	if subtle.ConstantTimeCompare([]byte(hash), []byte(expected)) != 1 {
		return nil, ErrInvalidSignature
	}

	n := newNotification(domain.GatewayPayU, req.Body)
	n.merchantReference = form.Get("txnid")
	n.gatewayTransactionID = form.Get("mihpayid")
	n.orderID = form.Get("udf1")
	n.rawStatus = form.Get("status")
	n.eventID = n.gatewayTransactionID
	if n.merchantReference == "" {
		return nil, malformed("payu txnid missing")
	}
	if n.amount, err = decimal.NewFromString(form.Get("amount")); err != nil {
		return nil, malformed("payu amount %q", form.Get("amount"))
	}
	n.outcome = payuOutcome(n.rawStatus)
	return n, nil
}

// PayUHash computes the reverse hash
// sha512(salt|status||||||udf1|email|firstname|productinfo|amount|txnid|salt).
// The empty slots stand for udf fields this integration never sets.
func PayUHash(salt string, form url.Values) string {
	parts := []string{
		salt,
		form.Get("status"),
		"", "", "", "", "",
		form.Get("udf1"),
		form.Get("email"),
		form.Get("firstname"),
		form.Get("productinfo"),
		form.Get("amount"),
		form.Get("txnid"),
		salt,
	}
	sum := sha512.Sum512([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func payuOutcome(status string) domain.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success":
		return domain.StatusPaid
	case "failure", "failed":
		return domain.StatusFailed
	case "cancel", "cancelled", "usercancelled":
		return domain.StatusCancelled
	default:
		return domain.StatusPending
	}
}
