// Package gateway verifies payment-gateway callbacks. Payload fields are only reachable
// through a Notification, and only a Verifier can build one.
package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/cristianortiz/liveAuction/internal/payment/domain"
	"github.com/cristianortiz/liveAuction/internal/shared/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

var (
	ErrInvalidSignature = domain.ErrInvalidSignature
	ErrMalformedPayload = domain.ErrMalformedNotification
)

// Request is a raw inbound callback.
type Request struct {
	Body    []byte
	Headers http.Header
	Path    string
}

// Verifier checks the signature of a callback before decoding it.
type Verifier interface {
	Gateway() domain.Gateway
	// Configured reports whether the verifier holds a signing secret. Without one
	// Verify rejects every callback.
	Configured() bool
	Verify(req Request) (*Notification, error)
}

// Notification is a callback whose signature has been checked.
type Notification struct {
	gateway              domain.Gateway
	merchantReference    string
	gatewayTransactionID string
	orderID              string
	rawStatus            string
	outcome              domain.Status
	amount               decimal.Decimal
	eventID              string
	payloadDigest        string
}

func newNotification(gw domain.Gateway, body []byte) *Notification {
	sum := sha256.Sum256(body)
	return &Notification{gateway: gw, payloadDigest: hex.EncodeToString(sum[:])}
}

func (n *Notification) Gateway() domain.Gateway { return n.gateway }
func (n *Notification) MerchantReference() string { return n.merchantReference }
func (n *Notification) GatewayTransactionID() string { return n.gatewayTransactionID }
func (n *Notification) Amount() decimal.Decimal { return n.amount }
func (n *Notification) RawStatus() string { return n.rawStatus }

// OrderID is the order echoed back by the gateway, empty when the gateway does not echo one.
func (n *Notification) OrderID() string { return n.orderID }

// Outcome is the terminal status the callback reports. ok is false for non-terminal
// statuses such as pending.
func (n *Notification) Outcome() (domain.Status, bool) {
	return n.outcome, n.outcome.IsTerminal()
}

// Marker identifies this delivery: the gateway event id, or the payload digest.
func (n *Notification) Marker() string {
	if n.eventID != "" {
		return n.eventID
	}
	return "sha256:" + n.payloadDigest
}

// Registry picks the verifier for a gateway.
type Registry map[domain.Gateway]Verifier

// NewRegistry registers every configured verifier. A gateway without a secret is left
// out, so its callbacks resolve to ErrUnsupportedGateway.
func NewRegistry(verifiers ...Verifier) Registry {
	r := make(Registry, len(verifiers))
	for _, v := range verifiers {
		if !v.Configured() {
			log.Warn("Payment gateway disabled: no signing secret configured",
				zap.String("gateway", string(v.Gateway())),
			)
			continue
		}
		r[v.Gateway()] = v
	}
	return r
}

func (r Registry) Verifier(gw domain.Gateway) (Verifier, error) {
	v, ok := r[gw]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedGateway, gw)
	}
	return v, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}
