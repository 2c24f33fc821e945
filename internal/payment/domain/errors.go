package domain

import "errors"

var (
	ErrTransactionNotFound   = errors.New("payment transaction not found")
	ErrTransactionExists     = errors.New("payment transaction already registered")
	ErrInvalidTransaction    = errors.New("invalid payment transaction")
	ErrInvalidTransition     = errors.New("invalid payment status transition")
	ErrVersionConflict       = errors.New("payment transaction changed concurrently")
	ErrUnsupportedGateway    = errors.New("unsupported payment gateway")
	ErrOrderUpdateFailed     = errors.New("order update failed")
	ErrInvalidSignature      = errors.New("webhook signature mismatch")
	ErrMalformedNotification = errors.New("malformed webhook notification")
)
