package websocket

import (
	"github.com/cristianortiz/liveAuction/internal/auction/application"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MessageType defines ws type message
type MessageType string

const (
	MessageTypeClientBid         MessageType = "client_bid"          // client msg to make a bid
	MessageTypeClientAutoBid     MessageType = "client_autobid"      // client msg to set an auto-bid ceiling
	MessageTypeServerBidAccepted MessageType = "server_bid_accepted" // server reply to the bidder only
	MessageTypeServerAutoBidSet  MessageType = "server_autobid_set"  // server reply to the rule owner only
	MessageTypeServerError       MessageType = "server_error"        // server msg indicating error
)

// Auction events themselves are sent as broadcast.Event envelopes:
// {"type":"snapshot|aggregate_changed|bid_accepted|countdown_tick|ending_soon", "auction_id", "version", "server_time", "payload"}

// BaseMessage is base struct for all the WS messages, includes a Type field for identify the message type
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// ClientBidMessage is DTO for a bid message sended by the client. AuctionID is optional and
// must match the connection's auction when present. UserID falls back to the connection's.
type ClientBidMessage struct {
	BaseMessage
	Payload struct {
		AuctionID uuid.UUID       `json:"auction_id"`
		UserID    string          `json:"user_id"`
		Amount    decimal.Decimal `json:"amount"`
	} `json:"payload"`
}

type ClientAutoBidMessage struct {
	BaseMessage
	Payload struct {
		AuctionID uuid.UUID       `json:"auction_id"`
		UserID    string          `json:"user_id"`
		MaxBid    decimal.Decimal `json:"max_bid"`
	} `json:"payload"`
}

type ServerBidAcceptedMessage struct {
	BaseMessage
	Payload struct {
		Bid         application.BidDTO   `json:"bid"`
		CounterBids []application.BidDTO `json:"counter_bids"`
	} `json:"payload"`
}

type ServerAutoBidSetMessage struct {
	BaseMessage
	Payload struct {
		Rule        application.AutoBidRuleDTO `json:"rule"`
		CounterBids []application.BidDTO       `json:"counter_bids"`
	} `json:"payload"`
}

type ServerErrorMessage struct {
	BaseMessage
	Payload struct {
		Reason string `json:"reason"`
		Error  string `json:"error"`
	} `json:"payload"`
}
