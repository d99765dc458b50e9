package wsfeed

import (
	"github.com/nspcc-dev/chainmux/pkg/signalmux"
	"github.com/nspcc-dev/chainmux/pkg/signalmux/feed"
	json "github.com/nspcc-dev/go-ordered-json"
)

// Message is a single event sent to WebSocket clients.
type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// transaction is the JSON form of signalmux.TransactionRecord.
type transaction = json.OrderedObject

func newTransaction(rec signalmux.TransactionRecord) transaction {
	return transaction{
		{Key: "trace", Value: rec.Trace},
		{Key: "packed", Value: rec.Packed},
	}
}

// newMessage converts a feed event into the message sent to clients.
func newMessage(e feed.Event) Message {
	m := Message{Event: e.Type.String()}
	switch e.Type {
	case feed.BlockStarted:
		m.Payload = json.OrderedObject{{Key: "index", Value: e.Index}}
	case feed.TransactionApplied:
		m.Payload = newTransaction(signalmux.TransactionRecord{Trace: e.Trace, Packed: e.Packed})
	case feed.BlockAccepted, feed.BlockIrreversible:
		m.Payload = e.Block
	case feed.TransactionBatch:
		txs := make([]transaction, 0, len(e.Batch))
		for _, rec := range e.Batch {
			txs = append(txs, newTransaction(rec))
		}
		m.Payload = json.OrderedObject{
			{Key: "block", Value: e.Block},
			{Key: "transactions", Value: txs},
		}
	}
	return m
}

// marshal returns the JSON representation of the event.
func marshal(e feed.Event) ([]byte, error) {
	return json.Marshal(newMessage(e))
}
