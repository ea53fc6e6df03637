package room

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"go.mau.fi/roomengine/fedclient"
	"go.mau.fi/roomengine/pdu"
)

// outboundQueue is the per-remote-server outbound transaction state of
// spec §3: a single in-flight request plus an ordered queue of events
// still waiting to go out. The single-in-flight invariant is what keeps
// PDUs delivered in notification order even across retries (spec §5).
type outboundQueue struct {
	inflight bool
	txnID    string
	pending  []*pdu.Event // currently in flight
	queue    []*pdu.Event // waiting for the in-flight request to finish
}

// enqueueOutbound implements spec §4.6's send_txn, append side: add e to
// server's queue, and if nothing is in flight, start sending immediately.
// Must only be called from the actor's own goroutine.
func (a *Actor) enqueueOutbound(server string, e *pdu.Event) {
	q, ok := a.outgoing[server]
	if !ok {
		q = &outboundQueue{}
		a.outgoing[server] = q
	}
	q.queue = append(q.queue, e)
	if !q.inflight {
		a.startOutboundSend(server, q)
	}
}

// startOutboundSend drains server's queue into a new batch and issues the
// transaction, matching spec §4.6's "transaction body is {origin,
// origin_server_ts, pdus}". The response is expected to arrive back on
// this actor's inbox via a.cast so the in-flight bookkeeping stays
// serialised.
func (a *Actor) startOutboundSend(server string, q *outboundQueue) {
	if len(q.queue) == 0 {
		return
	}
	q.pending = q.queue
	q.queue = nil
	q.inflight = true
	q.txnID = uuid.NewString()
	a.sendOutboundTxn(server, q.txnID, q.pending)
}

func (a *Actor) sendOutboundTxn(server, txnID string, events []*pdu.Event) {
	pdus := make([]json.RawMessage, len(events))
	for i, e := range events {
		pdus[i] = e.JSON
	}
	txn := fedclient.Transaction{
		Origin:         a.Host,
		OriginServerTS: nowMillis(),
		PDUs:           pdus,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.FederationTimeout)
		defer cancel()
		if err := a.sendSema.Acquire(ctx, 1); err != nil {
			a.cast(func() { a.handleOutboundTxnResult(server, txnID, err) })
			return
		}
		defer a.sendSema.Release(1)
		err := a.Federation.Send(ctx, server, txnID, txn)
		a.cast(func() { a.handleOutboundTxnResult(server, txnID, err) })
	}()
}

// handleOutboundTxnResult implements spec §4.6's send_txn completion: on
// success drain whatever accumulated in the queue as the next batch;
// otherwise schedule resend_txn in 30s with the SAME txn id and batch, to
// keep the remote side's idempotency key stable.
func (a *Actor) handleOutboundTxnResult(server, txnID string, sendErr error) {
	q, ok := a.outgoing[server]
	if !ok || q.txnID != txnID {
		return // superseded or unknown; ignore stale completion
	}
	if sendErr == nil {
		q.inflight = false
		q.pending = nil
		a.startOutboundSend(server, q)
		return
	}
	a.Log.Warn().Err(sendErr).Str("server", server).Str("txn_id", txnID).Msg("Outbound transaction failed, scheduling resend")
	time.AfterFunc(a.Config.OutboundResendDelay, func() {
		a.cast(func() { a.resendOutboundTxn(server, txnID) })
	})
}

func (a *Actor) resendOutboundTxn(server, txnID string) {
	q, ok := a.outgoing[server]
	if !ok || q.txnID != txnID || !q.inflight {
		return
	}
	a.sendOutboundTxn(server, txnID, q.pending)
}

func nowMillis() int64 { return time.Now().UnixMilli() }
