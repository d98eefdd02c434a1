// Package smpp implements a transport over an SMPP transceiver session.
// Submit responses drive the sent signal; delivery receipts are matched to
// their message by SMSC message id and drive the delivered signal.
package smpp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/linxGnu/gosmpp"
	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"
	"go.uber.org/zap"

	"smsbridge/internal/logging"
	"smsbridge/transport"
)

// ErrClosed is returned by Transmit after Close.
var ErrClosed = errors.New("smpp: session closed")

type submitter interface {
	Submit(pdu.PDU) error
}

type pendingSubmit struct {
	id string
	cb transport.Callbacks
}

// Transmitter is a transport.Transport bound to one SMSC.
type Transmitter struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	out     submitter
	closed  bool
	pending map[int32]pendingSubmit

	receipts *lru.Cache[string, pendingSubmit]
	session  *gosmpp.Session
}

// Dial binds a transceiver session using cfg.
func Dial(cfg Config, logger *zap.Logger) (*Transmitter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	t, err := newTransmitter(cfg, logger)
	if err != nil {
		return nil, err
	}

	auth := gosmpp.Auth{
		SMSC:       cfg.Addr,
		SystemID:   cfg.SystemID,
		Password:   cfg.Password,
		SystemType: cfg.SystemType,
	}
	settings := gosmpp.Settings{
		EnquireLink:  cfg.EnquireLink,
		ReadTimeout:  cfg.RequestTimeout + 5*time.Second,
		WriteTimeout: cfg.RequestTimeout,

		WindowedRequestTracking: &gosmpp.WindowedRequestTracking{
			MaxWindowSize:         uint8(cfg.Window),
			PduExpireTimeOut:      cfg.RequestTimeout,
			ExpireCheckTimer:      time.Second,
			EnableAutoRespond:     false,
			OnReceivedPduRequest:  t.onRequest,
			OnExpectedPduResponse: t.onResponse,
			OnExpiredPduRequest:   t.onExpired,
			OnClosePduRequest:     t.onClosedRequest,
		},

		OnSubmitError: func(p pdu.PDU, err error) {
			t.logger.Warn("smpp submit error", zap.Int32("seq", p.GetSequenceNumber()), zap.Error(err))
		},
		OnReceivingError: func(err error) {
			t.logger.Warn("smpp receive error", zap.Error(err))
		},
		OnRebindingError: func(err error) {
			t.logger.Warn("smpp rebind error", zap.Error(err))
		},
		OnClosed: func(state gosmpp.State) {
			t.logger.Info("smpp session closed", zap.Any("state", state))
		},
	}

	sess, err := gosmpp.NewSession(gosmpp.TRXConnector(gosmpp.NonTLSDialer, auth), settings, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("smpp: bind %s: %w", cfg.Addr, err)
	}
	t.session = sess
	t.out = sess.Transceiver()
	t.logger.Info("smpp session bound", zap.String("smsc", cfg.Addr), zap.String("system_id", cfg.SystemID))
	return t, nil
}

func newTransmitter(cfg Config, logger *zap.Logger) (*Transmitter, error) {
	size := cfg.ReceiptCache
	if size <= 0 {
		size = 4096
	}
	receipts, err := lru.New[string, pendingSubmit](size)
	if err != nil {
		return nil, fmt.Errorf("smpp: receipt cache: %w", err)
	}
	return &Transmitter{
		cfg:      cfg,
		logger:   logging.OrNop(logger).Named("smpp"),
		pending:  make(map[int32]pendingSubmit),
		receipts: receipts,
	}, nil
}

// Transmit issues a submit_sm. A delivery receipt is requested when the
// caller wants the delivered signal.
func (t *Transmitter) Transmit(ctx context.Context, msg transport.Message, cb transport.Callbacks) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := t.buildSubmit(msg, cb.OnDelivered != nil)
	if err != nil {
		return err
	}
	seq := p.GetSequenceNumber()

	t.mu.Lock()
	if t.closed || t.out == nil {
		t.mu.Unlock()
		return ErrClosed
	}
	out := t.out
	t.pending[seq] = pendingSubmit{id: msg.ID, cb: cb}
	t.mu.Unlock()

	if err := out.Submit(p); err != nil {
		t.take(seq)
		return fmt.Errorf("smpp: submit: %w", err)
	}
	t.logger.Debug("submit_sm issued", zap.String("id", msg.ID), zap.Int32("seq", seq))
	return nil
}

func (t *Transmitter) buildSubmit(msg transport.Message, receipt bool) (*pdu.SubmitSM, error) {
	p := pdu.NewSubmitSM().(*pdu.SubmitSM)

	src := pdu.NewAddress()
	src.SetTon(5)
	src.SetNpi(0)
	if err := src.SetAddress(t.cfg.source(msg.Slot)); err != nil {
		return nil, fmt.Errorf("smpp: source address: %w", err)
	}
	p.SourceAddr = src

	dst := pdu.NewAddress()
	dst.SetTon(1)
	dst.SetNpi(1)
	if err := dst.SetAddress(strings.TrimPrefix(msg.Destination, "+")); err != nil {
		return nil, fmt.Errorf("smpp: destination address: %w", err)
	}
	p.DestAddr = dst

	if err := p.Message.SetMessageWithEncoding(msg.Payload, encodingFor(msg.Payload)); err != nil {
		return nil, fmt.Errorf("smpp: message body: %w", err)
	}
	p.ProtocolID = 0
	p.EsmClass = 0
	p.ReplaceIfPresentFlag = 0
	if receipt {
		p.RegisteredDelivery = 1
	}
	return p, nil
}

func encodingFor(payload string) data.Encoding {
	for _, r := range payload {
		if r >= 0x80 {
			return data.UCS2
		}
	}
	return data.GSM7BIT
}

func (t *Transmitter) take(seq int32) (pendingSubmit, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ps, ok := t.pending[seq]
	if ok {
		delete(t.pending, seq)
	}
	return ps, ok
}

func (t *Transmitter) onResponse(resp gosmpp.Response) {
	submitResp, ok := resp.PDU.(*pdu.SubmitSMResp)
	if !ok || resp.OriginalRequest.PDU == nil {
		return
	}
	ps, ok := t.take(resp.OriginalRequest.PDU.GetSequenceNumber())
	if !ok {
		t.logger.Debug("submit_sm_resp for unknown sequence", zap.Int32("seq", resp.OriginalRequest.PDU.GetSequenceNumber()))
		return
	}

	st := submitResp.GetHeader().CommandStatus
	code := submitCode(st)
	if code == transport.Ok && ps.cb.OnDelivered != nil && submitResp.MessageID != "" {
		t.receipts.Add(submitResp.MessageID, ps)
	}
	t.logger.Debug("submit_sm_resp",
		zap.String("id", ps.id),
		zap.String("smsc_id", submitResp.MessageID),
		zap.Stringer("code", code))
	fire(ps.cb.OnSent, code)
}

func (t *Transmitter) onExpired(p pdu.PDU) bool {
	if _, ok := p.(*pdu.SubmitSM); ok {
		if ps, ok := t.take(p.GetSequenceNumber()); ok {
			t.logger.Warn("submit_sm expired", zap.String("id", ps.id))
			fire(ps.cb.OnSent, transport.NoService)
		}
	}
	return false
}

func (t *Transmitter) onClosedRequest(p pdu.PDU) {
	if _, ok := p.(*pdu.SubmitSM); ok {
		if ps, ok := t.take(p.GetSequenceNumber()); ok {
			fire(ps.cb.OnSent, transport.RadioOff)
		}
	}
}

func (t *Transmitter) onRequest(p pdu.PDU) (pdu.PDU, bool) {
	switch pd := p.(type) {
	case *pdu.DeliverSM:
		t.handleDeliver(pd)
		return pd.GetResponse(), false
	case *pdu.EnquireLink:
		return pd.GetResponse(), false
	case *pdu.Unbind:
		t.logger.Info("smsc requested unbind")
		return pd.GetResponse(), false
	case *pdu.DataSM:
		return pd.GetResponse(), false
	}
	return nil, false
}

// receiptFlag is the esm_class bit marking an SMSC delivery receipt.
const receiptFlag = 0x04

func (t *Transmitter) handleDeliver(pd *pdu.DeliverSM) {
	if pd.EsmClass&receiptFlag == 0 {
		// Mobile originated traffic is not handled.
		return
	}
	text, err := pd.Message.GetMessage()
	if err != nil {
		t.logger.Warn("unreadable delivery receipt", zap.Error(err))
		return
	}
	smscID, stat, ok := parseReceipt(text)
	if !ok {
		t.logger.Warn("malformed delivery receipt", zap.String("text", text))
		return
	}
	ps, ok := t.receipts.Peek(smscID)
	if !ok {
		t.logger.Debug("receipt for unknown message", zap.String("smsc_id", smscID))
		return
	}
	t.receipts.Remove(smscID)
	fire(ps.cb.OnDelivered, receiptCode(stat))
}

// Close unbinds the session. Outstanding submits are failed through the
// session's close handler.
func (t *Transmitter) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sess := t.session
	t.mu.Unlock()

	t.receipts.Purge()
	if sess != nil {
		return sess.Close()
	}
	return nil
}

func fire(fn func(transport.ResultCode), code transport.ResultCode) {
	if fn != nil {
		fn(code)
	}
}

// submitCode maps a submit_sm_resp command status.
func submitCode(st data.CommandStatusType) transport.ResultCode {
	switch st {
	case data.ESME_ROK:
		return transport.Ok
	case data.ESME_RINVMSGLEN:
		return transport.NullPdu
	case data.ESME_RTHROTTLED, data.ESME_RMSGQFUL:
		return transport.NoService
	}
	// Low status values overlap the known result codes.
	if int(st) <= int(transport.NoService) {
		return transport.GenericFailure
	}
	return transport.Other(int(st))
}

// receiptCode maps the stat field of a delivery receipt.
func receiptCode(stat string) transport.ResultCode {
	if strings.EqualFold(stat, "DELIVRD") {
		return transport.Ok
	}
	return transport.Canceled
}

// parseReceipt extracts the id and stat fields of a receipt text such as
// "id:abc sub:001 dlvrd:001 submit date:... done date:... stat:DELIVRD err:000".
func parseReceipt(text string) (id, stat string, ok bool) {
	fields := strings.Fields(text)
	for _, f := range fields {
		k, v, found := strings.Cut(f, ":")
		if !found {
			continue
		}
		switch strings.ToLower(k) {
		case "id":
			if id == "" {
				id = v
			}
		case "stat":
			stat = v
		}
	}
	return id, stat, id != "" && stat != ""
}
