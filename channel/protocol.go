package channel

import (
	"context"
	"encoding/json"
	"errors"

	"smsbridge/bridge"
	"smsbridge/transport"
)

// Request is one method call frame.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Response answers the Request with the same ID. Exactly one of Result and
// Error is meaningful; Result may be null.
type Response struct {
	ID     int64      `json:"id"`
	Result any        `json:"result"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries a bridge error code.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const codeNotImplemented = "NOT_IMPLEMENTED"

type sendArgs struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
	SimSlot     int    `json:"simSlot"`
}

type trackArgs struct {
	PhoneNumber string `json:"phoneNumber"`
	MessageText string `json:"messageText"`
}

type reportArgs struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	ResultCode *int   `json:"resultCode"`
}

func (a reportArgs) kind() (transport.Kind, bool) {
	switch a.Kind {
	case "sent":
		return transport.KindSent, true
	case "delivered":
		return transport.KindDelivered, true
	}
	return 0, false
}

// Dispatch runs one method against b.
func Dispatch(ctx context.Context, b *bridge.Bridge, req Request) Response {
	resp := Response{ID: req.ID}
	switch req.Method {
	case "sendSms":
		var args sendArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return failure(resp, string(bridge.CodeInvalidArguments), "Phone number and message are required")
		}
		res, err := b.Send(ctx, bridge.SendRequest{Destination: args.PhoneNumber, Payload: args.Message, SimSlot: args.SimSlot})
		if err != nil {
			return failWith(resp, err)
		}
		resp.Result = res
	case "startTracking":
		var args trackArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return failure(resp, string(bridge.CodeInvalidArguments), "Phone number and message text are required")
		}
		id, err := b.StartTracking(args.PhoneNumber, args.MessageText)
		if err != nil {
			return failWith(resp, err)
		}
		resp.Result = id
	case "reportStatus":
		var args reportArgs
		if err := decodeArgs(req.Args, &args); err != nil || args.ID == "" || args.ResultCode == nil {
			return failure(resp, string(bridge.CodeInvalidArguments), "Tracking id, kind and result code are required")
		}
		kind, ok := args.kind()
		if !ok {
			return failure(resp, string(bridge.CodeInvalidArguments), "Kind must be sent or delivered")
		}
		resp.Result = b.Report(args.ID, kind, transport.Other(*args.ResultCode))
	case "stopTracking":
		b.StopTracking()
	case "getSimCards", "getAvailableSimCards":
		resp.Result = b.SimCards(ctx)
	case "hasPermissions":
		resp.Result = b.HasPermissions(ctx)
	case "isSupported":
		resp.Result = b.IsSupported()
	default:
		return failure(resp, codeNotImplemented, "Method not implemented: "+req.Method)
	}
	return resp
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("missing arguments")
	}
	return json.Unmarshal(raw, v)
}

func failure(resp Response, code, msg string) Response {
	resp.Result = nil
	resp.Error = &ErrorBody{Code: code, Message: msg}
	return resp
}

func failWith(resp Response, err error) Response {
	msg := err.Error()
	var be *bridge.Error
	if errors.As(err, &be) {
		msg = be.Message
	}
	return failure(resp, string(bridge.CodeOf(err)), msg)
}
