package wire

import (
	"github.com/fxamacker/cbor/v2"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

// Message type flags.
const (
	TypeRequest      = 0x100
	TypeReply        = 0x200
	TypeNotification = 0x400

	SrcClient  = 0x010
	SrcServer  = 0x020
	DestClient = 0x001
	DestServer = 0x002
)

// NotificationRequestID is the request id carried by notifications.
const NotificationRequestID = -2

// Commands exchanged on the notification channel.
const (
	CmdNetworkDelayTest = "NetworkDelayTest"
	CmdCheckUpdate      = "CheckUpdate"
	CmdUpdateInfo       = "UpdateInfo"
	CmdErrorMsg         = "ErrorMsg"
)

// Frame is one decoded message.
type Frame struct {
	RequestID int64
	Type      int
	Command   string
	Data      []byte
}

// IsNotification reports whether the notification flag is set.
func (f Frame) IsNotification() bool { return f.Type&TypeNotification != 0 }

// ClientNotification builds a client-to-server notification.
func ClientNotification(command string, data []byte) Frame {
	return Frame{
		RequestID: NotificationRequestID,
		Type:      TypeNotification | SrcClient | DestServer,
		Command:   command,
		Data:      data,
	}
}

// ServerNotification builds a server-to-client notification.
func ServerNotification(command string, data []byte) Frame {
	return Frame{
		RequestID: NotificationRequestID,
		Type:      TypeNotification | SrcServer | DestClient,
		Command:   command,
		Data:      data,
	}
}

// Encode serializes the frame.
func (f Frame) Encode() ([]byte, error) {
	data := f.Data
	if data == nil {
		data = []byte{}
	}
	b, err := cbor.Marshal([]any{f.RequestID, f.Type, []byte(f.Command), data})
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryProtocol, "failed to encode frame").
			WithContext("command", f.Command).
			Build()
	}
	return b, nil
}

// DecodeFrame parses a frame. The command and data fields may be text or byte strings.
func DecodeFrame(b []byte) (Frame, error) {
	var raw []any
	if err := cbor.Unmarshal(b, &raw); err != nil {
		return Frame{}, errors.WrapError(err, errors.CategoryProtocol, "malformed frame").Build()
	}
	if len(raw) < 4 {
		return Frame{}, errors.ProtocolError("frame has too few elements").
			WithContext("elements", len(raw)).
			Build()
	}
	id, ok := toInt(raw[0])
	if !ok {
		return Frame{}, errors.ProtocolError("frame request id is not an integer").Build()
	}
	typ, ok := toInt(raw[1])
	if !ok {
		return Frame{}, errors.ProtocolError("frame type is not an integer").Build()
	}
	cmd, ok := text(raw[2])
	if !ok {
		return Frame{}, errors.ProtocolError("frame command is not a string").Build()
	}
	var data []byte
	switch v := raw[3].(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
	default:
		return Frame{}, errors.ProtocolError("frame data is not a byte string").
			WithContext("command", cmd).
			Build()
	}
	return Frame{RequestID: id, Type: int(typ), Command: cmd, Data: data}, nil
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case uint64:
		return int64(n), true //nolint:gosec // request ids fit in int64
	case int64:
		return n, true
	default:
		return 0, false
	}
}

// text accepts a CBOR text string or a UTF-8 byte string.
func text(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}
