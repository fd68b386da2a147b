package wire

import (
	"github.com/fxamacker/cbor/v2"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

// Verdict statuses.
const (
	StatusUpToDate       = "UP_TO_DATE"
	StatusUpdateRequired = "UPDATE_REQUIRED"
	StatusVersionTooOld  = "VERSION_TOO_OLD"
)

// Messages used for malformed verdicts.
const (
	MsgEmptyVerdict   = "Empty UpdateInfo response"
	MsgInvalidVerdict = "Invalid CBOR format"
)

// Package is one [name, url, hash] entry of a verdict.
type Package struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

// Verdict is the decoded UpdateInfo payload.
type Verdict struct {
	Status      string
	MinVersion  string
	MaxVersion  string
	Packages    []Package
	Message     string
	NeedRestart bool
}

// EncodeCheckUpdate builds the CheckUpdate payload [clientVersion, fingerprint].
func EncodeCheckUpdate(version, fingerprint string) ([]byte, error) {
	return marshal([]string{version, fingerprint}, CmdCheckUpdate)
}

// DecodeCheckUpdate parses a CheckUpdate payload.
func DecodeCheckUpdate(data []byte) (version, fingerprint string, err error) {
	var raw []any
	if err := cbor.Unmarshal(data, &raw); err != nil || len(raw) < 2 {
		return "", "", errors.ProtocolError("malformed CheckUpdate payload").Build()
	}
	version, _ = text(raw[0])
	fingerprint, _ = text(raw[1])
	return version, fingerprint, nil
}

// EncodeText encodes s as a CBOR text string (NetworkDelayTest, ErrorMsg).
func EncodeText(s string) ([]byte, error) {
	return marshal(s, "text")
}

// DecodeText decodes a text or byte string payload. Any other item decodes to "".
func DecodeText(data []byte) (string, error) {
	var v any
	if err := cbor.Unmarshal(data, &v); err != nil {
		return "", errors.WrapError(err, errors.CategoryProtocol, "malformed payload").Build()
	}
	s, _ := text(v)
	return s, nil
}

// EncodeVerdict builds an UpdateInfo payload.
func EncodeVerdict(v Verdict) ([]byte, error) {
	pkgs := make([][]string, 0, len(v.Packages))
	for _, p := range v.Packages {
		pkgs = append(pkgs, []string{p.Name, p.URL, p.Hash})
	}
	return marshal([]any{v.Status, v.MinVersion, v.MaxVersion, pkgs, v.Message, v.NeedRestart}, CmdUpdateInfo)
}

// DecodeVerdict parses [status, minVersion, maxVersion, packages, message, needRestart].
// Extra elements are ignored. Package entries with fewer than three elements are skipped.
func DecodeVerdict(data []byte) (Verdict, error) {
	if len(data) == 0 {
		return Verdict{}, errors.ProtocolError(MsgEmptyVerdict).Build()
	}
	var raw any
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return Verdict{}, errors.WrapError(err, errors.CategoryProtocol, MsgInvalidVerdict).Build()
	}
	arr, ok := raw.([]any)
	if !ok || len(arr) < 6 {
		b := errors.ProtocolError(MsgInvalidVerdict)
		if ok {
			b.WithContext("elements", len(arr))
		}
		return Verdict{}, b.Build()
	}

	v := Verdict{}
	v.Status, _ = text(arr[0])
	v.MinVersion, _ = text(arr[1])
	v.MaxVersion, _ = text(arr[2])
	v.Message, _ = text(arr[4])
	v.NeedRestart, _ = arr[5].(bool)

	if list, ok := arr[3].([]any); ok {
		for _, item := range list {
			entry, ok := item.([]any)
			if !ok || len(entry) < 3 {
				continue
			}
			var p Package
			p.Name, _ = text(entry[0])
			p.URL, _ = text(entry[1])
			p.Hash, _ = text(entry[2])
			v.Packages = append(v.Packages, p)
		}
	}
	return v, nil
}

func marshal(v any, what string) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryProtocol, "failed to encode payload").
			WithContext("payload", what).
			Build()
	}
	return b, nil
}
