package wire

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

func mustCBOR(t *testing.T, v any) []byte {
	t.Helper()
	b, err := cbor.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestFrameRoundTrip(t *testing.T) {
	payload, err := EncodeCheckUpdate("1.2.0", "d751713988987e9331980363e24189ce")
	require.NoError(t, err)

	f := ClientNotification(CmdCheckUpdate, payload)
	require.Equal(t, TypeNotification|SrcClient|DestServer, f.Type)
	require.True(t, f.IsNotification())

	b, err := f.Encode()
	require.NoError(t, err)
	got, err := DecodeFrame(b)
	require.NoError(t, err)
	require.Equal(t, f, got)

	version, fp, err := DecodeCheckUpdate(got.Data)
	require.NoError(t, err)
	require.Equal(t, "1.2.0", version)
	require.Equal(t, "d751713988987e9331980363e24189ce", fp)
}

func TestDecodeFrameAcceptsTextCommand(t *testing.T) {
	b := mustCBOR(t, []any{-2, TypeNotification | SrcServer | DestClient, "ErrorMsg", []byte{0x61, 0x78}})
	f, err := DecodeFrame(b)
	require.NoError(t, err)
	require.Equal(t, CmdErrorMsg, f.Command)

	msg, err := DecodeText(f.Data)
	require.NoError(t, err)
	require.Equal(t, "x", msg)
}

func TestDecodeFrameRejectsMalformed(t *testing.T) {
	for name, b := range map[string][]byte{
		"garbage":      {0xff, 0x00},
		"short":        mustCBOR(t, []any{1, 2}),
		"bad id":       mustCBOR(t, []any{"x", 1, "cmd", []byte{}}),
		"bad command":  mustCBOR(t, []any{1, 1, 5, []byte{}}),
		"bad data":     mustCBOR(t, []any{1, 1, "cmd", 5}),
		"not an array": mustCBOR(t, "frame"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeFrame(b)
			require.Error(t, err)
			require.Equal(t, errors.CategoryProtocol, errors.GetCategory(err))
		})
	}
}

func TestDecodeTextAcceptsByteString(t *testing.T) {
	s, err := DecodeText(mustCBOR(t, []byte("-----BEGIN PUBLIC KEY-----")))
	require.NoError(t, err)
	require.Equal(t, "-----BEGIN PUBLIC KEY-----", s)

	s, err = DecodeText(mustCBOR(t, "key"))
	require.NoError(t, err)
	require.Equal(t, "key", s)

	s, err = DecodeText(mustCBOR(t, 42))
	require.NoError(t, err)
	require.Empty(t, s)
}

func TestDecodeVerdictUpToDate(t *testing.T) {
	v, err := DecodeVerdict(mustCBOR(t, []any{"UP_TO_DATE", "1.0", "2.0", []any{}, "ok", false}))
	require.NoError(t, err)
	require.Equal(t, Verdict{Status: StatusUpToDate, MinVersion: "1.0", MaxVersion: "2.0", Message: "ok"}, v)
}

func TestDecodeVerdictUpdateRequiredWithByteStrings(t *testing.T) {
	b := mustCBOR(t, []any{
		[]byte("UPDATE_REQUIRED"), "1.0", []byte("2.0"),
		[]any{
			[]any{"core", []byte("https://x/core.git"), "abc123"},
			[]any{"short", "https://x/short.git"},
			"not-an-entry",
		},
		[]byte("please update"), true,
	})
	v, err := DecodeVerdict(b)
	require.NoError(t, err)
	require.Equal(t, StatusUpdateRequired, v.Status)
	require.Equal(t, "2.0", v.MaxVersion)
	require.Equal(t, "please update", v.Message)
	require.True(t, v.NeedRestart)
	require.Equal(t, []Package{{Name: "core", URL: "https://x/core.git", Hash: "abc123"}}, v.Packages)
}

func TestDecodeVerdictRejectsMalformed(t *testing.T) {
	_, err := DecodeVerdict(nil)
	require.Error(t, err)
	ce, ok := errors.AsClassified(err)
	require.True(t, ok)
	require.Equal(t, MsgEmptyVerdict, ce.Message())

	for name, b := range map[string][]byte{
		"four elements": mustCBOR(t, []any{"UP_TO_DATE", "1.0", "2.0", []any{}}),
		"not an array":  mustCBOR(t, map[string]string{"status": "UP_TO_DATE"}),
		"garbage":       {0xff},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeVerdict(b)
			require.Error(t, err)
			ce, ok := errors.AsClassified(err)
			require.True(t, ok)
			require.Equal(t, errors.CategoryProtocol, ce.Category())
			require.Equal(t, MsgInvalidVerdict, ce.Message())
		})
	}
}

func TestEncodeVerdictRoundTrip(t *testing.T) {
	in := Verdict{
		Status:      StatusUpdateRequired,
		MinVersion:  "1.0",
		MaxVersion:  "2.0",
		Packages:    []Package{{Name: "core", URL: "https://x/core.git", Hash: "abc123"}},
		Message:     "please update",
		NeedRestart: true,
	}
	b, err := EncodeVerdict(in)
	require.NoError(t, err)
	out, err := DecodeVerdict(b)
	require.NoError(t, err)
	require.Equal(t, in, out)
}
