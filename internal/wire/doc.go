// Package wire encodes and decodes notification channel messages.
//
// Every frame is a CBOR array [requestId, type, command, data] where type is a
// bit set of message kind, source and destination flags, command is a byte
// string naming the message and data is a CBOR-encoded payload. Payloads sent by
// the server may use text or byte strings interchangeably; decoding absorbs both.
package wire
