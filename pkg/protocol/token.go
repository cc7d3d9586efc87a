package protocol

import "google.golang.org/protobuf/encoding/protowire"

// EncodeSelfApproveToken builds the minimal protobuf message body Upstream's
// self-approve gRPC-Web method expects: a single length-delimited field 1
// carrying the raw token bytes. Grounded on the original's encode_guid,
// generalized here to "field 1 holds the token bytes" rather than hardcoded
// to a GUID-shaped value — callers may pass any opaque token string.
func EncodeSelfApproveToken(token string) []byte {
	var b []byte
	b = protowire.AppendTag(b, protowire.Number(1), protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(token))
	return b
}

// DecodeSelfApproveToken extracts the field-1 token bytes from a message
// built by EncodeSelfApproveToken. Used by tests and by any caller that
// needs to verify round-tripping rather than construct a fresh request.
func DecodeSelfApproveToken(body []byte) (string, bool) {
	num, typ, n := protowire.ConsumeTag(body)
	if n < 0 || num != 1 || typ != protowire.BytesType {
		return "", false
	}
	body = body[n:]
	value, n := protowire.ConsumeBytes(body)
	if n < 0 {
		return "", false
	}
	return string(value), true
}
