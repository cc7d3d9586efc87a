package botbridge

import "google.golang.org/protobuf/encoding/protowire"

// otpEntry is a single second-factor seed extracted from a QR-code export,
// regardless of which of the two supported URI schemes produced it (§4.I).
type otpEntry struct {
	secret []byte
	name   string
	issuer string
}

// parseMigrationPayload decodes a Google-Authenticator-style
// `otpauth-migration://` payload: a top-level message whose field 1 repeats
// for every exported account, each instance itself a message of secret
// (field 1, bytes), name (field 2, string), and issuer (field 3, string).
// No generated stubs exist for this message in the retrieved corpus, so it
// is walked field-by-field with protowire directly, the same approach
// pkg/protocol's self-approve token encoding uses.
func parseMigrationPayload(data []byte) ([]otpEntry, error) {
	var entries []otpEntry

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errMalformedMigration
		}
		data = data[n:]

		if num != 1 || typ != protowire.BytesType {
			// Version/batch_size/batch_index/batch_id housekeeping fields
			// (2-5) — skip, they carry nothing this bridge needs.
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, errMalformedMigration
			}
			data = data[n:]
			continue
		}

		raw, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, errMalformedMigration
		}
		data = data[n:]

		entry, err := parseOtpParameters(raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func parseOtpParameters(data []byte) (otpEntry, error) {
	var entry otpEntry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return otpEntry{}, errMalformedMigration
		}
		data = data[n:]

		switch {
		case num == 1 && typ == protowire.BytesType:
			secret, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return otpEntry{}, errMalformedMigration
			}
			entry.secret = append([]byte(nil), secret...)
			data = data[n:]
		case num == 2 && typ == protowire.BytesType:
			name, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return otpEntry{}, errMalformedMigration
			}
			entry.name = string(name)
			data = data[n:]
		case num == 3 && typ == protowire.BytesType:
			issuer, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return otpEntry{}, errMalformedMigration
			}
			entry.issuer = string(issuer)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return otpEntry{}, errMalformedMigration
			}
			data = data[n:]
		}
	}
	return entry, nil
}
