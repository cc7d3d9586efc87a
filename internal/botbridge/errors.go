package botbridge

import "errors"

// errMalformedMigration is returned when an otpauth-migration:// payload
// cannot be walked as a valid protobuf byte stream.
var errMalformedMigration = errors.New("botbridge: malformed otpauth-migration payload")
