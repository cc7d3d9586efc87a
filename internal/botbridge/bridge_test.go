package botbridge_test

import (
	"context"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/campusbot/attendance-broker/internal/botbridge"
	"github.com/campusbot/attendance-broker/internal/domain"
)

type fakeSubmitter struct {
	gotUserID domain.UserID
	gotCode   string
	err       error
}

func (f *fakeSubmitter) SubmitCode(_ context.Context, userID domain.UserID, code string) error {
	f.gotUserID = userID
	f.gotCode = code
	return f.err
}

type fakeSeedStore struct {
	gotUserID domain.UserID
	gotSeed   []byte
}

func (f *fakeSeedStore) SetTOTPSeed(_ context.Context, userID domain.UserID, seed domain.SecretBytes) error {
	f.gotUserID = userID
	f.gotSeed = seed.Expose()
	return nil
}

func TestBridge_HandleCode_DelegatesToBroker(t *testing.T) {
	submitter := &fakeSubmitter{}
	bridge := botbridge.New(submitter, &fakeSeedStore{}, nil)

	if err := bridge.HandleCode(context.Background(), domain.MustUserID("7"), " 123456 "); err != nil {
		t.Fatalf("HandleCode() error = %v", err)
	}
	if submitter.gotCode != "123456" {
		t.Fatalf("gotCode = %q, want trimmed 123456", submitter.gotCode)
	}
	if submitter.gotUserID != domain.MustUserID("7") {
		t.Fatalf("gotUserID = %v, want 7", submitter.gotUserID)
	}
}

func TestBridge_HandleAuthenticatorExport_SingleOtpauthURI(t *testing.T) {
	secret := []byte("12345678901234567890")
	b32 := base32.StdEncoding.EncodeToString(secret)
	uri := fmt.Sprintf("otpauth://totp/Attendance%%20Portal:student?secret=%s&issuer=Unknown", b32)

	seeds := &fakeSeedStore{}
	bridge := botbridge.New(&fakeSubmitter{}, seeds, []string{"attendance"})

	if err := bridge.HandleAuthenticatorExport(context.Background(), domain.MustUserID("7"), uri); err != nil {
		t.Fatalf("HandleAuthenticatorExport() error = %v", err)
	}
	if string(seeds.gotSeed) != string(secret) {
		t.Fatalf("gotSeed = %q, want %q", seeds.gotSeed, secret)
	}
}

func TestBridge_HandleAuthenticatorExport_MigrationMultiEntryMatchesIssuer(t *testing.T) {
	other := buildOtpParameters(t, []byte("other-secret-bytes-1"), "other-account", "SomeOtherApp")
	ours := buildOtpParameters(t, []byte("our-secret-bytes-12345"), "me@university", "Attendance-App")

	var payload []byte
	payload = appendEntry(payload, other)
	payload = appendEntry(payload, ours)

	data := base64.StdEncoding.EncodeToString(payload)
	uri := "otpauth-migration://offline?data=" + base64QueryEscape(data)

	seeds := &fakeSeedStore{}
	bridge := botbridge.New(&fakeSubmitter{}, seeds, []string{"attendance-app"})

	if err := bridge.HandleAuthenticatorExport(context.Background(), domain.MustUserID("7"), uri); err != nil {
		t.Fatalf("HandleAuthenticatorExport() error = %v", err)
	}
	if string(seeds.gotSeed) != "our-secret-bytes-12345" {
		t.Fatalf("gotSeed = %q, want our-secret-bytes-12345", seeds.gotSeed)
	}
}

func TestBridge_HandleAuthenticatorExport_MigrationMultiEntryNoMatchIsWrongIssuer(t *testing.T) {
	other := buildOtpParameters(t, []byte("other-secret-bytes-1"), "other-account", "SomeOtherApp")
	another := buildOtpParameters(t, []byte("another-secret-bytes2"), "another-account", "YetAnotherApp")

	var payload []byte
	payload = appendEntry(payload, other)
	payload = appendEntry(payload, another)

	data := base64.StdEncoding.EncodeToString(payload)
	uri := "otpauth-migration://offline?data=" + base64QueryEscape(data)

	bridge := botbridge.New(&fakeSubmitter{}, &fakeSeedStore{}, []string{"attendance-app"})

	err := bridge.HandleAuthenticatorExport(context.Background(), domain.MustUserID("7"), uri)
	if !domain.IsClientError(err) {
		t.Fatalf("expected a wrong-issuer client error, got %v", err)
	}
}

func buildOtpParameters(t *testing.T, secret []byte, name, issuer string) []byte {
	t.Helper()
	var b []byte
	b = protowire.AppendTag(b, protowire.Number(1), protowire.BytesType)
	b = protowire.AppendBytes(b, secret)
	b = protowire.AppendTag(b, protowire.Number(2), protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(name))
	b = protowire.AppendTag(b, protowire.Number(3), protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(issuer))
	return b
}

func appendEntry(payload, entry []byte) []byte {
	payload = protowire.AppendTag(payload, protowire.Number(1), protowire.BytesType)
	payload = protowire.AppendBytes(payload, entry)
	return payload
}

// base64QueryEscape percent-encodes the characters base64 standard encoding
// produces that are not safe unescaped in a URI query value (+ and =).
func base64QueryEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '+':
			out = append(out, "%2B"...)
		case '=':
			out = append(out, "%3D"...)
		case '/':
			out = append(out, "%2F"...)
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
