package domain

// User is a person known to Upstream. Credentials may arrive after the row
// is created (first contact can be a bare user id from the bot bridge).
//
// Invariant: Login non-empty iff Password non-empty; if either is set, the
// pair must be mutually valid against Upstream or the user is considered to
// have stale credentials.
type User struct {
	ID              UserID
	Login           string
	Password        SecretString
	Group           string
	UserAgent       string
	AllowConfirm    bool
	AdminLevel      int
	FIO             string
	TOTPSeed        SecretBytes
	TOTPCredentialID string
}

// HasCredentials reports whether the user has a login/password pair on file.
func (u User) HasCredentials() bool {
	return u.Login != "" && !u.Password.IsEmpty()
}

// HasTOTPSeed reports whether an auto-2FA seed is stored for this user.
func (u User) HasTOTPSeed() bool {
	return !u.TOTPSeed.IsEmpty()
}

// AdminLevelMax is the highest admin level recognized by the broker.
const AdminLevelMax = 5

// IsValidAdminLevel reports whether level is within the recognized range.
func IsValidAdminLevel(level int) bool {
	return level >= 0 && level <= AdminLevelMax
}

// CookieJar is an opaque bag of session cookies. The broker never parses
// individual cookies; it only ever stores and replays the set it received.
type CookieJar struct {
	Cookies []Cookie
}

// Cookie is a single opaque cookie tuple, semantics owned entirely by Upstream.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	// ExpiresUnix is 0 when the cookie carries no explicit expiry (session cookie).
	ExpiresUnix int64
}

// IsEmpty reports whether the jar holds no cookies.
func (j CookieJar) IsEmpty() bool {
	return len(j.Cookies) == 0
}
