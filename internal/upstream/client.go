package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/campusbot/attendance-broker/internal/domain"
)

// initialLoginURL is Upstream's SSO entry point; Keycloak redirects the GET
// here through to its own login form. Grounded on the original's
// initial_url constant in get_cookies.get_cookies.
const initialLoginURL = "https://attendance.mirea.ru/api/auth/login" +
	"?redirectUri=https%3A%2F%2Fattendance-app.mirea.ru%2Fservices&rememberMe=True"

const appHost = "attendance-app.mirea.ru"

// Client is a stateless Upstream Client (§4.B): every call opens its own
// cookiejar-backed http.Client scoped to that single login/call attempt, so
// no session state survives between calls — the broker is the sole owner of
// session cookies between calls.
type Client struct {
	httpClient *http.Client
	loginURL   string
}

// NewClient builds an Upstream Client using base as the transport (nil
// selects http.DefaultTransport). base must not follow redirects itself;
// Client manages its own cookie jar and redirect policy per call.
func NewClient(base http.RoundTripper) *Client {
	return &Client{httpClient: &http.Client{Transport: base}, loginURL: initialLoginURL}
}

// BeginLogin performs the Keycloak SSO login flow (§4.B.1): GET the SSO
// entry point, scrape the rendered login form's action URL, POST
// credentials, then classify the result as a fresh session, a second-factor
// challenge, or a credentials rejection.
func (c *Client) BeginLogin(ctx context.Context, login, password, userAgent string) LoginOutcome {
	jar, _ := cookiejar.New(nil)
	httpClient := c.scoped(jar)

	if userAgent == "" {
		userAgent = GenerateMobileUserAgent()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.loginURL, nil)
	if err != nil {
		return LoginBadCredentials{}
	}
	setBrowserHeaders(req, userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return LoginBadCredentials{}
	}
	defer resp.Body.Close()

	body, finalURL, ok := readBody(resp)
	if !ok {
		return LoginBadCredentials{}
	}

	formAction := resolveLoginAction(body, finalURL)
	if formAction == "" {
		return LoginBadCredentials{}
	}

	form := url.Values{"username": {login}, "password": {password}}
	postReq, err := http.NewRequestWithContext(ctx, http.MethodPost, formAction, strings.NewReader(form.Encode()))
	if err != nil {
		return LoginBadCredentials{}
	}
	setPostHeaders(postReq, userAgent, finalURL)

	postResp, err := httpClient.Do(postReq)
	if err != nil {
		return LoginBadCredentials{}
	}
	defer postResp.Body.Close()

	respBody, respURL, ok := readBody(postResp)
	if !ok {
		return LoginBadCredentials{}
	}

	if postResp.StatusCode == http.StatusOK {
		if isTOTPChallengePage(respBody) {
			return c.totpChallengeFromPage(respBody, respURL, jar, false)
		}
		if isEmailCodeChallengePage(respBody) {
			data := extractOTPFormData(respBody, respURL)
			return LoginEmailCodeChallenge{
				ContinuationCookies: cookiesFromJar(jar, respURL),
				SubmitURL:           data.SubmitURL,
			}
		}
	}

	if postResp.StatusCode != http.StatusOK {
		return LoginBadCredentials{}
	}

	if !strings.Contains(respURL, appHost) && strings.Contains(strings.ToLower(respBody), "error") {
		return LoginBadCredentials{}
	}

	cookies := cookiesFromJar(jar, respURL)
	if cookies.IsEmpty() && !strings.Contains(respURL, appHost) {
		return LoginBadCredentials{}
	}

	return LoginSuccess{Cookies: cookies}
}

// SubmitCode posts a second-factor code against a previously raised
// challenge (§4.B.2), replaying continuationCookies into a fresh jar so the
// attempt resumes exactly where the challenge left off.
func (c *Client) SubmitCode(ctx context.Context, kind domain.ChallengeKind, code string, continuationCookies domain.CookieJar, submitURL, credentialID, userAgent string) LoginOutcome {
	jar, _ := cookiejar.New(nil)
	seedJar(jar, continuationCookies, submitURL)
	httpClient := c.scoped(jar)

	if userAgent == "" {
		userAgent = GenerateMobileUserAgent()
	}

	form := url.Values{}
	switch kind {
	case domain.ChallengeKindTOTP:
		form.Set("otp", code)
		form.Set("login", "Вход")
		if credentialID != "" {
			form.Set("selectedCredentialId", credentialID)
		}
	default:
		form.Set("code", code)
		form.Set("login", "Вход")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, strings.NewReader(form.Encode()))
	if err != nil {
		return LoginBadCredentials{}
	}
	setPostHeaders(req, userAgent, submitURL)

	resp, err := httpClient.Do(req)
	if err != nil {
		return LoginBadCredentials{}
	}
	defer resp.Body.Close()

	body, finalURL, ok := readBody(resp)
	if !ok {
		return LoginBadCredentials{}
	}

	if resp.StatusCode == http.StatusOK {
		if isTOTPChallengePage(body) {
			return c.totpChallengeFromPage(body, finalURL, jar, true)
		}
		if isEmailCodeChallengePage(body) {
			data := extractOTPFormData(body, finalURL)
			return LoginEmailCodeChallenge{
				ContinuationCookies: cookiesFromJar(jar, finalURL),
				SubmitURL:           data.SubmitURL,
				WrongCode:           true,
			}
		}
	}

	if resp.StatusCode != http.StatusOK {
		return LoginBadCredentials{}
	}

	cookies := cookiesFromJar(jar, finalURL)
	if cookies.IsEmpty() && !strings.Contains(finalURL, appHost) {
		return LoginBadCredentials{}
	}

	return LoginSuccess{Cookies: cookies}
}

// Call performs a single request against an Upstream application endpoint
// using a previously obtained session (§4.B.3). It is the only entry point
// mass-marking's self-approve calls go through.
func (c *Client) Call(ctx context.Context, method, target string, cookies domain.CookieJar, headers map[string]string, body []byte) CallOutcome {
	jar, _ := cookiejar.New(nil)
	seedJar(jar, cookies, target)
	httpClient := c.scoped(jar)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return CallTransport{Detail: err.Error()}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return CallTransport{Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return CallUnauthorized{}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return CallTransport{Detail: resp.Status}
	}

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return CallTransport{Detail: err.Error()}
	}
	if len(respBytes) == 0 {
		return CallEmpty{}
	}
	return CallOk{Bytes: respBytes}
}

func (c *Client) totpChallengeFromPage(body, pageURL string, jar *cookiejar.Jar, wrongCode bool) LoginOutcome {
	data := extractOTPFormData(body, pageURL)
	return LoginTotpChallenge{
		ContinuationCookies:  cookiesFromJar(jar, pageURL),
		SubmitURL:            data.SubmitURL,
		CredentialID:         data.SelectedCredentialID,
		AvailableCredentials: data.AvailableCredentials,
		WrongCode:            wrongCode,
	}
}

func (c *Client) scoped(jar *cookiejar.Jar) *http.Client {
	return &http.Client{
		Transport: c.httpClient.Transport,
		Jar:       jar,
	}
}

func resolveLoginAction(body, finalURL string) string {
	if m := loginActionRe.FindStringSubmatch(body); m != nil {
		return unescapeJSONString(m[1])
	}
	return formActionFromHTML(body, finalURL)
}

func setBrowserHeaders(req *http.Request, userAgent string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.8,en-US;q=0.5,en;q=0.3")
}

func setPostHeaders(req *http.Request, userAgent, referer string) {
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", referer)
	if u, err := url.Parse(referer); err == nil {
		req.Header.Set("Origin", u.Scheme+"://"+u.Host)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.8,en-US;q=0.5,en;q=0.3")
}

func readBody(resp *http.Response) (body string, finalURL string, ok bool) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", false
	}
	return string(raw), resp.Request.URL.String(), true
}

// seedJar restores a previously extracted CookieJar into a fresh
// net/http/cookiejar so a follow-up request resumes the same Upstream
// session, mirroring the original's restoration of session_cookies into a
// new aiohttp session ahead of submit_otp_code.
func seedJar(jar *cookiejar.Jar, cookies domain.CookieJar, target string) {
	u, err := url.Parse(target)
	if err != nil {
		return
	}
	httpCookies := make([]*http.Cookie, 0, len(cookies.Cookies))
	for _, ck := range cookies.Cookies {
		httpCookies = append(httpCookies, &http.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Secure:   ck.Secure,
			HttpOnly: ck.HTTPOnly,
		})
	}
	jar.SetCookies(&url.URL{Scheme: u.Scheme, Host: ck0Domain(cookies, u)}, httpCookies)
}

// ck0Domain picks the host to seed the jar under: the first cookie's own
// domain if set, otherwise the target URL's host.
func ck0Domain(cookies domain.CookieJar, fallback *url.URL) string {
	for _, ck := range cookies.Cookies {
		if ck.Domain != "" {
			return strings.TrimPrefix(ck.Domain, ".")
		}
	}
	return fallback.Host
}

// cookiesFromJar reads back every cookie net/http/cookiejar holds for
// pageURL's host, the Go equivalent of the original's
// _extract_cookies_list walk over aiohttp's cookie_jar.
func cookiesFromJar(jar *cookiejar.Jar, pageURL string) domain.CookieJar {
	u, err := url.Parse(pageURL)
	if err != nil {
		return domain.CookieJar{}
	}
	httpCookies := jar.Cookies(u)
	out := make([]domain.Cookie, 0, len(httpCookies))
	for _, ck := range httpCookies {
		out = append(out, domain.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   u.Host,
			Path:     ck.Path,
			Secure:   ck.Secure,
			HTTPOnly: ck.HttpOnly,
		})
	}
	return domain.CookieJar{Cookies: out}
}
