package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenIssueVerify(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", 15*time.Minute)

	token, claims, err := issuer.Issue("alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if claims.Username != "alice" || claims.TokenID == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	verified, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if verified.Username != "alice" || verified.TokenID != claims.TokenID {
		t.Errorf("claims mismatch: %+v vs %+v", verified, claims)
	}
	if verified.ExpiresAt.Sub(verified.IssuedAt) != 15*time.Minute {
		t.Errorf("unexpected lifetime: %v", verified.ExpiresAt.Sub(verified.IssuedAt))
	}
}

func TestTokenVerifyRejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", 1*time.Nanosecond)
	token, _, err := issuer.Issue("alice")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := issuer.Verify(token); err == nil {
		t.Fatal("expected expiry rejection")
	}
}

func TestTokenVerifyRejectsWrongSecret(t *testing.T) {
	token, _, err := NewTokenIssuer("secret-a", time.Minute).Issue("alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewTokenIssuer("secret-b", time.Minute).Verify(token); err == nil {
		t.Fatal("expected signature rejection")
	}
}

func TestTokenVerifyRejectsGarbage(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Minute)
	for _, tok := range []string{"", "not.a.token", "a.b"} {
		if _, err := issuer.Verify(tok); err == nil {
			t.Errorf("expected rejection for %q", tok)
		}
	}
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if got := ExtractToken(r); got != "" {
		t.Errorf("expected empty, got %q", got)
	}

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	if got := ExtractToken(r); got != "header-token" {
		t.Errorf("header extraction = %q", got)
	}

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Cookie", AccessTokenCookie+"=cookie-token")
	r.Header.Set("Authorization", "Bearer header-token")
	if got := ExtractToken(r); got != "cookie-token" {
		t.Errorf("cookie should win, got %q", got)
	}
}

func TestCSRFGenerateValidate(t *testing.T) {
	signer := NewCSRFSigner("csrf-secret", time.Hour)

	token := signer.Generate()
	if err := signer.Validate(token); err != nil {
		t.Fatalf("fresh token invalid: %v", err)
	}
}

func TestCSRFValidateRejects(t *testing.T) {
	signer := NewCSRFSigner("csrf-secret", time.Hour)

	if err := signer.Validate("!!not-base64!!"); err == nil {
		t.Error("expected malformed rejection")
	}
	if err := NewCSRFSigner("other-secret", time.Hour).Validate(signer.Generate()); err == nil {
		t.Error("expected signature rejection across secrets")
	}

	expired := NewCSRFSigner("csrf-secret", 1*time.Nanosecond)
	token := expired.Generate()
	time.Sleep(10 * time.Millisecond)
	if err := expired.Validate(token); err == nil {
		t.Error("expected expiry rejection")
	}
}

func TestCSRFDoubleSubmit(t *testing.T) {
	signer := NewCSRFSigner("csrf-secret", time.Hour)
	token := signer.Generate()

	r := httptest.NewRequest("POST", "/platform/api", nil)
	r.Header.Set("Cookie", CSRFCookie+"="+token)
	r.Header.Set(CSRFHeader, token)
	if err := signer.CheckDoubleSubmit(r); err != nil {
		t.Fatalf("matching pair rejected: %v", err)
	}

	r = httptest.NewRequest("POST", "/platform/api", nil)
	r.Header.Set("Cookie", CSRFCookie+"="+token)
	if err := signer.CheckDoubleSubmit(r); err == nil {
		t.Error("missing header accepted")
	}

	r = httptest.NewRequest("POST", "/platform/api", nil)
	r.Header.Set("Cookie", CSRFCookie+"="+token)
	r.Header.Set(CSRFHeader, signer.Generate())
	if err := signer.CheckDoubleSubmit(r); err == nil {
		t.Error("mismatched pair accepted")
	}
}

func TestCookieWriter(t *testing.T) {
	w := httptest.NewRecorder()
	cw := CookieWriter{Domain: "example.com", Secure: true}
	cw.SetAuthCookies(w, "tok", "csrf", 15*time.Minute)

	cookies := w.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	var access, csrf bool
	for _, c := range cookies {
		switch c.Name {
		case AccessTokenCookie:
			access = true
			if !c.HttpOnly {
				t.Error("access cookie must be HTTP-only")
			}
			if !c.Secure {
				t.Error("access cookie must be Secure under HTTPS posture")
			}
			if c.SameSite != http.SameSiteLaxMode {
				t.Errorf("access cookie SameSite = %v", c.SameSite)
			}
			if c.Domain != "example.com" {
				t.Errorf("access cookie domain = %q", c.Domain)
			}
		case CSRFCookie:
			csrf = true
			if c.HttpOnly {
				t.Error("csrf cookie must be readable by scripts")
			}
		}
	}
	if !access || !csrf {
		t.Errorf("cookie pair incomplete: access=%v csrf=%v", access, csrf)
	}
}

func TestClearAuthCookies(t *testing.T) {
	w := httptest.NewRecorder()
	CookieWriter{}.ClearAuthCookies(w)

	for _, c := range w.Result().Cookies() {
		if c.MaxAge != -1 {
			t.Errorf("cookie %s not expired: MaxAge=%d", c.Name, c.MaxAge)
		}
	}
}
