package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

type fakeResolver struct {
	targets map[string]OutboundTarget
}

func (f fakeResolver) ResolveOutbound(_ context.Context, principalID string) (OutboundTarget, bool) {
	t, ok := f.targets[principalID]
	return t, ok
}

func voiceForm(from, to string) url.Values {
	return url.Values{
		"CallSid":    {"CA123"},
		"AccountSid": {"AC1"},
		"From":       {from},
		"To":         {to},
	}
}

func TestParseVoiceRequest(t *testing.T) {
	body := strings.NewReader(voiceForm("client:p1", "+44 7700 900123").Encode())
	r := httptest.NewRequest(http.MethodPost, "/webhooks/voice", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	req, err := ParseVoiceRequest(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if req.Identity != "p1" || req.To != "+447700900123" || req.CallSid != "CA123" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestParseVoiceRequestRequiresClientLeg(t *testing.T) {
	body := strings.NewReader(voiceForm("+15551234567", "+447700900123").Encode())
	r := httptest.NewRequest(http.MethodPost, "/webhooks/voice", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if _, err := ParseVoiceRequest(r); err != ErrNotClientLeg {
		t.Fatalf("expected ErrNotClientLeg, got %v", err)
	}
}

func TestValidateSignature(t *testing.T) {
	params := voiceForm("client:p1", "+447700900123")
	sig := ComputeSignature("secret", "https://calls.example.com/webhooks/voice", params)

	if err := ValidateSignature("secret", "https://calls.example.com/webhooks/voice", params, sig); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := ValidateSignature("other", "https://calls.example.com/webhooks/voice", params, sig); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature for wrong token, got %v", err)
	}
	params.Set("To", "+15550000000")
	if err := ValidateSignature("secret", "https://calls.example.com/webhooks/voice", params, sig); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature for tampered params, got %v", err)
	}
}

func TestComputeSignatureOrderIndependent(t *testing.T) {
	a := url.Values{"b": {"2"}, "a": {"1"}}
	b := url.Values{"a": {"1"}, "b": {"2"}}
	if ComputeSignature("k", "https://x/y", a) != ComputeSignature("k", "https://x/y", b) {
		t.Fatalf("expected signature independent of map order")
	}
}

func serveVoice(t *testing.T, h VoiceWebhookHandler, form url.Values, sig string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/voice", h.HandleVoice)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestVoiceWebhookDialsSessionDestination(t *testing.T) {
	h := VoiceWebhookHandler{
		Sessions: fakeResolver{targets: map[string]OutboundTarget{
			"p1": {SessionID: "s1", Destination: "+447700900123", MaxSeconds: 300},
		}},
		AuthToken:     "secret",
		PublicBaseURL: "https://calls.example.com/",
		CallerID:      "+15550001111",
	}
	form := voiceForm("client:p1", "+447700900123")
	sig := ComputeSignature("secret", "https://calls.example.com/webhooks/voice", form)

	w := serveVoice(t, h, form, sig)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, "<Number>+447700900123</Number>") || !strings.Contains(body, `timeLimit="300"`) {
		t.Fatalf("expected dial twiml, got %s", body)
	}
}

func TestVoiceWebhookRejectsBadSignature(t *testing.T) {
	h := VoiceWebhookHandler{
		Sessions:      fakeResolver{},
		AuthToken:     "secret",
		PublicBaseURL: "https://calls.example.com",
	}
	w := serveVoice(t, h, voiceForm("client:p1", "+447700900123"), "bogus")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestVoiceWebhookRejectsDestinationMismatch(t *testing.T) {
	h := VoiceWebhookHandler{
		Sessions: fakeResolver{targets: map[string]OutboundTarget{
			"p1": {SessionID: "s1", Destination: "+447700900123"},
		}},
	}
	w := serveVoice(t, h, voiceForm("client:p1", "+33123456789"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<Reject") {
		t.Fatalf("expected reject twiml, got %s", w.Body.String())
	}
}

func TestVoiceWebhookRejectsWithoutSession(t *testing.T) {
	h := VoiceWebhookHandler{Sessions: fakeResolver{}}
	w := serveVoice(t, h, voiceForm("client:p1", "+447700900123"), "")
	if !strings.Contains(w.Body.String(), "<Reject") {
		t.Fatalf("expected reject twiml, got %s", w.Body.String())
	}
}
