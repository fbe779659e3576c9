package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const (
	SignatureHeader = "X-Twilio-Signature"
	clientPrefix    = "client:"
)

var (
	ErrBadSignature = errors.New("telephony: webhook signature mismatch")
	ErrNotClientLeg = errors.New("telephony: voice request is not from a browser client")
)

// VoiceRequest is the subset of voice webhook fields needed to dial out for a
// browser device.
type VoiceRequest struct {
	CallSid    string
	AccountSid string
	// Identity is the principal the capability token was minted for.
	Identity string
	// To is normalized E.164.
	To string
}

// ParseVoiceRequest reads the form body. From must be "client:<identity>".
func ParseVoiceRequest(r *http.Request) (VoiceRequest, error) {
	if err := r.ParseForm(); err != nil {
		return VoiceRequest{}, err
	}
	from := strings.TrimSpace(r.PostFormValue("From"))
	if !strings.HasPrefix(from, clientPrefix) || len(from) == len(clientPrefix) {
		return VoiceRequest{}, ErrNotClientLeg
	}
	to, err := NormalizeE164(r.PostFormValue("To"))
	if err != nil {
		return VoiceRequest{}, err
	}
	return VoiceRequest{
		CallSid:    r.PostFormValue("CallSid"),
		AccountSid: r.PostFormValue("AccountSid"),
		Identity:   strings.TrimPrefix(from, clientPrefix),
		To:         to,
	}, nil
}

// ComputeSignature signs fullURL followed by every POST parameter name and
// value, names in sorted order, with HMAC-SHA1 and returns it base64 encoded.
func ComputeSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks the provider signature of a parsed form request.
func ValidateSignature(authToken, fullURL string, params url.Values, signature string) error {
	if authToken == "" || signature == "" {
		return ErrBadSignature
	}
	want := ComputeSignature(authToken, fullURL, params)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
