package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal voice markup builder. Only the verbs the voice webhook
// answers with are modelled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlDial struct {
	XMLName   xml.Name `xml:"Dial"`
	CallerID  string   `xml:"callerId,attr,omitempty"`
	TimeLimit int64    `xml:"timeLimit,attr,omitempty"`
	Number    string   `xml:"Number"`
}

// DialInstruction is what the voice webhook tells the provider to do with an
// outbound leg requested by a browser device.
type DialInstruction struct {
	Number   string
	CallerID string
	// MaxSeconds caps the leg at the provider; zero means no cap.
	MaxSeconds int64
}

// RenderDial connects the browser leg to a PSTN number.
func RenderDial(d DialInstruction) (string, error) {
	if strings.TrimSpace(d.Number) == "" {
		return "", errors.New("telephony: number required for dial")
	}
	if d.MaxSeconds < 0 {
		return "", errors.New("telephony: negative dial time limit")
	}
	return encodeTwiML(twimlResponse{Verbs: []any{twimlDial{
		CallerID:  d.CallerID,
		TimeLimit: d.MaxSeconds,
		Number:    d.Number,
	}}})
}

// RenderReject refuses the leg without answering.
func RenderReject() (string, error) {
	return encodeTwiML(twimlResponse{Verbs: []any{twimlReject{Reason: "rejected"}}})
}

func encodeTwiML(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
