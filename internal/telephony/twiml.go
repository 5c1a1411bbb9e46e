package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"sort"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives we need at the adapter boundary.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName xml.Name  `xml:"Dial"`
	Number  string    `xml:"Number,omitempty"`
	Sip     *twimlSip `xml:"Sip,omitempty"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// RenderDial returns TwiML that bridges the call to a number or SIP URI (live transfer).
func RenderDial(destination string) (string, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return "", errors.New("telephony: dial destination required")
	}
	d := twimlDial{}
	// sip:... goes through <Sip>; anything else is a PSTN number.
	if strings.HasPrefix(strings.ToLower(destination), "sip:") {
		d.Sip = &twimlSip{URI: destination}
	} else {
		d.Number = destination
	}
	return render(twimlResponse{Verbs: []any{d}})
}

// RenderConnectStream returns TwiML that connects the answered call's media to the
// conversation agent's websocket. Parameters are sent in name order.
func RenderConnectStream(streamURL string, params map[string]string) (string, error) {
	if !strings.HasPrefix(streamURL, "wss://") && !strings.HasPrefix(streamURL, "ws://") {
		return "", errors.New("telephony: stream url must be a websocket url")
	}
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	s := twimlStream{URL: streamURL}
	for _, k := range names {
		s.Parameters = append(s.Parameters, twimlParameter{Name: k, Value: params[k]})
	}
	return render(twimlResponse{Verbs: []any{twimlConnect{Stream: s}}})
}

// RenderHangup returns TwiML that ends the call.
func RenderHangup() (string, error) {
	return render(twimlResponse{Verbs: []any{twimlHangup{}}})
}

func render(r twimlResponse) (string, error) {
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
