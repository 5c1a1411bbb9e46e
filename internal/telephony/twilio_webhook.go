package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TwilioStatusForm captures the subset of status callback fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
//
// Keep it minimal and provider-adapter-only.
type TwilioStatusForm struct {
	CallSid        string
	AccountSid     string
	From           string
	To             string
	Direction      string
	CallStatus     string
	CallDuration   string
	Timestamp      string
	SequenceNumber string
	AnsweredBy     string
}

func ParseTwilioStatusCallback(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	return TwilioStatusForm{
		CallSid:        r.PostFormValue("CallSid"),
		AccountSid:     r.PostFormValue("AccountSid"),
		From:           strings.TrimSpace(r.PostFormValue("From")),
		To:             strings.TrimSpace(r.PostFormValue("To")),
		Direction:      r.PostFormValue("Direction"),
		CallStatus:     r.PostFormValue("CallStatus"),
		CallDuration:   r.PostFormValue("CallDuration"),
		Timestamp:      r.PostFormValue("Timestamp"),
		SequenceNumber: r.PostFormValue("SequenceNumber"),
		AnsweredBy:     r.PostFormValue("AnsweredBy"),
	}, nil
}

// ToStatusEvent converts the callback. Twilio's RFC1123Z Timestamp wins over now when parseable.
func (f TwilioStatusForm) ToStatusEvent(callID string, now time.Time) StatusEvent {
	occurred := now
	if ts, err := time.Parse(time.RFC1123Z, f.Timestamp); err == nil {
		occurred = ts.UTC()
	}
	dur, _ := strconv.Atoi(f.CallDuration)
	return StatusEvent{
		CallID:          callID,
		ProviderCallID:  f.CallSid,
		Status:          f.CallStatus,
		DurationSeconds: dur,
		OccurredAt:      occurred,
	}
}

// TwilioSignature computes X-Twilio-Signature for a POST to fullURL with params:
// base64(HMAC-SHA1(authToken, fullURL + concat(sorted key+value))).
func TwilioSignature(authToken, fullURL string, params url.Values) string {
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

// ValidTwilioSignature checks a callback signature in constant time.
func ValidTwilioSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	want := TwilioSignature(authToken, fullURL, params)
	return hmac.Equal([]byte(want), []byte(signature))
}
