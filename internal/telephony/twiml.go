package telephony

import (
	"encoding/xml"
	"fmt"
)

// TwiML control directives returned from the answer webhook. The carrier
// parses these to decide what to do with the answered call.

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Pause   *twimlPause   `xml:"Pause,omitempty"`
	Say     string        `xml:"Say,omitempty"`
	Hangup  *struct{}     `xml:"Hangup,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

type twimlPause struct {
	Length int `xml:"length,attr"`
}

// MediaStreamDirective returns the XML directive that tells the carrier to
// open a bidirectional media stream at the per-session media path, followed
// by a long pause so the call stays up while the stream runs.
func MediaStreamDirective(host, sessionID string) string {
	return marshalTwiML(twimlResponse{
		Connect: &twimlConnect{
			Stream: twimlStream{
				URL: fmt.Sprintf("wss://%s/call/media/%s", host, sessionID),
			},
		},
		Pause: &twimlPause{Length: 3600},
	})
}

// ErrorDirective returns the XML directive spoken when the answer webhook
// cannot resolve the session: a short apology, then hang up.
func ErrorDirective() string {
	return marshalTwiML(twimlResponse{
		Say:    "We're sorry, an application error has occurred. Goodbye.",
		Hangup: &struct{}{},
	})
}

func marshalTwiML(r twimlResponse) string {
	out, err := xml.Marshal(r)
	if err != nil {
		// The structures above are static; marshalling cannot fail at runtime.
		panic(fmt.Sprintf("telephony: marshal twiml: %v", err))
	}
	return xml.Header + string(out)
}
