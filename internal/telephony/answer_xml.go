package telephony

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// Minimal answer documents for Plivo XML and TwiML. Only the verbs the
// answer callback needs are modelled.

type xmlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type xmlPlay struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type plivoStream struct {
	XMLName       xml.Name `xml:"Stream"`
	Bidirectional bool     `xml:"bidirectional,attr"`
	KeepCallAlive bool     `xml:"keepCallAlive,attr"`
	ContentType   string   `xml:"contentType,attr"`
	URL           string   `xml:",chardata"`
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

// RenderPlivoAnswer plays the greeting, then opens a bidirectional stream.
func RenderPlivoAnswer(req AnswerRequest) (string, error) {
	if strings.TrimSpace(req.StreamURL) == "" {
		return "", ErrStreamURL
	}
	var r xmlResponse
	if req.GreetingURL != "" {
		r.Verbs = append(r.Verbs, xmlPlay{URL: req.GreetingURL})
	}
	r.Verbs = append(r.Verbs, plivoStream{
		Bidirectional: true,
		KeepCallAlive: true,
		ContentType:   "audio/x-mulaw;rate=8000",
		URL:           req.StreamURL,
	})
	return encodeXML(r)
}

// RenderTwiMLAnswer plays the greeting, then connects a media stream.
func RenderTwiMLAnswer(req AnswerRequest) (string, error) {
	if strings.TrimSpace(req.StreamURL) == "" {
		return "", ErrStreamURL
	}
	var r xmlResponse
	if req.GreetingURL != "" {
		r.Verbs = append(r.Verbs, xmlPlay{URL: req.GreetingURL})
	}
	r.Verbs = append(r.Verbs, twimlConnect{Stream: twimlStream{
		URL:        req.StreamURL,
		Parameters: []twimlParameter{{Name: "call_uuid", Value: req.CallUUID}},
	}})
	return encodeXML(r)
}

func encodeXML(r xmlResponse) (string, error) {
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

type xmlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// RenderHangup ends the call immediately. Plivo and Twilio share the verb.
func RenderHangup() (string, error) {
	return encodeXML(xmlResponse{Verbs: []any{xmlHangup{}}})
}
