package carrier

import (
	"bytes"
	"html/template"
)

// xmlDeclaration is written outside the template: html/template would
// escape the leading "<?" of an XML declaration in template text.
const xmlDeclaration = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

var streamTemplate = template.Must(template.New("twiml").Parse(`<Response>
    <Connect>
        <Stream url="{{.StreamURL}}">
            {{range $key, $value := .Parameters}}
            <Parameter name="{{$key}}" value="{{$value}}" />
            {{end}}
        </Stream>
    </Connect>
</Response>`))

// BuildStreamTwiML renders the TwiML that tells Twilio to open a Media
// Streams WebSocket back to streamURL, passing parameters (at minimum the
// tenant id) through as <Parameter> elements that arrive in Start.CustomParameters.
func BuildStreamTwiML(streamURL string, parameters map[string]string) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xmlDeclaration)
	// template.URL keeps html/template from replacing the wss:// URL with
	// "#ZgotmplZ"; its URL filter only passes http, https and mailto.
	data := struct {
		StreamURL  template.URL
		Parameters map[string]string
	}{StreamURL: template.URL(streamURL), Parameters: parameters}
	if err := streamTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
