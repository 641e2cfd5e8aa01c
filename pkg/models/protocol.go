package models

import (
	"net/url"
	"strings"
)

// Protocol classifies how an asset is transported or contained
type Protocol string

// Protocol constants
const (
	ProtocolFile           Protocol = "file"
	ProtocolHTTP           Protocol = "http"
	ProtocolHLS            Protocol = "hls"
	ProtocolDASH           Protocol = "dash"
	ProtocolRTSP           Protocol = "rtsp"
	ProtocolImageSequence  Protocol = "imagesequence"
	ProtocolLaunchPipeline Protocol = "launch_pipeline"
)

// capsToProtocol maps top-level container caps to the streaming protocol they imply
var capsToProtocol = []struct {
	caps     string
	protocol Protocol
}{
	{"application/x-hls", ProtocolHLS},
	{"application/dash+xml", ProtocolDASH},
}

// ProtocolFromURI returns the protocol implied by the URI scheme,
// falling back to ProtocolLaunchPipeline when none can be found.
func ProtocolFromURI(uri string) Protocol {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return ProtocolLaunchPipeline
	}
	return Protocol(strings.ToLower(u.Scheme))
}

// ProtocolFromCaps returns the protocol implied by container caps, if any
func ProtocolFromCaps(caps string) (Protocol, bool) {
	for _, c := range capsToProtocol {
		if c.caps == caps {
			return c.protocol, true
		}
	}
	return "", false
}

// String implements fmt.Stringer
func (p Protocol) String() string {
	if p == "" {
		return string(ProtocolLaunchPipeline)
	}
	return string(p)
}
