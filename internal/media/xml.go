package media

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

type xmlFile struct {
	XMLName      xml.Name   `xml:"file"`
	URI          string     `xml:"uri,attr"`
	Duration     int64      `xml:"duration,attr"`
	Seekable     string     `xml:"seekable,attr"`
	Live         string     `xml:"live,attr"`
	PlaysReverse string     `xml:"plays-reverse,attr"`
	SkipParsers  string     `xml:"skip-parsers,attr"`
	Streams      xmlStreams `xml:"streams"`
}

type xmlStreams struct {
	Caps    string      `xml:"caps,attr"`
	Streams []xmlStream `xml:"stream"`
}

type xmlStream struct {
	Type string `xml:"type,attr"`
	Caps string `xml:"caps,attr"`
}

// LoadFile reads a media_info or stream_info document
func LoadFile(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor %s: %w", path, err)
	}

	info, err := ParseInfo(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse descriptor %s: %w", path, err)
	}
	info.InfoPath = path

	return New(*info), nil
}

// ParseInfo decodes descriptor XML
func ParseInfo(data []byte) (*Info, error) {
	var f xmlFile
	if err := xml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.URI == "" {
		return nil, fmt.Errorf("%w: missing uri attribute", ErrNoDescriptor)
	}

	info := &Info{
		URI:          f.URI,
		Caps:         f.Streams.Caps,
		Duration:     f.Duration,
		Seekable:     parseBool(f.Seekable, false),
		Live:         parseBool(f.Live, false),
		PlaysReverse: parseBool(f.PlaysReverse, true),
		SkipParsers:  parseBool(f.SkipParsers, false),
	}
	for _, s := range f.Streams.Streams {
		info.Tracks = append(info.Tracks, models.TrackCaps{Type: models.TrackType(s.Type), Caps: s.Caps})
	}
	return info, nil
}

func parseBool(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return def
}
