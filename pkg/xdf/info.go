// SPDX-License-Identifier: GPL-2.0-or-later

package xdf

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"srec/pkg/stream"
)

// Info is the content of a StreamHeader chunk.
type Info struct {
	Name         string
	Type         string
	ChannelCount int
	SampleRate   float64
	Format       stream.ValueType
	SourceID     string // Discovery identity, not the writer-assigned id.
	Desc         []stream.MetaNode
}

// InfoFromSource builds a header description from a source descriptor.
func InfoFromSource(src stream.Source) Info {
	return Info{
		Name:         src.Name,
		Type:         src.Type,
		ChannelCount: src.ChannelCount,
		SampleRate:   src.SampleRate,
		Format:       src.Format,
		SourceID:     src.UID,
		Desc:         src.Metadata,
	}
}

// Footer is the content of a StreamFooter chunk.
type Footer struct {
	Info

	FirstTimestamp float64
	LastTimestamp  float64
	SampleCount    uint64
}

// Marshal encodes the header description as UTF-8 XML.
func (i Info) Marshal() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("<info>")
	writeElement(buf, "name", i.Name)
	writeElement(buf, "type", i.Type)
	writeElement(buf, "channel_count", strconv.Itoa(i.ChannelCount))
	writeElement(buf, "nominal_srate", formatRate(i.SampleRate))
	writeElement(buf, "channel_format", i.Format.String())
	writeElement(buf, "source_id", i.SourceID)
	writeDesc(buf, i.Desc)
	buf.WriteString("</info>")
	return buf.Bytes()
}

// Marshal encodes the footer description as UTF-8 XML.
func (f Footer) Marshal() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("<info>")
	writeElement(buf, "name", f.Name)
	writeElement(buf, "type", f.Type)
	writeElement(buf, "channel_count", strconv.Itoa(f.ChannelCount))
	writeElement(buf, "nominal_srate", formatRate(f.SampleRate))
	writeElement(buf, "channel_format", f.Format.String())
	writeElement(buf, "source_id", f.SourceID)
	writeElement(buf, "first_timestamp", formatRate(f.FirstTimestamp))
	writeElement(buf, "last_timestamp", formatRate(f.LastTimestamp))
	writeElement(buf, "sample_count", strconv.FormatUint(f.SampleCount, 10))
	writeDesc(buf, f.Desc)
	buf.WriteString("</info>")
	return buf.Bytes()
}

func formatRate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeElement(buf *bytes.Buffer, name, value string) {
	buf.WriteString("<" + name + ">")
	xml.EscapeText(buf, []byte(value)) //nolint:errcheck
	buf.WriteString("</" + name + ">")
}

func writeDesc(buf *bytes.Buffer, nodes []stream.MetaNode) {
	buf.WriteString("<desc>")
	writeNodes(buf, nodes)
	buf.WriteString("</desc>")
}

func writeNodes(buf *bytes.Buffer, nodes []stream.MetaNode) {
	for _, node := range nodes {
		name := sanitizeName(node.Name)
		buf.WriteString("<" + name + ">")
		if node.Value != "" {
			xml.EscapeText(buf, []byte(node.Value)) //nolint:errcheck
		}
		writeNodes(buf, node.Children)
		buf.WriteString("</" + name + ">")
	}
}

// sanitizeName makes a metadata node name usable as an XML element
// name, so a hostile name cannot render the payload unparseable.
// Invalid runes become underscores.
func sanitizeName(name string) string {
	if name == "" {
		return "_"
	}
	var b strings.Builder
	for i, r := range name {
		if validNameRune(r, i == 0) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func validNameRune(r rune, first bool) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		return true
	case !first && (r >= '0' && r <= '9' || r == '-' || r == '.'):
		return true
	}
	return false
}

// ErrMalformedInfo info payload is not a well-formed description.
var ErrMalformedInfo = errors.New("malformed stream description")

// ParseInfo decodes a StreamHeader or StreamFooter XML payload.
func ParseInfo(payload []byte) (Info, error) {
	root, err := parseTree(payload)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrMalformedInfo, err)
	}
	if root.Name != "info" {
		return Info{}, fmt.Errorf("%w: root element is %q", ErrMalformedInfo, root.Name)
	}

	var info Info
	for _, child := range root.Children {
		switch child.Name {
		case "name":
			info.Name = child.Value
		case "type":
			info.Type = child.Value
		case "channel_count":
			info.ChannelCount, err = strconv.Atoi(child.Value)
			if err != nil {
				return Info{}, fmt.Errorf("%w: channel count: %v", ErrMalformedInfo, err)
			}
		case "nominal_srate":
			info.SampleRate, err = strconv.ParseFloat(child.Value, 64)
			if err != nil {
				return Info{}, fmt.Errorf("%w: nominal rate: %v", ErrMalformedInfo, err)
			}
		case "channel_format":
			info.Format = stream.ParseValueType(child.Value)
		case "source_id":
			info.SourceID = child.Value
		case "desc":
			info.Desc = child.Children
		}
	}
	return info, nil
}

// ParseFooter decodes a StreamFooter XML payload.
func ParseFooter(payload []byte) (Footer, error) {
	info, err := ParseInfo(payload)
	if err != nil {
		return Footer{}, err
	}
	footer := Footer{Info: info}

	root, err := parseTree(payload)
	if err != nil {
		return Footer{}, fmt.Errorf("%w: %v", ErrMalformedInfo, err)
	}
	for _, child := range root.Children {
		switch child.Name {
		case "first_timestamp":
			footer.FirstTimestamp, err = strconv.ParseFloat(child.Value, 64)
		case "last_timestamp":
			footer.LastTimestamp, err = strconv.ParseFloat(child.Value, 64)
		case "sample_count":
			footer.SampleCount, err = strconv.ParseUint(child.Value, 10, 64)
		}
		if err != nil {
			return Footer{}, fmt.Errorf("%w: %v: %v", ErrMalformedInfo, child.Name, err)
		}
	}
	return footer, nil
}

// parseTree decodes XML into a generic metadata tree.
func parseTree(payload []byte) (stream.MetaNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(payload))

	var stack []*stream.MetaNode
	var root *stream.MetaNode
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stream.MetaNode{}, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			node := &stream.MetaNode{Name: t.Name.Local}
			stack = append(stack, node)
		case xml.CharData:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.Value += strings.TrimSpace(string(t))
			}
		case xml.EndElement:
			if len(stack) == 0 {
				return stream.MetaNode{}, errors.New("unbalanced end element")
			}
			node := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, *node)
			}
		}
	}
	if root == nil {
		return stream.MetaNode{}, errors.New("empty document")
	}
	return *root, nil
}
