// Package eventparser implements C2: per-ServiceKind parsers that turn a
// RawEvent's XML body into a TypedEvent variant. Dispatch is an explicit
// switch over model.ServiceKind rather than dynamic downcasting, per
// spec'd discriminated-union strategy.
package eventparser

import (
	"encoding/xml"
	"fmt"

	"github.com/avandenbos/sonos-reactive/internal/apperrors"
	"github.com/avandenbos/sonos-reactive/internal/model"
	"github.com/avandenbos/sonos-reactive/internal/xmlutil"
)

// Parse dispatches a RawEvent to the parser for its ServiceKind and returns
// the resulting TypedEvent. A structurally invalid body returns a
// *apperrors.ParseError; the caller drops the raw event and logs it as a
// lifecycle event rather than killing the subscription.
func Parse(raw model.RawEvent) (model.TypedEvent, error) {
	evt := model.TypedEvent{
		Speaker: raw.Speaker,
		Service: raw.Service,
		Source:  raw.Source,
	}

	switch raw.Service {
	case model.ServiceAVTransport:
		rec, err := parseAVTransport(raw.Body)
		if err != nil {
			return model.TypedEvent{}, &apperrors.ParseError{Service: string(raw.Service), Err: err}
		}
		evt.AVTransport = rec
	case model.ServiceRenderingControl:
		rec, err := parseRenderingControl(raw.Body)
		if err != nil {
			return model.TypedEvent{}, &apperrors.ParseError{Service: string(raw.Service), Err: err}
		}
		evt.RenderingControl = rec
	case model.ServiceGroupRenderingControl:
		rec, err := parseGroupRenderingControl(raw.Body)
		if err != nil {
			return model.TypedEvent{}, &apperrors.ParseError{Service: string(raw.Service), Err: err}
		}
		evt.GroupRenderingControl = rec
	case model.ServiceZoneGroupTopology:
		rec, err := parseZoneGroupTopology(raw.Body)
		if err != nil {
			return model.TypedEvent{}, &apperrors.ParseError{Service: string(raw.Service), Err: err}
		}
		evt.ZoneGroupTopology = rec
	case model.ServiceGroupManagement:
		rec, err := parseGroupManagement(raw.Body)
		if err != nil {
			return model.TypedEvent{}, &apperrors.ParseError{Service: string(raw.Service), Err: err}
		}
		evt.GroupManagement = rec
	case model.ServiceDeviceProperties:
		rec, err := parseDeviceProperties(raw.Body)
		if err != nil {
			return model.TypedEvent{}, &apperrors.ParseError{Service: string(raw.Service), Err: err}
		}
		evt.DeviceProperties = rec
	default:
		return model.TypedEvent{}, &apperrors.ParseError{
			Service: string(raw.Service),
			Err:     fmt.Errorf("unknown service kind"),
		}
	}

	return evt, nil
}

// directProperties unmarshals a "direct-properties" propertyset: multiple
// <property><Name>value</Name></property> children, each one state
// variable as text, into a flat map. Used by GroupRenderingControl,
// GroupManagement, DeviceProperties.
func directProperties(body []byte) (map[string]string, error) {
	var outer struct {
		XMLName xml.Name `xml:"propertyset"`
		Props   []struct {
			Any []struct {
				XMLName xml.Name
				Value   string `xml:",chardata"`
			} `xml:",any"`
		} `xml:"property"`
	}
	if err := xml.Unmarshal(body, &outer); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, p := range outer.Props {
		for _, v := range p.Any {
			out[v.XMLName.Local] = v.Value
		}
	}
	return out, nil
}

// lastChangeXML finds the LastChange property's raw (still double-escaped)
// text content inside the outer propertyset.
func lastChangeXML(body []byte) (string, error) {
	var outer struct {
		XMLName xml.Name `xml:"propertyset"`
		Props   []struct {
			LastChange string `xml:"LastChange"`
		} `xml:"property"`
	}
	if err := xml.Unmarshal(body, &outer); err != nil {
		return "", err
	}
	for _, p := range outer.Props {
		if p.LastChange != "" {
			return xmlutil.UnescapeLastChange(p.LastChange), nil
		}
	}
	return "", fmt.Errorf("no LastChange property present")
}
