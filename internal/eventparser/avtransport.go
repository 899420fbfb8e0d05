package eventparser

import (
	"encoding/xml"
	"regexp"

	"github.com/avandenbos/sonos-reactive/internal/model"
)

type attrVal struct {
	Val string `xml:"val,attr"`
}

type avTransportEvent struct {
	XMLName    xml.Name            `xml:"Event"`
	InstanceID avTransportInstance `xml:"InstanceID"`
}

type avTransportInstance struct {
	TransportState       attrVal `xml:"TransportState"`
	TransportStatus      attrVal `xml:"TransportStatus"`
	CurrentTrackURI      attrVal `xml:"CurrentTrackURI"`
	CurrentTrackMetaData attrVal `xml:"CurrentTrackMetaData"`
	CurrentTrackDuration attrVal `xml:"CurrentTrackDuration"`
	RelativeTimePosition attrVal `xml:"RelativeTimePosition"`
}

func parseAVTransport(body []byte) (*model.AVTransportRecord, error) {
	inner, err := lastChangeXML(body)
	if err != nil {
		return nil, err
	}

	var evt avTransportEvent
	if err := xml.Unmarshal([]byte(inner), &evt); err != nil {
		return nil, err
	}

	rec := &model.AVTransportRecord{
		TransportState:  evt.InstanceID.TransportState.Val,
		TransportStatus: evt.InstanceID.TransportStatus.Val,
		TrackDurationMs: parsePositionMs(evt.InstanceID.CurrentTrackDuration.Val),
		RelTimeMs:       parsePositionMs(evt.InstanceID.RelativeTimePosition.Val),
		Track: model.TrackMetadata{
			TrackURI: evt.InstanceID.CurrentTrackURI.Val,
		},
	}
	if meta, err := parseDIDLLite(evt.InstanceID.CurrentTrackMetaData.Val); err == nil {
		meta.TrackURI = rec.Track.TrackURI
		rec.Track = meta
	}
	return rec, nil
}

// didlLite is the minimal shape of a DIDL-Lite track metadata document
// needed to populate TrackMetadata; only dc:title/upnp:album/upnp:albumArtURI
// and dc:creator are observed across Sonos firmware.
type didlLite struct {
	Item struct {
		Title       string `xml:"title"`
		Creator     string `xml:"creator"`
		Album       string `xml:"album"`
		AlbumArtURI string `xml:"albumArtURI"`
	} `xml:"item"`
}

func parseDIDLLite(raw string) (model.TrackMetadata, error) {
	stripped := stripNamespacesRegex.ReplaceAllString(raw, "<$1$2")
	var d didlLite
	if err := xml.Unmarshal([]byte(stripped), &d); err != nil {
		return model.TrackMetadata{}, err
	}
	return model.TrackMetadata{
		Title:       d.Item.Title,
		Artist:      d.Item.Creator,
		Album:       d.Item.Album,
		AlbumArtURI: d.Item.AlbumArtURI,
	}, nil
}

// ParseDIDLLite exposes parseDIDLLite to callers outside this package
// (the polling fallback in internal/firewall), which encounters the same
// DIDL-Lite track metadata shape inside a GetPositionInfo response.
func ParseDIDLLite(raw string) (model.TrackMetadata, error) { return parseDIDLLite(raw) }

// stripNamespacesRegex strips "prefix:" from element names (opening and
// closing tags) for DIDL-Lite's dc:/upnp: prefixed elements; a lighter-weight
// pass than the full xmlutil.StripNamespaces walk since DIDL-Lite never
// carries namespaced attributes, only namespaced element names.
var stripNamespacesRegex = regexp.MustCompile(`<(/?)(?:\w+:)?(\w+)`)
