package eventparser

import (
	"encoding/xml"
	"strconv"

	"github.com/avandenbos/sonos-reactive/internal/model"
)

type channelAttrVal struct {
	Channel string `xml:"channel,attr"`
	Val     string `xml:"val,attr"`
}

type renderingControlEvent struct {
	XMLName    xml.Name                 `xml:"Event"`
	InstanceID renderingControlInstance `xml:"InstanceID"`
}

type renderingControlInstance struct {
	Volume []channelAttrVal `xml:"Volume"`
	Mute   []channelAttrVal `xml:"Mute"`
}

// parseRenderingControl decodes the structured path first; per the policy
// decided for the RenderingControl fallback-parser question, it falls back
// to a lenient regex scan only when the structured parse finds no Volume or
// Mute attributes at all (a vendor-specific tag layout), never as the
// default.
func parseRenderingControl(body []byte) (*model.RenderingControlRecord, error) {
	inner, err := lastChangeXML(body)
	if err != nil {
		return nil, err
	}

	var evt renderingControlEvent
	if err := xml.Unmarshal([]byte(inner), &evt); err != nil {
		return nil, err
	}

	rec := extractMasterChannel(evt.InstanceID.Volume, evt.InstanceID.Mute)
	if rec.Volume == nil && rec.Muted == nil {
		return parseRenderingControlLenient(inner), nil
	}
	return rec, nil
}

func extractMasterChannel(volumes, mutes []channelAttrVal) *model.RenderingControlRecord {
	rec := &model.RenderingControlRecord{}
	for _, v := range volumes {
		if v.Channel == "Master" || v.Channel == "" {
			if n, err := strconv.Atoi(v.Val); err == nil {
				rec.Volume = &n
			}
		}
	}
	for _, m := range mutes {
		if m.Channel == "Master" || m.Channel == "" {
			b := m.Val == "1" || m.Val == "true"
			rec.Muted = &b
		}
	}
	return rec
}

func parseGroupRenderingControl(body []byte) (*model.GroupRenderingControlRecord, error) {
	inner, err := lastChangeXML(body)
	if err == nil {
		var evt renderingControlEvent
		if xml.Unmarshal([]byte(inner), &evt) == nil {
			base := extractMasterChannel(evt.InstanceID.Volume, evt.InstanceID.Mute)
			return &model.GroupRenderingControlRecord{Volume: base.Volume, Muted: base.Muted}, nil
		}
	}

	props, err := directProperties(body)
	if err != nil {
		return nil, err
	}
	rec := &model.GroupRenderingControlRecord{}
	if v, ok := props["GroupVolume"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			rec.Volume = &n
		}
	}
	if v, ok := props["GroupMute"]; ok {
		b := parseBool(v)
		rec.Muted = &b
	}
	return rec, nil
}

func parseBool(s string) bool {
	switch s {
	case "1", "true", "True", "TRUE":
		return true
	default:
		return false
	}
}
