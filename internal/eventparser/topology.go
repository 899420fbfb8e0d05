package eventparser

import (
	"github.com/avandenbos/sonos-reactive/internal/model"
	"github.com/avandenbos/sonos-reactive/internal/xmlutil"
)

// parseZoneGroupTopology extracts the ZoneGroupState property (itself a
// doubly-escaped XML document, not a LastChange-wrapped InstanceID) and
// walks it with xmlutil's etree-based topology parser.
func parseZoneGroupTopology(body []byte) (*model.ZoneGroupTopologyRecord, error) {
	props, err := directProperties(body)
	if err != nil {
		return nil, err
	}

	// ZoneGroupState text content is XML-escaped the same way LastChange is.
	rawState, ok := props["ZoneGroupState"]
	if !ok {
		return &model.ZoneGroupTopologyRecord{}, nil
	}
	unescaped := xmlutil.UnescapeLastChange(rawState)
	stripped := xmlutil.StripNamespaces(unescaped)

	state, err := xmlutil.ParseZoneGroupState(stripped)
	if err != nil {
		return nil, err
	}

	rec := &model.ZoneGroupTopologyRecord{}
	for _, uuid := range state.Vanished {
		rec.Vanished = append(rec.Vanished, model.SpeakerId(uuid))
	}

	for _, g := range state.Groups {
		group := model.GroupInfo{
			ID:          model.GroupId(g.ID),
			Coordinator: model.SpeakerId(g.Coordinator),
		}
		for _, m := range g.Members {
			// Satellites are structural subordinates of their parent member;
			// they never appear directly in a group's member list.
			group.Members = append(group.Members, model.SpeakerId(m.UUID))
			rec.Speakers = append(rec.Speakers, speakerInfoFromMember(m))
		}
		rec.Groups = append(rec.Groups, group)
	}

	return rec, nil
}

func speakerInfoFromMember(m xmlutil.ZoneGroupMember) model.SpeakerInfo {
	info := model.SpeakerInfo{
		ID:      model.SpeakerId(m.UUID),
		Name:    m.ZoneName,
		IP:      ipFromLocation(m.Location),
		Version: m.SoftwareVer,
	}
	for _, s := range m.Satellites {
		info.Satellites = append(info.Satellites, model.SpeakerId(s.UUID))
	}
	return info
}

// ipFromLocation pulls the device IP out of a UPnP Location URL, e.g.
// "http://192.168.1.40:1400/xml/device_description.xml" -> "192.168.1.40".
func ipFromLocation(location string) string {
	const prefix = "http://"
	rest := location
	if len(rest) >= len(prefix) && rest[:len(prefix)] == prefix {
		rest = rest[len(prefix):]
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' || rest[i] == '/' {
			return rest[:i]
		}
	}
	return rest
}
