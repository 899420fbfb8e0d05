package xmlutil

import (
	"strings"

	"github.com/beevik/etree"
)

// ZoneGroupMember is one ZoneGroupMember element's attributes, walked out
// of the ZoneGroupState document with etree rather than encoding/xml
// structs: the attribute set varies by firmware (satellites add
// ChannelMapSet, stereo-paired members add HTChannel), so a path-based
// attribute walk tolerates unknown attributes better than a fixed struct.
type ZoneGroupMember struct {
	UUID          string
	ZoneName      string
	Location      string
	SoftwareVer   string
	Invisible     bool
	ChannelMapSet string
	Satellites    []ZoneGroupMember
}

// ZoneGroup is one ZoneGroup element: its id, coordinator UUID, and members.
type ZoneGroup struct {
	ID          string
	Coordinator string
	Members     []ZoneGroupMember
}

// ZoneGroupState is the parsed ZoneGroupState document.
type ZoneGroupState struct {
	Groups   []ZoneGroup
	Vanished []string
}

// ParseZoneGroupState walks the unescaped ZoneGroupState XML document,
// already namespace-stripped by StripNamespaces, into ZoneGroupState.
func ParseZoneGroupState(doc string) (ZoneGroupState, error) {
	d := etree.NewDocument()
	if err := d.ReadFromString(doc); err != nil {
		return ZoneGroupState{}, err
	}

	var out ZoneGroupState
	for _, g := range d.FindElements("//ZoneGroups/ZoneGroup") {
		group := ZoneGroup{
			ID:          g.SelectAttrValue("ID", ""),
			Coordinator: g.SelectAttrValue("Coordinator", ""),
		}
		for _, m := range g.FindElements("ZoneGroupMember") {
			group.Members = append(group.Members, parseMember(m))
		}
		out.Groups = append(out.Groups, group)
	}

	for _, v := range d.FindElements("//VanishedDevices/DeviceID") {
		if uuid := v.SelectAttrValue("UUID", ""); uuid != "" {
			out.Vanished = append(out.Vanished, uuid)
		}
	}
	// Some firmwares emit <Vanished> with a UUID attribute directly instead
	// of a nested DeviceID list.
	for _, v := range d.FindElements("//VanishedDevices/Vanished") {
		if uuid := v.SelectAttrValue("UUID", ""); uuid != "" {
			out.Vanished = append(out.Vanished, uuid)
		}
	}

	return out, nil
}

func parseMember(el *etree.Element) ZoneGroupMember {
	m := ZoneGroupMember{
		UUID:          el.SelectAttrValue("UUID", ""),
		ZoneName:      el.SelectAttrValue("ZoneName", ""),
		Location:      el.SelectAttrValue("Location", ""),
		SoftwareVer:   el.SelectAttrValue("SoftwareVersion", ""),
		Invisible:     el.SelectAttrValue("Invisible", "0") == "1",
		ChannelMapSet: el.SelectAttrValue("ChannelMapSet", ""),
	}
	for _, s := range el.FindElements("Satellite") {
		m.Satellites = append(m.Satellites, parseMember(s))
	}
	return m
}

// ParentFromChannelMapSet extracts the owning coordinator RINCON id from a
// ChannelMapSet attribute like "RINCON_A:LF,LF;RINCON_B:RF,RF", returning
// the first id, which by Sonos convention is the stereo pair's left/primary
// member.
func ParentFromChannelMapSet(channelMapSet string) string {
	first := strings.SplitN(channelMapSet, ";", 2)[0]
	id := strings.SplitN(first, ":", 2)[0]
	return strings.TrimSpace(id)
}
