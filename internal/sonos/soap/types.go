package soap

// Service identifies a Sonos UPnP service. Only the two services the
// polling fallback (C6) reads from are named here: this client exists to
// serve read-only GetXxx actions, not general SOAP control.
type Service string

const (
	ServiceAVTransport      Service = "AVTransport"
	ServiceRenderingControl Service = "RenderingControl"
)

var serviceTypes = map[Service]string{
	ServiceAVTransport:      "urn:schemas-upnp-org:service:AVTransport:1",
	ServiceRenderingControl: "urn:schemas-upnp-org:service:RenderingControl:1",
}

var controlPaths = map[Service]string{
	ServiceAVTransport:      "/MediaRenderer/AVTransport/Control",
	ServiceRenderingControl: "/MediaRenderer/RenderingControl/Control",
}
