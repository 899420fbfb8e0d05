package soap

// TransportInfo mirrors a Sonos GetTransportInfo response.
type TransportInfo struct {
	CurrentTransportState  string
	CurrentTransportStatus string
	CurrentSpeed           string
}

// PositionInfo mirrors a Sonos GetPositionInfo response.
type PositionInfo struct {
	Track         int
	TrackDuration string
	TrackMetaData string
	TrackURI      string
	RelTime       string
	AbsTime       string
}

// VolumeInfo mirrors a Sonos GetVolume response.
type VolumeInfo struct {
	CurrentVolume int
}

// MuteInfo mirrors a Sonos GetMute response.
type MuteInfo struct {
	CurrentMute bool
}
