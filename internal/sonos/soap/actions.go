package soap

import "context"

// GetTransportInfo reports a speaker's current playback state. Used by the
// firewall-triggered polling fallback (C6) to synthesize an AVTransport
// event when a real GENA subscription can't be maintained.
func (c *Client) GetTransportInfo(ctx context.Context, ip string) (TransportInfo, error) {
	payload, err := c.ExecuteAction(ctx, ip, ServiceAVTransport, "GetTransportInfo", map[string]string{
		"InstanceID": "0",
	})
	if err != nil {
		return TransportInfo{}, err
	}
	return parseTransportInfo(payload), nil
}

// GetPositionInfo reports current track position and metadata, paired with
// GetTransportInfo by the poller into one synthesized AVTransport event.
func (c *Client) GetPositionInfo(ctx context.Context, ip string) (PositionInfo, error) {
	payload, err := c.ExecuteAction(ctx, ip, ServiceAVTransport, "GetPositionInfo", map[string]string{
		"InstanceID": "0",
	})
	if err != nil {
		return PositionInfo{}, err
	}
	return parsePositionInfo(payload), nil
}

// GetVolume reports the master channel's current volume.
func (c *Client) GetVolume(ctx context.Context, ip string) (VolumeInfo, error) {
	payload, err := c.ExecuteAction(ctx, ip, ServiceRenderingControl, "GetVolume", map[string]string{
		"InstanceID": "0",
		"Channel":    "Master",
	})
	if err != nil {
		return VolumeInfo{}, err
	}
	return parseVolume(payload), nil
}

// GetMute reports the master channel's current mute state.
func (c *Client) GetMute(ctx context.Context, ip string) (MuteInfo, error) {
	payload, err := c.ExecuteAction(ctx, ip, ServiceRenderingControl, "GetMute", map[string]string{
		"InstanceID": "0",
		"Channel":    "Master",
	})
	if err != nil {
		return MuteInfo{}, err
	}
	return parseMute(payload), nil
}
