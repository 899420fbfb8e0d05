package eventparser

import "github.com/avandenbos/sonos-reactive/internal/model"

func parseGroupManagement(body []byte) (*model.GroupManagementRecord, error) {
	props, err := directProperties(body)
	if err != nil {
		return nil, err
	}
	rec := &model.GroupManagementRecord{
		LocalGroupUUID: props["LocalGroupUUID"],
	}
	if v, ok := props["GroupCoordinatorIsLocal"]; ok {
		b := parseBool(v)
		rec.IsCoordinator = &b
	}
	return rec, nil
}

func parseDeviceProperties(body []byte) (*model.DevicePropertiesRecord, error) {
	props, err := directProperties(body)
	if err != nil {
		return nil, err
	}
	return &model.DevicePropertiesRecord{
		ZoneName: props["ZoneName"],
		Icon:     props["Icon"],
	}, nil
}
