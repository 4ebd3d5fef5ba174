package protocol

import (
	jsoniter "github.com/json-iterator/go"
)

// json is a drop-in replacement for encoding/json with better performance
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NewChannelMeta is the optional destination metadata a NEW frame may carry
// in its payload. The relay does not send it today; when present it is
// decoded for logging only, the client always dials its configured local
// service.
type NewChannelMeta struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ParseNewChannelMeta decodes the payload of a NEW frame. It returns false
// for an empty payload or one that is not a metadata document.
func ParseNewChannelMeta(payload []byte) (NewChannelMeta, bool) {
	if len(payload) == 0 {
		return NewChannelMeta{}, false
	}
	var meta NewChannelMeta
	if err := json.Unmarshal(payload, &meta); err != nil {
		return NewChannelMeta{}, false
	}
	if meta.Host == "" && meta.Port == 0 {
		return NewChannelMeta{}, false
	}
	return meta, true
}
