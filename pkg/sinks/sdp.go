package sinks

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pion/sdp/v3"
)

// SessionDescription строит SDP описание потока, который отправляет ветка,
// для передачи получателю (например, в виде .sdp файла для плеера).
func (c *StreamConfig) SessionDescription() (*sdp.SessionDescription, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	addrType := "IP4"
	if ip := net.ParseIP(c.Host); ip != nil && ip.To4() == nil {
		addrType = "IP6"
	}

	now := uint64(time.Now().Unix())
	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    addrType,
			UnicastAddress: c.Host,
		},
		SessionName: sdp.SessionName(c.SessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addrType,
			Address:     &sdp.Address{Address: c.Host},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	audioMap := fmt.Sprintf("%d %s/%d", c.AudioPayloadType, c.AudioCodec, c.AudioClockRate)
	if c.AudioChannels > 1 {
		audioMap = fmt.Sprintf("%s/%d", audioMap, c.AudioChannels)
	}

	desc.MediaDescriptions = []*sdp.MediaDescription{
		mediaDescription("audio", c.AudioPort, c.AudioPayloadType, audioMap),
		mediaDescription("video", c.VideoPort, c.VideoPayloadType,
			fmt.Sprintf("%d %s/%d", c.VideoPayloadType, c.VideoCodec, c.VideoClockRate)),
	}
	return desc, nil
}

func mediaDescription(media string, port int, pt uint8, rtpmap string) *sdp.MediaDescription {
	return &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   media,
			Port:    sdp.RangedPort{Value: port},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{strconv.Itoa(int(pt))},
		},
		Attributes: []sdp.Attribute{
			sdp.NewAttribute("rtpmap", rtpmap),
			sdp.NewPropertyAttribute("sendonly"),
		},
	}
}
