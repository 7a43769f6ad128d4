package webrtc

import (
	"github.com/pion/webrtc/v4"

	"github.com/dep2p/go-meshchat/pkg/interfaces"
)

// DataChannel 把 pion 数据通道适配为 interfaces.Channel
type DataChannel struct {
	dc *webrtc.DataChannel
}

var _ interfaces.Channel = (*DataChannel)(nil)

// NewDataChannel 包装 pion 数据通道
func NewDataChannel(dc *webrtc.DataChannel) *DataChannel {
	return &DataChannel{dc: dc}
}

// Label 返回通道标签
func (c *DataChannel) Label() string {
	return c.dc.Label()
}

// Send 发送一帧
func (c *DataChannel) Send(data []byte) error {
	if !c.IsOpen() {
		return ErrChannelNotOpen
	}
	return c.dc.Send(data)
}

// IsOpen 通道是否处于 open 状态
func (c *DataChannel) IsOpen() bool {
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Close 关闭通道
func (c *DataChannel) Close() error {
	return c.dc.Close()
}
