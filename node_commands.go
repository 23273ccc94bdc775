package retoro

import (
	"context"
	"fmt"
)

// handleCommand 处理一条命令，返回 false 表示停止运行时
func (n *Node) handleCommand(ctx context.Context, cmd Command) bool {
	kind := "unknown"
	if cmd != nil {
		kind = cmd.Kind()
	}
	n.reporter.CommandProcessed(kind)
	log.Debug("处理命令", "kind", kind)

	switch c := cmd.(type) {
	case SendMessage:
		n.sendMessage(ctx, c)
	case Ping, JoinChannel, LeaveChannel, AddFriend, RemoveFriend:
		n.emitError(fmt.Errorf("%w: command %s", ErrUnsupported, kind))
	case Shutdown:
		log.Info("收到停止命令")
		return false
	default:
		n.emitError(fmt.Errorf("%w: command %T", ErrUnsupported, cmd))
	}
	return true
}

func (n *Node) sendMessage(ctx context.Context, c SendMessage) {
	switch t := c.Target.(type) {
	case ChannelTarget:
		n.publish(ctx, t.Name, c.Content)
	case DirectTarget:
		n.emitError(fmt.Errorf("%w: direct message to %s", ErrUnsupported, t.Peer.ShortString()))
	default:
		n.emitError(fmt.Errorf("%w: message target %T", ErrUnsupported, c.Target))
	}
}

// publish 构造、编码并发布消息；成功后记入频道窗口
func (n *Node) publish(ctx context.Context, channel, content string) {
	msg := NewMessage(n.cfg.Name, n.ID().Bytes(), content, n.clk)
	data, err := EncodeMessage(msg)
	if err != nil {
		n.emitError(fmt.Errorf("%w: encode: %w", ErrSwarm, err))
		return
	}
	if err := n.caps.PubSub.Publish(ctx, channel, data); err != nil {
		n.emitError(fmt.Errorf("%w: publish to %q: %w", ErrSwarm, channel, err))
		return
	}
	log.Debug("消息已发布", "channel", channel, "id", msg.ID)

	if ch, ok := n.channels[channel]; ok {
		ch.append(msg)
		n.publishChannels()
	}
}
