package lobby

import (
	"strings"

	"github.com/sacredlobby/sacredlobby/internal/events"
	"github.com/sacredlobby/sacredlobby/internal/protocol"
)

const whisperPrefix = "/w "

// Chat notices sent back to the author of a whisper.
const (
	whisperUsage    = "Usage: /w <name> <message>"
	whisperNotFound = "Player not found or multiple players found"
)

// systemLine is a chat line without a sender, addressed to dest.
func systemLine(dest uint32, text string) *protocol.ChatMessage {
	return &protocol.ChatMessage{ChatLine: protocol.ChatLine{DestPermID: dest, Text: text}}
}

func (c *Client) onClientChatMessage(m *protocol.ClientChatMessage) protocol.Result {
	c.mu.Lock()
	name, channel := c.name, c.channel
	c.mu.Unlock()

	if strings.HasPrefix(m.Text, whisperPrefix) {
		c.whisper(name, m.Text[len(whisperPrefix):])
		return protocol.ResultOk
	}

	if channel < 0 {
		return protocol.ResultNotInChannel
	}
	c.lobby.BroadcastChatMessage(channel, protocol.ChatLine{
		SenderName:   name,
		SenderPermID: c.id,
		Text:         m.Text,
	})
	c.lobby.emit(events.EventChatMessage, events.ChatPayload{
		FromID:  c.id,
		From:    name,
		Channel: channel,
		Text:    m.Text,
	})
	return protocol.ResultOk
}

// parseWhisper splits "<name> <message>".
func parseWhisper(s string) (target, message string, ok bool) {
	target, message, _ = strings.Cut(strings.TrimSpace(s), " ")
	message = strings.TrimSpace(message)
	if target == "" || message == "" {
		return "", "", false
	}
	return target, message, true
}

func (c *Client) whisper(me, s string) {
	target, message, ok := parseWhisper(s)
	if !ok {
		c.Send(systemLine(c.id, whisperUsage))
		return
	}

	matches := c.lobby.UserByPartialName(target)
	if len(matches) != 1 {
		c.Send(systemLine(c.id, whisperNotFound))
		return
	}
	to := matches[0]
	toName := to.Name()

	to.Send(&protocol.ChatMessage{ChatLine: protocol.ChatLine{
		SenderName:   me + " whispers to you",
		SenderPermID: c.id,
		DestPermID:   to.id,
		Text:         message,
	}})
	c.Send(systemLine(c.id, "You whisper to "+toName+": "+message))

	c.lobby.emit(events.EventChatMessage, events.ChatPayload{
		FromID:  c.id,
		From:    me,
		ToID:    to.id,
		To:      toName,
		Channel: noChannel,
		Text:    message,
	})
}
