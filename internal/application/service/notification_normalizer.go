package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/domain/chatid"
	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
)

// millisThreshold separates unix seconds from unix milliseconds
const millisThreshold = 1_000_000_000_000

// Accepted field aliases, in order of preference
var (
	instanceIDPaths = []string{"instanceId", "instance_id", "instance"}
	messageIDPaths  = []string{"messageId", "message_id", "key.id"}
	chatIDPaths     = []string{"chat.id", "chatId", "chat_id", "key.remoteJid"}
	fromMePaths     = []string{"fromMe", "from_me", "key.fromMe"}
	timestampPaths  = []string{"moment", "timestamp", "messageTimestamp"}
	contentPaths    = []string{"msgContent", "message", "content"}
	senderIDPaths   = []string{"sender.id", "participant", "key.participant"}
	senderNamePaths = []string{"sender.pushName", "sender.name", "pushName"}
)

// NotificationNormalizer turns a raw provider notification into an Envelope
type NotificationNormalizer interface {
	Normalize(raw []byte) (*entity.Envelope, error)
}

type notificationNormalizerImpl struct {
	clock port.Clock
}

// NewNotificationNormalizer creates a new NotificationNormalizer
func NewNotificationNormalizer(clock port.Clock) NotificationNormalizer {
	if clock == nil {
		clock = port.SystemClock{}
	}
	return &notificationNormalizerImpl{clock: clock}
}

// Normalize parses raw, resolving field aliases and normalizing the chat id
func (n *notificationNormalizerImpl) Normalize(raw []byte) (*entity.Envelope, error) {
	receivedAt := n.clock.Now().UTC()

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrMalformedNotification, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: empty payload", entity.ErrMalformedNotification)
	}

	env := &entity.Envelope{
		InstanceID: firstString(payload, instanceIDPaths...),
		MessageID:  firstString(payload, messageIDPaths...),
		RawChatID:  firstString(payload, chatIDPaths...),
		SenderID:   firstString(payload, senderIDPaths...),
		SenderName: firstString(payload, senderNamePaths...),
		Event:      firstString(payload, "event", "type"),
		Content:    firstObject(payload, contentPaths...),
	}

	switch {
	case env.InstanceID == "":
		return nil, fmt.Errorf("%w: missing instance id", entity.ErrMalformedNotification)
	case env.MessageID == "":
		return nil, fmt.Errorf("%w: missing message id", entity.ErrMalformedNotification)
	case env.RawChatID == "":
		return nil, fmt.Errorf("%w: missing chat id", entity.ErrMalformedNotification)
	}

	env.ChatID = chatid.Normalize(env.RawChatID)
	if env.ChatID == "" {
		return nil, fmt.Errorf("%w: unusable chat id %q", entity.ErrMalformedNotification, env.RawChatID)
	}

	flagged, _ := firstBool(payload, "isGroup", "is_group")
	env.IsGroup = flagged || chatid.IsGroup(env.RawChatID)
	env.FromMe, _ = firstBool(payload, fromMePaths...)

	env.Timestamp = receivedAt
	if ts, ok := firstInt(payload, timestampPaths...); ok && ts > 0 {
		if ts >= millisThreshold {
			env.Timestamp = time.UnixMilli(ts).UTC()
		} else {
			env.Timestamp = time.Unix(ts, 0).UTC()
		}
	}

	return env, nil
}
