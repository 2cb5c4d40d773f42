package service

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
)

// attachmentKey maps a content block key to its attachment kind.
// nested is set for wrappers that carry the media under message.<inner>.
type attachmentKey struct {
	key    string
	kind   entity.AttachmentKind
	nested string
}

// attachmentKeys are probed in order; the first present key wins
var attachmentKeys = []attachmentKey{
	{key: "imageMessage", kind: entity.KindImage},
	{key: "videoMessage", kind: entity.KindVideo},
	{key: "audioMessage", kind: entity.KindAudio},
	{key: "documentMessage", kind: entity.KindDocument},
	{key: "documentWithCaptionMessage", kind: entity.KindDocument, nested: "message.documentMessage"},
	{key: "stickerMessage", kind: entity.KindSticker},
}

// DescriptorExtractor finds the single attachment a notification may carry
type DescriptorExtractor interface {
	// Extract returns (nil, nil) when the notification has no attachment
	Extract(env *entity.Envelope, cred *entity.TenantCredential) (*entity.AttachmentDescriptor, error)
}

type descriptorExtractorImpl struct{}

// NewDescriptorExtractor creates a new DescriptorExtractor
func NewDescriptorExtractor() DescriptorExtractor {
	return &descriptorExtractorImpl{}
}

// Extract builds an AttachmentDescriptor from the envelope content block
func (e *descriptorExtractorImpl) Extract(env *entity.Envelope, cred *entity.TenantCredential) (*entity.AttachmentDescriptor, error) {
	if env == nil || len(env.Content) == 0 {
		return nil, nil
	}

	var (
		match   attachmentKey
		block   map[string]interface{}
		wrapper map[string]interface{}
	)
	for _, k := range attachmentKeys {
		raw, ok := env.Content[k.key]
		if !ok || raw == nil {
			continue
		}
		obj, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: %s is not an object", entity.ErrIncompleteDescriptor, k.key)
		}
		if k.nested != "" {
			inner := firstObject(obj, k.nested)
			if inner == nil {
				return nil, fmt.Errorf("%w: %s has no %s", entity.ErrIncompleteDescriptor, k.key, k.nested)
			}
			wrapper, obj = obj, inner
		}
		match, block = k, obj
		break
	}
	if block == nil {
		return nil, nil
	}

	desc := &entity.AttachmentDescriptor{
		SourceMessageID: env.MessageID,
		InstanceID:      env.InstanceID,
		ChatID:          env.ChatID,
		Kind:            match.kind,
		Mimetype:        firstString(block, "mimetype", "mimeType"),
		MediaKey:        bytesField(block, "mediaKey"),
		DirectPath:      firstString(block, "directPath"),
		FileSHA256:      bytesField(block, "fileSha256"),
		FileEncSHA256:   bytesField(block, "fileEncSha256"),
		Caption:         firstString(block, "caption"),
		FileName:        firstString(block, "fileName", "title"),
		CapturedAt:      env.Timestamp,
	}
	if cred != nil {
		desc.TenantID = cred.TenantID
	}
	if desc.Caption == "" && wrapper != nil {
		desc.Caption = firstString(wrapper, "caption")
	}

	var missing []string
	if desc.MediaKey == "" {
		missing = append(missing, "mediaKey")
	}
	if desc.DirectPath == "" {
		missing = append(missing, "directPath")
	}
	if desc.Mimetype == "" {
		missing = append(missing, "mimetype")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s missing %s", entity.ErrIncompleteDescriptor, match.key, strings.Join(missing, ", "))
	}

	if n, ok := firstInt(block, "fileLength"); ok && n > 0 {
		desc.DeclaredLength = n
	}
	if n, ok := firstInt(block, "seconds"); ok {
		desc.Duration = int(n)
	}
	if n, ok := firstInt(block, "width"); ok {
		desc.Width = int(n)
	}
	if n, ok := firstInt(block, "height"); ok {
		desc.Height = int(n)
	}

	return desc, nil
}

// bytesField reads a binary field that may arrive as a base64 string or
// as a serialized byte array ({"0": 12, "1": 200, ...} or [12, 200, ...])
func bytesField(m map[string]interface{}, key string) string {
	if s := firstString(m, key); s != "" {
		return s
	}

	v, ok := m[key]
	if !ok {
		return ""
	}

	var raw []byte
	switch t := v.(type) {
	case []interface{}:
		for _, item := range t {
			n, ok := toInt(item)
			if !ok || n < 0 || n > 255 {
				return ""
			}
			raw = append(raw, byte(n))
		}
	case map[string]interface{}:
		raw = make([]byte, len(t))
		for i := range raw {
			n, ok := toInt(t[fmt.Sprint(i)])
			if !ok || n < 0 || n > 255 {
				return ""
			}
			raw[i] = byte(n)
		}
	default:
		return ""
	}
	if len(raw) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}
