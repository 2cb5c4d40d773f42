package entity

import "time"

// AttachmentKind is the category of a media attachment
type AttachmentKind string

const (
	KindImage    AttachmentKind = "image"
	KindVideo    AttachmentKind = "video"
	KindAudio    AttachmentKind = "audio"
	KindDocument AttachmentKind = "document"
	KindSticker  AttachmentKind = "sticker"
)

// AllKinds lists every supported attachment kind
var AllKinds = []AttachmentKind{KindImage, KindVideo, KindAudio, KindDocument, KindSticker}

// ParseKind converts a string to an AttachmentKind
func ParseKind(s string) (AttachmentKind, bool) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// AttachmentDescriptor holds everything needed to retrieve one attachment.
// It is created once per notification and never mutated.
type AttachmentDescriptor struct {
	SourceMessageID string         `json:"source_message_id"`
	TenantID        string         `json:"tenant_id"`
	InstanceID      string         `json:"instance_id"`
	ChatID          string         `json:"chat_id"`
	Kind            AttachmentKind `json:"kind"`
	Mimetype        string         `json:"mimetype"`
	DeclaredLength  int64          `json:"declared_length,omitempty"`
	MediaKey        string         `json:"media_key"`
	DirectPath      string         `json:"direct_path"`
	FileSHA256      string         `json:"file_sha256,omitempty"`
	FileEncSHA256   string         `json:"file_enc_sha256,omitempty"`
	Duration        int            `json:"duration,omitempty"`
	Width           int            `json:"width,omitempty"`
	Height          int            `json:"height,omitempty"`
	Caption         string         `json:"caption,omitempty"`
	FileName        string         `json:"file_name,omitempty"`
	CapturedAt      time.Time      `json:"captured_at"`
}

// IdempotencyKey identifies the download slot for this descriptor
func (d *AttachmentDescriptor) IdempotencyKey() string {
	return d.InstanceID + "/" + d.SourceMessageID
}

// StoredFile describes an attachment persisted in the storage layout
type StoredFile struct {
	AbsPath    string         `json:"abs_path"`
	RelPath    string         `json:"rel_path"`
	TenantID   string         `json:"tenant_id"`
	InstanceID string         `json:"instance_id"`
	ChatID     string         `json:"chat_id"`
	Kind       AttachmentKind `json:"kind"`
	FileName   string         `json:"file_name"`
	Size       int64          `json:"size"`
}
