// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package parse

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wacrm/ingestion/internal/models"
)

// applyKind fills the kind-specific snapshot fields from the tagged union
// under data.message. Unknown message types degrade to an opaque text
// entry rather than failing the whole event.
func applyKind(snap *models.Snapshot, messageType string, msg *messageNode) error {
	switch messageType {
	case models.TypeConversation:
		text := msg.Conversation
		if text == "" && msg.ExtendedText != nil {
			text = msg.ExtendedText.Text
		}
		snap.Kind = models.KindText
		snap.Text = text
		snap.TextPreview = PreviewText(text)

	case models.TypeImage:
		if err := applyMedia(snap, models.KindImage, "image", "image/jpeg", msg.Image); err != nil {
			return err
		}
		snap.MediaCaption = msg.Image.Caption
		snap.Text = msg.Image.Caption
		snap.TextPreview = captionPreview("📷 Photo", "📷 ", msg.Image.Caption)

	case models.TypeVideo:
		if err := applyMedia(snap, models.KindVideo, "video", "video/mp4", msg.Video); err != nil {
			return err
		}
		snap.MediaCaption = msg.Video.Caption
		snap.Text = msg.Video.Caption
		snap.TextPreview = captionPreview("🎥 Video", "🎥 ", msg.Video.Caption)

	case models.TypeAudio:
		if err := applyMedia(snap, models.KindAudio, "audio", "audio/ogg", msg.Audio); err != nil {
			return err
		}
		snap.TextPreview = "🎤 Voice note"

	case models.TypeDocument:
		if err := applyMedia(snap, models.KindDocument, "document", "application/octet-stream", msg.Document); err != nil {
			return err
		}
		// Documents carry the file title where other kinds carry a caption.
		snap.MediaCaption = msg.Document.Title
		snap.Text = msg.Document.Title
		snap.TextPreview = captionPreview("[Document]", "", msg.Document.Title)

	case models.TypeSticker:
		if err := applyMedia(snap, models.KindSticker, "sticker", "image/webp", msg.Sticker); err != nil {
			return err
		}
		snap.TextPreview = "[Sticker]"

	case models.TypeReaction:
		r := msg.Reaction
		if r == nil || r.Key == nil {
			return errors.New("reaction payload missing reactionMessage key")
		}
		snap.Kind = models.KindText
		snap.Text = r.Text
		snap.ReactionTargetID = r.Key.ID
		snap.TextPreview = ReactionPreview(r.Text)

	case models.TypeEdited:
		e := msg.Edited
		if e == nil || e.Message == nil || e.Message.ProtocolMessage == nil {
			return errors.New("edit payload missing protocolMessage")
		}
		p := e.Message.ProtocolMessage
		if p.Key != nil && p.Key.ID != "" {
			snap.ExternalID = p.Key.ID
		}
		var text string
		if inner := p.EditedMessage; inner != nil {
			switch {
			case inner.Conversation != "":
				text = inner.Conversation
			case inner.ExtendedText != nil:
				text = inner.ExtendedText.Text
			}
		}
		snap.Kind = models.KindText
		snap.Text = text
		snap.TextPreview = PreviewText("✎ " + text)

	default:
		snap.Kind = models.KindText
		snap.TextPreview = "[Message]"
	}
	return nil
}

// applyMedia fills the shared media fields for one attachment node.
func applyMedia(snap *models.Snapshot, kind models.MessageKind, mediaType, defaultMime string, node *mediaNode) error {
	if node == nil {
		return fmt.Errorf("%s payload missing %sMessage node", mediaType, mediaType)
	}

	snap.Kind = kind
	snap.HasMedia = true
	snap.MediaType = mediaType
	snap.MediaURL = mediaURL(node.URL, node.DirectPath)

	snap.MediaMime = node.Mimetype
	if snap.MediaMime == "" {
		snap.MediaMime = defaultMime
	}

	snap.MediaKey = node.MediaKey
	snap.FileSha256 = node.FileSha256
	snap.FileEncSha256 = node.FileEncSha256
	snap.DirectPath = node.DirectPath
	snap.MediaKeyTimestamp = unixOrZero(node.MediaKeyTimestamp)
	snap.FileLength = unixOrZero(node.FileLength)
	snap.FileName = node.FileName
	snap.PageCount = node.PageCount
	snap.ThumbnailBase64 = node.JpegThumbnail
	return nil
}

// mediaURL prefers the durable direct path over the bridge-signed URL. A
// raw URL already on the stable host is kept as-is.
func mediaURL(rawURL, directPath string) string {
	if directPath != "" && !strings.HasPrefix(rawURL, mediaHost) {
		return mediaHost + directPath
	}
	return rawURL
}

func captionPreview(fallback, prefix, caption string) string {
	if caption == "" {
		return fallback
	}
	return PreviewText(prefix + caption)
}
