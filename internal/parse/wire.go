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

import "encoding/json"

// envelope is the outer webhook body. Some bridge builds nest the event
// under "data", others flatten it into the root; data is kept raw so the
// caller can fall back to the root element.
type envelope struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Sender   string          `json:"sender"`
	Source   string          `json:"source"`
	PushName string          `json:"pushName"`
	Data     json.RawMessage `json:"data"`
}

// dataNode is the message-bearing element of an event.
type dataNode struct {
	Key              *keyNode        `json:"key"`
	PushName         string          `json:"pushName"`
	Message          *messageNode    `json:"message"`
	MessageType      string          `json:"messageType"`
	Type             string          `json:"type"`
	MessageTimestamp json.RawMessage `json:"messageTimestamp"`
	ContextInfo      *contextNode    `json:"contextInfo"`
	Source           string          `json:"source"`
}

// keyNode carries the upstream identity and dedup keys.
type keyNode struct {
	RemoteJid string `json:"remoteJid"`
	ID        string `json:"id"`
	FromMe    bool   `json:"fromMe"`
	SenderPn  string `json:"senderPn"`
	SenderLid string `json:"senderLid"`
}

// contextNode holds quoted-message linkage and ad-origin flags.
type contextNode struct {
	StanzaID                      string          `json:"stanzaId"`
	QuotedMessage                 *quotedNode     `json:"quotedMessage"`
	AutomatedGreetingMessageShown *bool           `json:"automatedGreetingMessageShown"`
	ExternalAdReply               json.RawMessage `json:"externalAdReply"`
}

type quotedNode struct {
	Conversation string            `json:"conversation"`
	ExtendedText *extendedTextNode `json:"extendedTextMessage"`
	Image        json.RawMessage   `json:"imageMessage"`
}

type extendedTextNode struct {
	Text string `json:"text"`
}

// messageNode is the tagged union of per-kind payloads. Exactly one of the
// kind members is expected to be present for a given messageType.
type messageNode struct {
	Conversation string            `json:"conversation"`
	ExtendedText *extendedTextNode `json:"extendedTextMessage"`
	Image        *mediaNode        `json:"imageMessage"`
	Video        *mediaNode        `json:"videoMessage"`
	Audio        *mediaNode        `json:"audioMessage"`
	Document     *mediaNode        `json:"documentMessage"`
	Sticker      *mediaNode        `json:"stickerMessage"`
	Reaction     *reactionNode     `json:"reactionMessage"`
	Edited       *editedNode       `json:"editedMessage"`
}

// mediaNode covers every media kind; numeric fields that the bridge sends
// either as JSON numbers or numeric strings stay raw until converted.
type mediaNode struct {
	URL               string          `json:"url"`
	DirectPath        string          `json:"directPath"`
	Mimetype          string          `json:"mimetype"`
	Caption           string          `json:"caption"`
	Title             string          `json:"title"`
	MediaKey          string          `json:"mediaKey"`
	FileSha256        string          `json:"fileSha256"`
	FileEncSha256     string          `json:"fileEncSha256"`
	MediaKeyTimestamp json.RawMessage `json:"mediaKeyTimestamp"`
	FileLength        json.RawMessage `json:"fileLength"`
	FileName          string          `json:"fileName"`
	PageCount         int             `json:"pageCount"`
	JpegThumbnail     string          `json:"jpegThumbnail"`
}

// reactionNode references the original message being reacted to; its key
// doubles as the event key when the outer data.key is absent.
type reactionNode struct {
	Key  *keyNode `json:"key"`
	Text string   `json:"text"`
}

// editedNode wraps the protocol message that carries the original message
// id and the replacement text.
type editedNode struct {
	Message *struct {
		ProtocolMessage *protocolNode `json:"protocolMessage"`
	} `json:"message"`
}

type protocolNode struct {
	Key           *keyNode     `json:"key"`
	EditedMessage *messageNode `json:"editedMessage"`
}
