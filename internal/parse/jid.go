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

import "strings"

const (
	phoneSuffix  = "@s.whatsapp.net"
	legacySuffix = "@c.us"
	lidSuffix    = "@lid"
)

// Placeholder display names assigned while the customer's real name is
// unknown. The identity resolver replaces them as soon as a real pushName
// arrives, so they must stay distinguishable from customer-supplied names.
const (
	NameAdProspect = "Ad prospect"
	NameLidContact = "LID contact"
	NameLidPending = "LID contact (pending)"
)

// IsPlaceholderName reports whether a display name is one of the generic
// labels the normalizer assigns before the customer's name is known.
func IsPlaceholderName(name string) bool {
	return name == NameAdProspect || name == NameLidContact || name == NameLidPending
}

// SplitIdentity classifies a remote JID into the customer's phone and
// anonymous id. A JID carrying the phone-domain suffix is a phone identity;
// a JID carrying the anonymous-domain suffix is a LID, in which case the
// secondary senderPn field may still recover the real phone. The same human
// can appear under either form across events, so both candidates are
// returned for the identity resolver to collapse.
func SplitIdentity(remoteJid, senderPn, senderLid string) (phone, lid string) {
	switch {
	case strings.Contains(remoteJid, phoneSuffix), strings.Contains(remoteJid, legacySuffix):
		phone = StripJid(remoteJid)
		lid = senderLid
	case strings.Contains(remoteJid, lidSuffix):
		lid = remoteJid
		if strings.Contains(senderPn, phoneSuffix) {
			phone = StripJid(senderPn)
		}
	}
	return phone, lid
}

// StripJid removes the phone-domain suffixes from a JID, leaving the bare
// number.
func StripJid(jid string) string {
	jid = strings.ReplaceAll(jid, phoneSuffix, "")
	return strings.ReplaceAll(jid, legacySuffix, "")
}

// UnknownThreadKey is the thread id for payloads whose customer identity
// could not be derived.
const UnknownThreadKey = "wa:unknown"

// ThreadKey derives the deterministic public thread id: wa:<phone> when the
// phone is known, wa:lid:<id> otherwise.
func ThreadKey(phone, lid string) string {
	if phone != "" {
		return "wa:" + phone
	}
	if lid != "" {
		return "wa:lid:" + strings.TrimSuffix(lid, lidSuffix)
	}
	return UnknownThreadKey
}

// PlatformID rebuilds the canonical platform JID for a known phone.
func PlatformID(phone string) string {
	return phone + phoneSuffix
}

// Digits strips everything but digits from an identifier. Used by the loose
// thread matcher to absorb the bridge's inconsistent id formatting between
// historical and live events.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
