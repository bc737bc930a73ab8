// Package meshproto hand-decodes the small slice of the Meshtastic
// ToRadio/FromRadio/MeshPacket/Data protobuf schema this proxy actually
// needs, using the protobuf wire-format primitives directly rather than
// depending on (or vendoring) the full generated Meshtastic schema.
package meshproto

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// PortNum values relevant to this proxy (Meshtastic defines many more).
const (
	PortNumUnknown = 0
	PortNumText    = 1
	PortNumAdmin   = 6
)

// BroadcastNum is the Meshtastic broadcast node address.
const BroadcastNum uint32 = 0xFFFFFFFF

// DefaultHopLimit matches the Meshtastic firmware default.
const DefaultHopLimit = 3

var errParse = errors.New("meshproto: malformed protobuf field")

// Data is the application payload carried inside a MeshPacket.
type Data struct {
	PortNum      uint32
	Payload      []byte
	WantResponse bool
	Dest         uint32
	Source       uint32
	RequestID    uint32
}

// MeshPacket is a single mesh packet, decoded or still encrypted.
type MeshPacket struct {
	From      uint32
	To        uint32
	Channel   uint32
	Decoded   *Data
	Encrypted []byte
	ID        uint32
	HopLimit  uint32
	WantAck   bool
}

// ToRadio is sent from a client toward the radio.
type ToRadio struct {
	Packet          *MeshPacket
	WantConfigID    uint32
	HasWantConfigID bool
}

// FromRadio is sent from the radio toward clients.
type FromRadio struct {
	ID                  uint32
	Packet              *MeshPacket
	ConfigCompleteID    uint32
	HasConfigCompleteID bool
}

// EncodeData serializes a Data message.
func EncodeData(d Data) []byte {
	var b []byte
	if d.PortNum != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d.PortNum))
	}
	if len(d.Payload) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Payload)
	}
	if d.WantResponse {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if d.Dest != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d.Dest))
	}
	if d.Source != 0 {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d.Source))
	}
	if d.RequestID != 0 {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d.RequestID))
	}
	return b
}

// DecodeData parses a Data message, skipping unrecognized fields.
func DecodeData(raw []byte) (Data, error) {
	var d Data
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return d, errParse
		}
		raw = raw[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return d, errParse
			}
			d.PortNum = uint32(v)
			raw = raw[n:]
		case 2:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return d, errParse
			}
			d.Payload = append([]byte(nil), v...)
			raw = raw[n:]
		case 3:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return d, errParse
			}
			d.WantResponse = v != 0
			raw = raw[n:]
		case 4:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return d, errParse
			}
			d.Dest = uint32(v)
			raw = raw[n:]
		case 5:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return d, errParse
			}
			d.Source = uint32(v)
			raw = raw[n:]
		case 6:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return d, errParse
			}
			d.RequestID = uint32(v)
			raw = raw[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return d, errParse
			}
			raw = raw[n:]
		}
	}
	return d, nil
}

// EncodeMeshPacket serializes a MeshPacket.
func EncodeMeshPacket(p MeshPacket) []byte {
	var b []byte
	if p.From != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.From))
	}
	if p.To != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.To))
	}
	if p.Channel != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Channel))
	}
	if p.Decoded != nil {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, EncodeData(*p.Decoded))
	} else if len(p.Encrypted) > 0 {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Encrypted)
	}
	if p.ID != 0 {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.ID))
	}
	if p.HopLimit != 0 {
		b = protowire.AppendTag(b, 9, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.HopLimit))
	}
	if p.WantAck {
		b = protowire.AppendTag(b, 10, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

// DecodeMeshPacket parses a MeshPacket, skipping unrecognized fields.
func DecodeMeshPacket(raw []byte) (MeshPacket, error) {
	var p MeshPacket
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return p, errParse
		}
		raw = raw[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return p, errParse
			}
			p.From = uint32(v)
			raw = raw[n:]
		case 2:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return p, errParse
			}
			p.To = uint32(v)
			raw = raw[n:]
		case 3:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return p, errParse
			}
			p.Channel = uint32(v)
			raw = raw[n:]
		case 4:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return p, errParse
			}
			d, err := DecodeData(v)
			if err != nil {
				return p, err
			}
			p.Decoded = &d
			raw = raw[n:]
		case 5:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return p, errParse
			}
			p.Encrypted = append([]byte(nil), v...)
			raw = raw[n:]
		case 6:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return p, errParse
			}
			p.ID = uint32(v)
			raw = raw[n:]
		case 9:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return p, errParse
			}
			p.HopLimit = uint32(v)
			raw = raw[n:]
		case 10:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return p, errParse
			}
			p.WantAck = v != 0
			raw = raw[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return p, errParse
			}
			raw = raw[n:]
		}
	}
	return p, nil
}

// EncodeToRadio serializes a ToRadio envelope.
func EncodeToRadio(t ToRadio) []byte {
	var b []byte
	if t.Packet != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, EncodeMeshPacket(*t.Packet))
	}
	if t.HasWantConfigID {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(t.WantConfigID))
	}
	return b
}

// DecodeToRadio parses a ToRadio envelope, skipping unrecognized fields.
func DecodeToRadio(raw []byte) (ToRadio, error) {
	var t ToRadio
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return t, errParse
		}
		raw = raw[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return t, errParse
			}
			p, err := DecodeMeshPacket(v)
			if err != nil {
				return t, err
			}
			t.Packet = &p
			raw = raw[n:]
		case 3:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return t, errParse
			}
			t.WantConfigID = uint32(v)
			t.HasWantConfigID = true
			raw = raw[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return t, errParse
			}
			raw = raw[n:]
		}
	}
	return t, nil
}

// EncodeFromRadio serializes a FromRadio envelope.
func EncodeFromRadio(f FromRadio) []byte {
	var b []byte
	if f.ID != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.ID))
	}
	if f.Packet != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, EncodeMeshPacket(*f.Packet))
	}
	if f.HasConfigCompleteID {
		b = protowire.AppendTag(b, 8, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.ConfigCompleteID))
	}
	return b
}

// DecodeFromRadio parses a FromRadio envelope, skipping unrecognized fields.
func DecodeFromRadio(raw []byte) (FromRadio, error) {
	var f FromRadio
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return f, errParse
		}
		raw = raw[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return f, errParse
			}
			f.ID = uint32(v)
			raw = raw[n:]
		case 2:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return f, errParse
			}
			p, err := DecodeMeshPacket(v)
			if err != nil {
				return f, err
			}
			f.Packet = &p
			raw = raw[n:]
		case 8:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return f, errParse
			}
			f.ConfigCompleteID = uint32(v)
			f.HasConfigCompleteID = true
			raw = raw[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return f, errParse
			}
			raw = raw[n:]
		}
	}
	return f, nil
}

// EnvelopeKind classifies a decoded protobuf payload.
type EnvelopeKind int

const (
	KindOther EnvelopeKind = iota
	KindToRadio
	KindFromRadio
)

// Envelope is the sum-type result of decoding an arbitrary frame payload:
// exactly one of ToRadio/FromRadio is populated, matching Kind.
type Envelope struct {
	Kind      EnvelopeKind
	ToRadio   *ToRadio
	FromRadio *FromRadio
}

// DecodeEnvelope attempts ToRadio first, then FromRadio, mirroring the
// upstream behavior of accepting whichever direction a payload happens to
// decode as (protobuf's permissive wire format cannot disambiguate on bytes
// alone). A payload with a recognizable packet or control field wins;
// otherwise it is classified Other.
func DecodeEnvelope(payload []byte) Envelope {
	if t, err := DecodeToRadio(payload); err == nil && (t.Packet != nil || t.HasWantConfigID) {
		return Envelope{Kind: KindToRadio, ToRadio: &t}
	}
	if f, err := DecodeFromRadio(payload); err == nil && (f.Packet != nil || f.HasConfigCompleteID) {
		return Envelope{Kind: KindFromRadio, FromRadio: &f}
	}
	return Envelope{Kind: KindOther}
}

// TryExtractText pulls a text-message sender/channel/body out of an
// envelope, if it carries one. sender is formatted "!%08x" per Meshtastic
// node-id convention; when the source id is zero/absent it is "client" for a
// ToRadio envelope and "unknown" for a FromRadio envelope.
func TryExtractText(env Envelope) (sender string, channel uint32, text string, ok bool) {
	var pkt *MeshPacket
	switch env.Kind {
	case KindToRadio:
		if env.ToRadio != nil {
			pkt = env.ToRadio.Packet
		}
	case KindFromRadio:
		if env.FromRadio != nil {
			pkt = env.FromRadio.Packet
		}
	}
	if pkt == nil || pkt.Decoded == nil || pkt.Decoded.PortNum != PortNumText {
		return "", 0, "", false
	}
	from := pkt.From
	if from == 0 {
		from = pkt.Decoded.Source
	}
	if from == 0 {
		if env.Kind == KindToRadio {
			sender = "client"
		} else {
			sender = "unknown"
		}
	} else {
		sender = formatNodeID(from)
	}
	return sender, pkt.Channel, string(pkt.Decoded.Payload), true
}

func formatNodeID(id uint32) string {
	const hex = "0123456789abcdef"
	out := make([]byte, 9)
	out[0] = '!'
	for i := 7; i >= 0; i-- {
		out[1+i] = hex[id&0xF]
		id >>= 4
	}
	return string(out)
}

// BuildWantConfig constructs the (unframed) ToRadio payload requesting the
// radio's configuration stream, as sent once at connection setup; callers
// wrap it with meshwire.Build before writing it to the socket.
func BuildWantConfig(wantConfigID uint32) []byte {
	return EncodeToRadio(ToRadio{WantConfigID: wantConfigID, HasWantConfigID: true})
}

// BuildResponse constructs both wire forms of an injected text reply: a
// ToRadio envelope (sent to the radio so the mesh carries it over RF) and a
// FromRadio envelope (broadcast to local clients so they see it immediately
// without waiting on the radio's own echo).
func BuildResponse(packetID, channel uint32, text []byte) (toRadio, fromRadio []byte) {
	pkt := MeshPacket{
		To:       BroadcastNum,
		Channel:  channel,
		ID:       packetID,
		HopLimit: 7,
		WantAck:  true,
		Decoded: &Data{
			PortNum: PortNumText,
			Payload: text,
		},
	}
	toRadio = EncodeToRadio(ToRadio{Packet: &pkt})
	fromRadio = EncodeFromRadio(FromRadio{Packet: &pkt})
	return toRadio, fromRadio
}
