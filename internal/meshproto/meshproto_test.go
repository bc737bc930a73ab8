package meshproto

import "testing"

func TestDataRoundTrip(t *testing.T) {
	d := Data{PortNum: PortNumText, Payload: []byte("hi"), Source: 0x12345678, Dest: BroadcastNum}
	got, err := DecodeData(EncodeData(d))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PortNum != d.PortNum || string(got.Payload) != string(d.Payload) || got.Source != d.Source || got.Dest != d.Dest {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, d)
	}
}

func TestMeshPacketRoundTrip(t *testing.T) {
	p := MeshPacket{
		From:     1,
		To:       BroadcastNum,
		Channel:  2,
		ID:       99,
		HopLimit: 7,
		WantAck:  true,
		Decoded:  &Data{PortNum: PortNumText, Payload: []byte("hello")},
	}
	got, err := DecodeMeshPacket(EncodeMeshPacket(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.From != p.From || got.To != p.To || got.Channel != p.Channel || got.ID != p.ID || got.HopLimit != p.HopLimit || got.WantAck != p.WantAck {
		t.Fatalf("scalar fields mismatch: %+v vs %+v", got, p)
	}
	if got.Decoded == nil || string(got.Decoded.Payload) != "hello" {
		t.Fatalf("decoded payload mismatch: %+v", got.Decoded)
	}
}

func TestToRadioWantConfig(t *testing.T) {
	raw := BuildWantConfig(42)
	env := DecodeEnvelope(raw)
	if env.Kind != KindToRadio {
		t.Fatalf("expected KindToRadio, got %v", env.Kind)
	}
	if !env.ToRadio.HasWantConfigID || env.ToRadio.WantConfigID != 42 {
		t.Fatalf("want_config_id not round tripped: %+v", env.ToRadio)
	}
}

func TestDecodeEnvelopeOther(t *testing.T) {
	env := DecodeEnvelope(nil)
	if env.Kind != KindOther {
		t.Fatalf("expected KindOther for empty payload, got %v", env.Kind)
	}
}

func TestTryExtractTextFromToRadio(t *testing.T) {
	pkt := MeshPacket{
		From:    0x0A0B0C0D,
		Channel: 2,
		Decoded: &Data{PortNum: PortNumText, Payload: []byte("/gem what is up")},
	}
	raw := EncodeToRadio(ToRadio{Packet: &pkt})
	env := DecodeEnvelope(raw)
	sender, channel, text, ok := TryExtractText(env)
	if !ok {
		t.Fatalf("expected text extraction to succeed")
	}
	if sender != "!0a0b0c0d" {
		t.Fatalf("unexpected sender id: %q", sender)
	}
	if channel != 2 || text != "/gem what is up" {
		t.Fatalf("unexpected channel/text: %d %q", channel, text)
	}
}

func TestTryExtractTextIgnoresNonText(t *testing.T) {
	pkt := MeshPacket{From: 1, Decoded: &Data{PortNum: PortNumAdmin, Payload: []byte("x")}}
	raw := EncodeToRadio(ToRadio{Packet: &pkt})
	env := DecodeEnvelope(raw)
	if _, _, _, ok := TryExtractText(env); ok {
		t.Fatalf("expected non-text port to be ignored")
	}
}

func TestBuildResponseBothEnvelopes(t *testing.T) {
	toRadio, fromRadio := BuildResponse(7, 2, []byte("reply text"))

	tEnv := DecodeEnvelope(toRadio)
	if tEnv.Kind != KindToRadio {
		t.Fatalf("expected ToRadio envelope, got %v", tEnv.Kind)
	}
	sender, channel, text, ok := TryExtractText(tEnv)
	if !ok || channel != 2 || text != "reply text" {
		t.Fatalf("ToRadio text mismatch: sender=%q channel=%d text=%q ok=%v", sender, channel, text, ok)
	}
	if tEnv.ToRadio.Packet.To != BroadcastNum || tEnv.ToRadio.Packet.ID != 7 {
		t.Fatalf("unexpected packet envelope fields: %+v", tEnv.ToRadio.Packet)
	}

	fEnv := DecodeEnvelope(fromRadio)
	if fEnv.Kind != KindFromRadio {
		t.Fatalf("expected FromRadio envelope, got %v", fEnv.Kind)
	}
	_, _, text2, ok2 := TryExtractText(fEnv)
	if !ok2 || text2 != "reply text" {
		t.Fatalf("FromRadio text mismatch: text=%q ok=%v", text2, ok2)
	}
}

func TestFormatNodeIDZeroSenderToRadioIsClient(t *testing.T) {
	pkt := MeshPacket{Decoded: &Data{PortNum: PortNumText, Payload: []byte("x")}}
	raw := EncodeToRadio(ToRadio{Packet: &pkt})
	env := DecodeEnvelope(raw)
	sender, _, _, ok := TryExtractText(env)
	if !ok || sender != "client" {
		t.Fatalf("expected client sender for zero-id ToRadio, got %q ok=%v", sender, ok)
	}
}

func TestFormatNodeIDZeroSenderFromRadioIsUnknown(t *testing.T) {
	pkt := MeshPacket{Decoded: &Data{PortNum: PortNumText, Payload: []byte("x")}}
	raw := EncodeFromRadio(FromRadio{Packet: &pkt})
	env := DecodeEnvelope(raw)
	sender, _, _, ok := TryExtractText(env)
	if !ok || sender != "unknown" {
		t.Fatalf("expected unknown sender for zero-id FromRadio, got %q ok=%v", sender, ok)
	}
}
