package protocol

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func allPackets() []Packet {
	return []Packet{
		&ProtocolHandshake{ProtocolVersion: "1.2.0"},
		&ProtocolAccepted{ServerVersion: "1.4.1", ConnectionID: 42},
		&ConnectRequest{ClientName: "realm-probe", Locale: "en-US"},
		&ConnectAccepted{ServerName: "realm", TickRate: 20, ServerTime: 1700000000000},
		&Ping{Nonce: 7, SentAt: 1700000000123},
		&Pong{Nonce: 7, SentAt: 1700000000123},
		&ServerNotice{Severity: SeverityWarning, Message: "restart in 5 minutes"},
		&Disconnect{Reason: ReasonKicked, Message: "bye"},
		&LoginRequest{Username: "alice", Password: "hunter2"},
		&LoginResult{Status: LoginInvalidCredentials, Message: "nope"},
		&Logout{},
		&SessionJoin{SessionName: "lobby", Spawn: Vector2{X: 1.5, Y: -2.25}},
		&EntityMove{EntityID: 9, Position: Vector2{X: 100.125, Y: 0}, Velocity: Vector2{X: -0.5, Y: 0.25}},
		&SessionLeave{SessionName: "lobby"},
		&ChatMessage{Channel: "global", Text: "héllo 你好"},
	}
}

func TestPacketRoundTrip(t *testing.T) {
	registry := NewDefaultRegistry()

	for _, p := range allPackets() {
		t.Run(p.Type().String(), func(t *testing.T) {
			data, err := Encode(p)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			pt, length, err := DecodeFrameHeader(data)
			if err != nil {
				t.Fatalf("DecodeFrameHeader() error = %v", err)
			}
			if pt != p.Type() {
				t.Errorf("header type = %v, want %v", pt, p.Type())
			}
			if length != len(data)-FrameHeaderSize {
				t.Errorf("header length = %d, frame carries %d body bytes", length, len(data)-FrameHeaderSize)
			}

			got, err := registry.Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(got, p) {
				t.Errorf("Decode() = %+v, want %+v", got, p)
			}
		})
	}
}

func TestDefaultRegistryCoversAllPackets(t *testing.T) {
	registry := NewDefaultRegistry()
	packets := allPackets()

	types := registry.Types()
	if len(types) != len(packets) {
		t.Fatalf("Types() has %d entries, want %d", len(types), len(packets))
	}
	for i := 1; i < len(types); i++ {
		if types[i-1] >= types[i] {
			t.Errorf("Types() not ascending at %d: %v", i, types)
		}
	}
	for _, p := range packets {
		if _, ok := registry.Lookup(p.Type()); !ok {
			t.Errorf("Lookup(%v) missing", p.Type())
		}
	}
}

func TestDecodeTruncatedBody(t *testing.T) {
	registry := NewDefaultRegistry()

	for _, p := range allPackets() {
		data, err := Encode(p)
		if err != nil {
			t.Fatalf("Encode(%v) error = %v", p.Type(), err)
		}
		if len(data) == FrameHeaderSize {
			continue
		}

		f := &Frame{Type: p.Type(), Body: data[FrameHeaderSize : len(data)-1]}
		t.Run(p.Type().String(), func(t *testing.T) {
			_, err := registry.DecodePacket(f)
			if !errors.Is(err, ErrMalformedPacket) {
				t.Fatalf("DecodePacket() error = %v, want ErrMalformedPacket", err)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("DecodePacket() error %T is not *DecodeError", err)
			}
			if de.Type != p.Type() || de.Field == "" {
				t.Errorf("DecodeError = {%v, %q}, want type %v and a field", de.Type, de.Field, p.Type())
			}
		})
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	registry := NewDefaultRegistry()
	f := &Frame{Type: TypeLogout, Body: []byte{0x00}}

	if _, err := registry.DecodePacket(f); !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("DecodePacket() error = %v, want ErrMalformedPacket", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	registry := NewDefaultRegistry()

	data, err := (&Frame{Type: 0x55, Body: []byte{0x01}}).Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	_, err = registry.Decode(data)
	if !errors.Is(err, ErrUnknownPacketType) {
		t.Errorf("Decode() error = %v, want ErrUnknownPacketType", err)
	}
	if errors.Is(err, ErrMalformedPacket) {
		t.Errorf("unknown type must not be reported as malformed")
	}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	fn := func(d *Decoder) (Packet, error) { return &Logout{}, nil }

	if !r.Register(0x40, fn) {
		t.Fatal("Register(0x40) = false, want true")
	}
	if r.Register(0x40, fn) {
		t.Error("duplicate Register(0x40) = true, want false")
	}
	if r.Register(0x41, nil) {
		t.Error("Register(nil) = true, want false")
	}

	r.Seal()
	if !r.Sealed() {
		t.Error("Sealed() = false after Seal")
	}
	if r.Register(0x42, fn) {
		t.Error("Register after Seal = true, want false")
	}
	if _, ok := r.Lookup(0x40); !ok {
		t.Error("Lookup(0x40) missing after Seal")
	}
}

func TestRegistryMustRegisterPanics(t *testing.T) {
	r := NewDefaultRegistry()
	defer func() {
		if recover() == nil {
			t.Error("MustRegister on a taken type did not panic")
		}
	}()
	r.MustRegister(TypePing, decodeLogout)
}

func TestEncodeErrors(t *testing.T) {
	t.Run("small_string_too_long", func(t *testing.T) {
		_, err := Encode(&SessionJoin{SessionName: strings.Repeat("x", 256)})
		if !errors.Is(err, ErrEncodingTooLarge) {
			t.Fatalf("Encode() error = %v, want ErrEncodingTooLarge", err)
		}
		var ee *EncodeError
		if !errors.As(err, &ee) || ee.Field != "session_name" {
			t.Errorf("Encode() error = %v, want EncodeError on session_name", err)
		}
	})

	t.Run("small_string_at_limit", func(t *testing.T) {
		data, err := Encode(&SessionJoin{SessionName: strings.Repeat("x", 255)})
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if want := FrameHeaderSize + 1 + 255 + 8; len(data) != want {
			t.Errorf("len = %d, want %d", len(data), want)
		}
	})

	t.Run("body_too_large", func(t *testing.T) {
		p := &ChatMessage{Channel: "c", Text: strings.Repeat("y", MaxStringLen)}
		if _, err := Encode(p); !errors.Is(err, ErrEncodingTooLarge) {
			t.Errorf("Encode() error = %v, want ErrEncodingTooLarge", err)
		}
	})

	t.Run("custom_limit", func(t *testing.T) {
		p := &ChatMessage{Channel: "c", Text: strings.Repeat("y", 64)}
		if _, err := EncodeWithLimit(p, 32); !errors.Is(err, ErrEncodingTooLarge) {
			t.Errorf("EncodeWithLimit() error = %v, want ErrEncodingTooLarge", err)
		}
		if _, err := EncodeWithLimit(p, 128); err != nil {
			t.Errorf("EncodeWithLimit() error = %v", err)
		}
	})
}

func TestEncodeFrameMatchesEncode(t *testing.T) {
	for _, p := range allPackets() {
		f, err := EncodeFrame(p)
		if err != nil {
			t.Fatalf("EncodeFrame(%v) error = %v", p.Type(), err)
		}
		fromFrame, err := f.Encode()
		if err != nil {
			t.Fatalf("Frame.Encode(%v) error = %v", p.Type(), err)
		}
		direct, err := Encode(p)
		if err != nil {
			t.Fatalf("Encode(%v) error = %v", p.Type(), err)
		}
		if string(fromFrame) != string(direct) {
			t.Errorf("%v: EncodeFrame and Encode disagree", p.Type())
		}
	}
}

func TestDisconnectReasonString(t *testing.T) {
	if got := ReasonSlowConsumer.String(); got != "SlowConsumer" {
		t.Errorf("String() = %q, want SlowConsumer", got)
	}
	if got := DisconnectReason(0xEE).String(); got != "Unknown" {
		t.Errorf("String() = %q, want Unknown", got)
	}
}
