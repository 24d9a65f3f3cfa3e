package discovery

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestAnnouncement_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		a    ServerAnnouncement
	}{
		{"typical", NewAnnouncement(uuid.New(), "HOST-A", 50051, "1.0.0")},
		{"unicode name", NewAnnouncement(uuid.New(), "Büro-PC ☃", 1, "2.3.4-beta")},
		{"empty name and version", NewAnnouncement(uuid.New(), "", 65535, "")},
		{"quotes", NewAnnouncement(uuid.New(), `a "quoted" \ name`, 8080, "1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeAnnouncement(tt.a)
			if err != nil {
				t.Fatalf("EncodeAnnouncement() error = %v", err)
			}
			got, err := DecodeAnnouncement(data)
			if err != nil {
				t.Fatalf("DecodeAnnouncement() error = %v", err)
			}
			if got != tt.a {
				t.Errorf("round trip = %+v, want %+v", got, tt.a)
			}

			again, err := EncodeAnnouncement(got)
			if err != nil {
				t.Fatalf("EncodeAnnouncement() error = %v", err)
			}
			if string(again) != string(data) {
				t.Errorf("encoding is not deterministic: %s vs %s", again, data)
			}
		})
	}
}

func TestEncodeAnnouncement_WireKeys(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	data, err := EncodeAnnouncement(NewAnnouncement(id, "HOST-A", 50051, "1.0.0"))
	if err != nil {
		t.Fatalf("EncodeAnnouncement() error = %v", err)
	}

	want := `{"Type":"UsbServerAnnouncement","Id":"11111111-2222-3333-4444-555555555555","Name":"HOST-A","ApiPort":50051,"Version":"1.0.0"}`
	if string(data) != want {
		t.Errorf("EncodeAnnouncement() = %s, want %s", data, want)
	}
}

func TestEncodeAnnouncement_TooLarge(t *testing.T) {
	a := NewAnnouncement(uuid.New(), strings.Repeat("x", MaxAnnouncementSize), 50051, "1.0.0")
	if _, err := EncodeAnnouncement(a); err == nil {
		t.Error("EncodeAnnouncement() should reject oversized announcements")
	}
}

func TestDecodeAnnouncement_CaseInsensitiveKeys(t *testing.T) {
	data := []byte(`{"type":"UsbServerAnnouncement","id":"11111111-2222-3333-4444-555555555555","name":"host-b","apiPort":50051,"version":"1.0.0"}`)

	got, err := DecodeAnnouncement(data)
	if err != nil {
		t.Fatalf("DecodeAnnouncement() error = %v", err)
	}
	if got.Name != "host-b" || got.APIPort != 50051 {
		t.Errorf("DecodeAnnouncement() = %+v", got)
	}
}

func TestDecodeAnnouncement_Errors(t *testing.T) {
	valid, err := EncodeAnnouncement(NewAnnouncement(uuid.New(), "HOST-A", 50051, "1.0.0"))
	if err != nil {
		t.Fatalf("EncodeAnnouncement() error = %v", err)
	}

	tests := []struct {
		name     string
		data     []byte
		wantKind DecodeErrorKind
	}{
		{"empty", nil, MalformedPayload},
		{"truncated", valid[:len(valid)/2], MalformedPayload},
		{"not json", []byte("hello"), MalformedPayload},
		{"json array", []byte(`[1,2,3]`), MalformedPayload},
		{"missing type", []byte(`{"Id":"11111111-2222-3333-4444-555555555555","Name":"a","ApiPort":1,"Version":"1"}`), MalformedPayload},
		{"wrong type", []byte(`{"Type":"SomethingElse","Id":"11111111-2222-3333-4444-555555555555","Name":"a","ApiPort":1,"Version":"1"}`), UnexpectedDiscriminator},
		{"wrong type only", []byte(`{"Type":"Ping"}`), UnexpectedDiscriminator},
		{"missing id", []byte(`{"Type":"UsbServerAnnouncement","Name":"a","ApiPort":1,"Version":"1"}`), MalformedPayload},
		{"bad id", []byte(`{"Type":"UsbServerAnnouncement","Id":"nope","Name":"a","ApiPort":1,"Version":"1"}`), MalformedPayload},
		{"missing name", []byte(`{"Type":"UsbServerAnnouncement","Id":"11111111-2222-3333-4444-555555555555","ApiPort":1,"Version":"1"}`), MalformedPayload},
		{"missing port", []byte(`{"Type":"UsbServerAnnouncement","Id":"11111111-2222-3333-4444-555555555555","Name":"a","Version":"1"}`), MalformedPayload},
		{"port zero", []byte(`{"Type":"UsbServerAnnouncement","Id":"11111111-2222-3333-4444-555555555555","Name":"a","ApiPort":0,"Version":"1"}`), MalformedPayload},
		{"port too large", []byte(`{"Type":"UsbServerAnnouncement","Id":"11111111-2222-3333-4444-555555555555","Name":"a","ApiPort":70000,"Version":"1"}`), MalformedPayload},
		{"port not a number", []byte(`{"Type":"UsbServerAnnouncement","Id":"11111111-2222-3333-4444-555555555555","Name":"a","ApiPort":"x","Version":"1"}`), MalformedPayload},
		{"missing version", []byte(`{"Type":"UsbServerAnnouncement","Id":"11111111-2222-3333-4444-555555555555","Name":"a","ApiPort":1}`), MalformedPayload},
		{"oversized", []byte(`{"Type":"` + strings.Repeat("x", MaxAnnouncementSize) + `"}`), MalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeAnnouncement(tt.data)
			if err == nil {
				t.Fatal("DecodeAnnouncement() error = nil, want error")
			}

			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("error type = %T, want *DecodeError", err)
			}
			if decodeErr.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", decodeErr.Kind, tt.wantKind)
			}

			switch tt.wantKind {
			case MalformedPayload:
				if !errors.Is(err, ErrMalformedPayload) {
					t.Error("errors.Is(err, ErrMalformedPayload) = false")
				}
			case UnexpectedDiscriminator:
				if !errors.Is(err, ErrUnexpectedDiscriminator) {
					t.Error("errors.Is(err, ErrUnexpectedDiscriminator) = false")
				}
			}
		})
	}
}

func TestDecodeError_Messages(t *testing.T) {
	err := &DecodeError{Kind: UnexpectedDiscriminator, Type: "Ping"}
	if !strings.Contains(err.Error(), `"Ping"`) {
		t.Errorf("Error() = %q, want it to name the type", err.Error())
	}

	cause := errors.New("boom")
	wrapped := malformed("invalid JSON", cause)
	if !errors.Is(wrapped, cause) {
		t.Error("DecodeError should unwrap to its cause")
	}
	if DecodeErrorKind(42).String() != "DecodeErrorKind(42)" {
		t.Errorf("unknown kind String() = %q", DecodeErrorKind(42).String())
	}
}
