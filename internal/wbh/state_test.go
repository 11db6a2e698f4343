package wbh

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{name: "new to unchanged", from: StateNew, to: StateUnchanged, want: true},
		{name: "new to changed", from: StateNew, to: StateChanged, want: true},
		{name: "changed stays changed", from: StateChanged, to: StateChanged, want: true},
		{name: "unchanged to inqueue", from: StateUnchanged, to: StateInQueue, want: true},
		{name: "inqueue to uploading", from: StateInQueue, to: StateUploading, want: true},
		{name: "inqueue to done", from: StateInQueue, to: StateDone, want: true},
		{name: "uploading to done", from: StateUploading, to: StateDone, want: true},
		{name: "done to deleted", from: StateDone, to: StateDeleted, want: true},
		{name: "new straight to inqueue", from: StateNew, to: StateInQueue, want: false},
		{name: "backwards done to uploading", from: StateDone, to: StateUploading, want: false},
		{name: "uploading skips to deleted", from: StateUploading, to: StateDeleted, want: false},
		{name: "deleted is terminal", from: StateDeleted, to: StateDeleted, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestState_PersistedByName(t *testing.T) {
	data, err := json.Marshal(struct {
		State State `json:"state"`
	}{State: StateUploading})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"state":"UPLOADING"}` {
		t.Errorf("Marshal() = %s, want state by name", data)
	}

	var decoded struct {
		State State `json:"state"`
	}
	if err := json.Unmarshal([]byte(`{"state":"DONE"}`), &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.State != StateDone {
		t.Errorf("State = %s, want DONE", decoded.State)
	}
	if int(decoded.State) != 60 {
		t.Errorf("int(State) = %d, want 60", int(decoded.State))
	}
}

func TestParseState_Unknown(t *testing.T) {
	_, err := ParseState("FINISHED")
	if !errors.Is(err, ErrSerialization) {
		t.Errorf("ParseState() error = %v, want ErrSerialization", err)
	}
}

func TestParseEncryptionType(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    EncryptionType
		wantErr bool
	}{
		{name: "none", input: "NONE", want: EncryptionNone},
		{name: "chacha", input: "ChaCha20Poly1305", want: EncryptionChaCha20Poly1305},
		{name: "case sensitive", input: "chacha20poly1305", wantErr: true},
		{name: "unknown", input: "FERNET_SHA256", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEncryptionType(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEncryptionType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseEncryptionType(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestChecksumType_Values(t *testing.T) {
	if int(ChecksumSHA256) != 30 {
		t.Errorf("ChecksumSHA256 = %d, want 30", int(ChecksumSHA256))
	}
	got, err := ParseChecksumType(ChecksumSHA256.String())
	if err != nil {
		t.Fatalf("ParseChecksumType() error = %v", err)
	}
	if got != ChecksumSHA256 {
		t.Errorf("ParseChecksumType() = %v, want SHA256", got)
	}
}
