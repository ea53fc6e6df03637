package room

import (
	"testing"

	"maunium.net/go/mautrix/id"
)

func TestEvaluateClientState(t *testing.T) {
	t.Parallel()
	local := id.UserID("@local:example.org")
	remote := id.UserID("@remote:example.org")
	other := id.UserID("@other:example.org")

	tests := []struct {
		name      string
		current   ClientState
		joined    map[id.UserID]bool
		wantNext  ClientState
		wantLeave bool
		wantTerm  bool
	}{
		{
			name:     "undefined, local not joined yet",
			current:  ClientUndefined,
			joined:   map[id.UserID]bool{},
			wantNext: ClientUndefined,
		},
		{
			name:     "undefined, only local joined",
			current:  ClientUndefined,
			joined:   map[id.UserID]bool{local: true},
			wantNext: ClientUndefined,
		},
		{
			name:     "undefined, local and remote joined",
			current:  ClientUndefined,
			joined:   map[id.UserID]bool{local: true, remote: true},
			wantNext: ClientEstablished,
		},
		{
			name:      "undefined, local joined with an unexpected user",
			current:   ClientUndefined,
			joined:    map[id.UserID]bool{local: true, other: true},
			wantNext:  ClientLeave,
			wantLeave: true,
		},
		{
			name:      "undefined, local joined with too many users",
			current:   ClientUndefined,
			joined:    map[id.UserID]bool{local: true, remote: true, other: true},
			wantNext:  ClientLeave,
			wantLeave: true,
		},
		{
			name:     "established, both still joined",
			current:  ClientEstablished,
			joined:   map[id.UserID]bool{local: true, remote: true},
			wantNext: ClientEstablished,
		},
		{
			name:      "established, remote left",
			current:   ClientEstablished,
			joined:    map[id.UserID]bool{local: true},
			wantNext:  ClientLeave,
			wantLeave: true,
		},
		{
			name:     "established, local left",
			current:  ClientEstablished,
			joined:   map[id.UserID]bool{remote: true},
			wantNext: ClientLeave,
			wantTerm: true,
		},
		{
			name:     "leave is terminal",
			current:  ClientLeave,
			joined:   map[id.UserID]bool{local: true, remote: true},
			wantNext: ClientLeave,
			wantTerm: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := evaluateClientState(tt.current, tt.joined, local, remote)
			if got.next != tt.wantNext {
				t.Errorf("next = %v, want %v", got.next, tt.wantNext)
			}
			if got.emitLeave != tt.wantLeave {
				t.Errorf("emitLeave = %v, want %v", got.emitLeave, tt.wantLeave)
			}
			if got.terminate != tt.wantTerm {
				t.Errorf("terminate = %v, want %v", got.terminate, tt.wantTerm)
			}
		})
	}
}
