package server

import "testing"

func TestParseLogLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want LogEvent
	}{
		{
			name: "server ready",
			line: "04/12/2024 18:22:01: Game server connected",
			want: LogEvent{Type: LogEventServerReady},
		},
		{
			name: "character spawn",
			line: "04/12/2024 18:25:43: Got character ZDOID from Thorvald : 112233445:17",
			want: LogEvent{Type: LogEventCharacterSpawn, CharacterName: "Thorvald", ZDOID: "112233445:17"},
		},
		{
			name: "character spawn with space in name",
			line: "Got character ZDOID from Erik the Red : 5:2",
			want: LogEvent{Type: LogEventCharacterSpawn, CharacterName: "Erik the Red", ZDOID: "5:2"},
		},
		{
			name: "death respawn zdoid",
			line: "Got character ZDOID from Thorvald : 0:0",
			want: LogEvent{Type: LogEventCharacterSpawn, CharacterName: "Thorvald", ZDOID: "0:0"},
		},
		{
			name: "steam connect",
			line: "04/12/2024 18:25:40: Got connection SteamID 76561198012345678",
			want: LogEvent{Type: LogEventSteamConnect, SteamID: "76561198012345678"},
		},
		{
			name: "steam disconnect",
			line: "04/12/2024 19:01:12: Closing socket 76561198012345678",
			want: LogEvent{Type: LogEventSteamDisconnect, SteamID: "76561198012345678"},
		},
		{
			name: "world saved",
			line: "04/12/2024 18:52:00: World saved ( 1234.056ms )",
			want: LogEvent{Type: LogEventWorldSaved, DurationMS: "1234.056"},
		},
		{
			name: "random event",
			line: "04/12/2024 18:40:00: Random event set:army_eikthyr",
			want: LogEvent{Type: LogEventRandomEvent, EventName: "army_eikthyr"},
		},
		{
			name: "uninteresting line",
			line: "(Filename: ./Runtime/Export/Debug/Debug.bindings.h Line: 39)",
			want: LogEvent{Type: LogEventNone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLogLine(tt.line)
			if got != tt.want {
				t.Errorf("ParseLogLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestSessionTrackerPairsConnectionWithSpawn(t *testing.T) {
	tr := NewSessionTracker()

	tr.Connect("76561198000000001")
	s, ok := tr.Spawn("Thorvald", "100:5")
	if !ok {
		t.Fatal("expected spawn to start a session")
	}
	if s.SteamID != "76561198000000001" || s.CharacterName != "Thorvald" {
		t.Errorf("unexpected session %+v", s)
	}
	if got := len(tr.Active()); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestSessionTrackerIgnoresDeathRespawn(t *testing.T) {
	tr := NewSessionTracker()
	tr.Connect("76561198000000001")

	if _, ok := tr.Spawn("Thorvald", "0:0"); ok {
		t.Error("death respawn should not start a session")
	}
	if got := len(tr.Active()); got != 0 {
		t.Errorf("active sessions = %d, want 0", got)
	}
}

func TestSessionTrackerIgnoresRespawnOfActivePlayer(t *testing.T) {
	tr := NewSessionTracker()
	tr.Connect("76561198000000001")
	tr.Spawn("Thorvald", "100:5")

	if _, ok := tr.Spawn("Thorvald", "100:9"); ok {
		t.Error("respawn of active player should not start a session")
	}
	if got := len(tr.Active()); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestSessionTrackerDisconnect(t *testing.T) {
	tr := NewSessionTracker()
	tr.Connect("76561198000000001")
	tr.Spawn("Thorvald", "100:5")

	s, ok := tr.Disconnect("76561198000000001")
	if !ok {
		t.Fatal("expected disconnect to end the session")
	}
	if s.CharacterName != "Thorvald" {
		t.Errorf("unexpected session %+v", s)
	}
	if got := len(tr.Active()); got != 0 {
		t.Errorf("active sessions = %d, want 0", got)
	}

	// Disconnect of a connection that never spawned is silent.
	tr.Connect("76561198000000002")
	if _, ok := tr.Disconnect("76561198000000002"); ok {
		t.Error("disconnect before spawn should not report a session")
	}
}

func TestSessionTrackerSpawnWithoutConnection(t *testing.T) {
	tr := NewSessionTracker()

	s, ok := tr.Spawn("Thorvald", "100:5")
	if !ok {
		t.Fatal("spawn without observed connection should still track a session")
	}
	if s.SteamID != "" {
		t.Errorf("SteamID = %q, want empty", s.SteamID)
	}
}
