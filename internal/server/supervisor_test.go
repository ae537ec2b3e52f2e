package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caleb-collar/land-of-oz-dsm/internal/config"
	"github.com/caleb-collar/land-of-oz-dsm/internal/events"
)

func TestSupervisorRoutesLogEvents(t *testing.T) {
	cfg := config.DefaultConfig()
	bus := events.NewEventBus()
	defer bus.Stop()

	var joined, left []events.PlayerPayload
	var saves []events.WorldSavedPayload
	var logLines int
	bus.Subscribe(events.EventPlayerJoined, "test", func(e events.Event) {
		joined = append(joined, e.Payload.(events.PlayerPayload))
	})
	bus.Subscribe(events.EventPlayerLeft, "test", func(e events.Event) {
		left = append(left, e.Payload.(events.PlayerPayload))
	})
	bus.Subscribe(events.EventWorldSaved, "test", func(e events.Event) {
		saves = append(saves, e.Payload.(events.WorldSavedPayload))
	})
	bus.Subscribe(events.EventLogLine, "test", func(events.Event) {
		logLines++
	})

	sup := NewSupervisor(cfg, bus)

	sup.onServerLogLine("04/12/2024 18:25:40: Got connection SteamID 76561198000000001")
	sup.onServerLogLine("04/12/2024 18:25:43: Got character ZDOID from Thorvald : 112233445:17")
	sup.onServerLogLine("04/12/2024 18:52:00: World saved ( 1234.056ms )")
	sup.onServerLogLine("04/12/2024 19:01:12: Closing socket 76561198000000001")

	if len(joined) != 1 || joined[0].Name != "Thorvald" || joined[0].SteamID != "76561198000000001" {
		t.Errorf("joined = %+v", joined)
	}
	if len(left) != 1 || left[0].Name != "Thorvald" {
		t.Errorf("left = %+v", left)
	}
	if len(saves) != 1 || saves[0].DurationMS != "1234.056" {
		t.Errorf("saves = %+v", saves)
	}
	if logLines != 4 {
		t.Errorf("log line events = %d, want 4", logLines)
	}
}

func TestSupervisorIgnoresDeathRespawns(t *testing.T) {
	cfg := config.DefaultConfig()
	bus := events.NewEventBus()
	defer bus.Stop()

	var joined int
	bus.Subscribe(events.EventPlayerJoined, "test", func(events.Event) { joined++ })

	sup := NewSupervisor(cfg, bus)
	sup.onServerLogLine("Got connection SteamID 1")
	sup.onServerLogLine("Got character ZDOID from Thorvald : 5:1")
	sup.onServerLogLine("Got character ZDOID from Thorvald : 0:0")
	sup.onServerLogLine("Got character ZDOID from Thorvald : 5:2")

	if joined != 1 {
		t.Errorf("joined events = %d, want 1", joined)
	}
}

func TestSupervisorStatusWhileOffline(t *testing.T) {
	cfg := config.DefaultConfig()
	bus := events.NewEventBus()
	defer bus.Stop()

	sup := NewSupervisor(cfg, bus)
	st := sup.Status()

	if st.State != "offline" {
		t.Errorf("State = %q, want offline", st.State)
	}
	if st.RconState != "disconnected" {
		t.Errorf("RconState = %q, want disconnected", st.RconState)
	}
	if st.World != cfg.GetServerData().World {
		t.Errorf("World = %q", st.World)
	}
	if st.LastExitCode != -1 {
		t.Errorf("LastExitCode = %d, want -1", st.LastExitCode)
	}
}

func TestStartServerLeavesLogFileAlone(t *testing.T) {
	requireUnix(t)

	dir := t.TempDir()
	logPath := filepath.Join(dir, "valheim.log")
	stale := "leftover line from the previous run\n"
	if err := os.WriteFile(logPath, []byte(stale), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sd := cfg.GetServerData()
	sd.InstallDirectory = "/bin"
	sd.ExecutableName = "sleep"
	sd.LogFile = logPath
	sd.Restart.Enabled = false
	cfg.SetServerData(sd)

	bus := events.NewEventBus()
	defer bus.Stop()

	sup := NewSupervisor(cfg, bus)
	if err := sup.StartServer(context.Background()); err != nil {
		t.Fatalf("StartServer failed: %v", err)
	}
	defer sup.StopServer(2 * time.Second)

	// The server owns its log file; supervision must only ever read it.
	data, readErr := os.ReadFile(logPath)
	if readErr != nil {
		t.Fatalf("log file unreadable after start: %v", readErr)
	}
	if string(data) != stale {
		t.Errorf("log file content changed: %q", data)
	}
}

func TestBuildServerArgs(t *testing.T) {
	sd := config.ServerData{
		Name:          "Oz East",
		World:         "Midgard",
		Password:      "hunter2",
		Port:          2456,
		SaveDirectory: "/data/saves",
		Public:        true,
		Crossplay:     true,
		LogFile:       "/var/log/valheim.log",
	}

	args := BuildServerArgs(sd)
	want := []string{
		"-nographics", "-batchmode",
		"-name", "Oz East",
		"-port", "2456",
		"-world", "Midgard",
		"-password", "hunter2",
		"-savedir", "/data/saves",
		"-public", "1",
		"-crossplay",
		"-logFile", "/var/log/valheim.log",
	}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestBuildServerArgsPrivateServer(t *testing.T) {
	sd := config.ServerData{Name: "Oz", World: "Oz", Port: 2456}
	args := BuildServerArgs(sd)

	for i, a := range args {
		if a == "-password" || a == "-savedir" || a == "-crossplay" || a == "-logFile" {
			t.Errorf("unexpected arg %q", a)
		}
		if a == "-public" && args[i+1] != "0" {
			t.Errorf("-public = %q, want 0", args[i+1])
		}
	}

	env := BuildServerEnv(sd)
	if env["SteamAppId"] != "892970" {
		t.Errorf("SteamAppId = %q", env["SteamAppId"])
	}
}
