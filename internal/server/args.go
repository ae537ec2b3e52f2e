package server

import (
	"path/filepath"
	"strconv"

	"github.com/caleb-collar/land-of-oz-dsm/internal/config"
)

// steamAppID is the Valheim dedicated server App ID, required in the
// process environment for Steam API initialization.
const steamAppID = "892970"

// BuildServerArgs constructs the dedicated server command line from the
// configured server data.
func BuildServerArgs(sd config.ServerData) []string {
	args := []string{
		"-nographics",
		"-batchmode",
		"-name", sd.Name,
		"-port", strconv.Itoa(sd.Port),
		"-world", sd.World,
	}
	if sd.Password != "" {
		args = append(args, "-password", sd.Password)
	}
	if sd.SaveDirectory != "" {
		args = append(args, "-savedir", sd.SaveDirectory)
	}
	if sd.Public {
		args = append(args, "-public", "1")
	} else {
		args = append(args, "-public", "0")
	}
	if sd.Crossplay {
		args = append(args, "-crossplay")
	}
	if sd.LogFile != "" {
		args = append(args, "-logFile", sd.LogFile)
	}
	return args
}

// BuildServerEnv returns the extra environment variables the dedicated
// server needs beyond the inherited environment.
func BuildServerEnv(sd config.ServerData) map[string]string {
	env := map[string]string{
		"SteamAppId": steamAppID,
	}
	// The Linux server ships its own steamclient and needs it on the
	// library path.
	if filepath.Ext(sd.ExecutableName) != ".exe" && sd.InstallDirectory != "" {
		env["LD_LIBRARY_PATH"] = filepath.Join(sd.InstallDirectory, "linux64")
	}
	return env
}

// ExecutablePath joins the install directory and executable name.
func ExecutablePath(sd config.ServerData) string {
	return filepath.Join(sd.InstallDirectory, sd.ExecutableName)
}
