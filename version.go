package main

import "fmt"

// Set with -ldflags "-X main.gitSHA1=..." at build time.
var (
	gitSHA1   string = "unknown"
	gitDirty  string = "unknown"
	buildID   string = "unknown"
	buildDate string = "unknown"
)

func Version() string {
	return fmt.Sprintf("go-reactor git:%s dirty:%s build:%s %s", gitSHA1, gitDirty, buildID, buildDate)
}

