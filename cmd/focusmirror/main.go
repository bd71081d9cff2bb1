package main

import (
	"runtime"

	"github.com/bryanchriswhite/FocusMirror/cmd/focusmirror/commands"
)

func init() {
	// Window creation, the message loop and every session call must stay on
	// the thread that owns the windows.
	runtime.LockOSThread()
}

func main() {
	commands.Execute()
}
