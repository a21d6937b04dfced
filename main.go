/*
	Copyright 2026 FPV Timing
*/

package main

import "github.com/fpvtiming/racehub/cmd"

func main() {
	cmd.Execute()
}
