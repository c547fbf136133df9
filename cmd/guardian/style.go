package main

import (
	"github.com/fatih/color"

	"guardian/internal/guardian"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func colorState(state guardian.State) string {
	switch state {
	case guardian.StateVerified, guardian.StateCompleted:
		return green(string(state))
	case guardian.StateFailed:
		return red(string(state))
	case guardian.StateNeedsReview:
		return yellow(string(state))
	case guardian.StateInProgress:
		return cyan(string(state))
	default:
		return gray(string(state))
	}
}
