//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"
)

func notifyToggle(ch chan<- os.Signal) { signal.Notify(ch, syscall.SIGUSR1) }

func isToggle(sig os.Signal) bool { return sig == syscall.SIGUSR1 }
