//go:build !unix

package main

import "os"

func notifyToggle(chan<- os.Signal) {}

func isToggle(os.Signal) bool { return false }
