//go:build windows

package main

import "golang.org/x/sys/windows"

const utf8CodePage = 65001

func init() {
	// Log lines go to the console as UTF-8
	_ = windows.SetConsoleOutputCP(utf8CodePage)
}
