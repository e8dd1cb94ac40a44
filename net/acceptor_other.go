//go:build !unix

package net

import "net"

func setListenBacklog(*net.TCPListener, int) error {
	return nil
}

func isResourceExhausted(error) bool {
	return false
}
