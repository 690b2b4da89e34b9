//go:build !unix

package stream

import "net"

// On Windows SO_REUSEADDR allows port sharing, so it is left unset.
func listenConfig() *net.ListenConfig {
	return &net.ListenConfig{}
}
