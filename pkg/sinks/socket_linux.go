//go:build linux

package sinks

import (
	"golang.org/x/sys/unix"
)

// setSockOptDSCP устанавливает DSCP маркировку. DSCP занимает старшие
// 6 бит поля TOS.
func setSockOptDSCP(fd uintptr, dscp int) error {
	tos := dscp << 2
	if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
		return err
	}
	// Для IPv4 сокета IPV6_TCLASS вернет ошибку, это нормально
	_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	return nil
}
