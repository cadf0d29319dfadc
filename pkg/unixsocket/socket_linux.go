package unixsocket

import "golang.org/x/sys/unix"

// received descriptors atomically get close-on-exec where supported
const recvFlags = unix.MSG_CMSG_CLOEXEC
