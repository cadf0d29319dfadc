package unixsocket

// darwin has no MSG_CMSG_CLOEXEC; RecvMsg sets close-on-exec after
// parsing instead
const recvFlags = 0
