package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"

	"golang.org/x/sys/unix"
)

type connContextKey struct{}

// connContext returns a ConnContext function for http.Server that stores
// the net.Conn in the request context. This allows handlers to retrieve
// the underlying connection (e.g., for Unix socket peer credentials).
func connContext(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, connContextKey{}, c)
}

// peerUID extracts the peer UID from a Unix socket connection in the request
// context. ok is false for non-Unix connections.
func peerUID(ctx context.Context) (uid uint32, ok bool) {
	c, connOK := ctx.Value(connContextKey{}).(net.Conn)
	if !connOK || c == nil {
		return 0, false
	}

	uc, unixOK := c.(*net.UnixConn)
	if !unixOK {
		return 0, false
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, false
	}

	var cred *unix.Ucred
	var credErr error
	raw.Control(func(fd uintptr) { //nolint:errcheck
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if credErr != nil || cred == nil {
		return 0, false
	}
	return cred.Uid, true
}

// requireSameUser rejects Unix socket requests from peers running as a
// different user. TCP connections pass through; binding to loopback is the
// caller's concern.
func requireSameUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if uid, ok := peerUID(r.Context()); ok && uid != uint32(os.Getuid()) {
			slog.Warn("rejected request from foreign user", "uid", uid)
			http.Error(w, `{"error": "forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
