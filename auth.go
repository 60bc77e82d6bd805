package main

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

func checkAuth(r *http.Request, token string) bool {
	if token == "" {
		return true // No auth configured
	}

	// Check Authorization header
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		if tokenEqual(strings.TrimPrefix(auth, "Bearer "), token) {
			return true
		}
	}

	// Check query parameter (for WebSocket clients that can't set headers)
	return tokenEqual(r.URL.Query().Get("token"), token)
}

func tokenEqual(candidate, token string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1
}
