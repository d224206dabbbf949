package main

import (
	"crypto"
	"crypto/hmac"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// authScope limits what a credential may do with the pins.
type authScope string

const (
	// scopeRead allows listing pins, reading them and fetching events.
	scopeRead authScope = "read"
	// scopeControl also allows writing and pulsing outputs.
	scopeControl authScope = "control"
)

func authSign(authKey string, user string) []byte {
	h := hmac.New(crypto.SHA256.New, []byte(authKey))
	h.Write([]byte(user))
	return h.Sum(nil)
}

// authCalculate returns basic auth credentials for scope valid until expiry.
// The user name is "expiry$scope[$label]" and the password its HMAC.
func authCalculate(authKey string, scope authScope, label string, expiry time.Time) (string, string) {
	fields := []string{strconv.FormatInt(expiry.Unix(), 10), string(scope)}
	if label != "" {
		fields = append(fields, label)
	}

	user := strings.Join(fields, "$")
	return user, hex.EncodeToString(authSign(authKey, user))
}

// authCheck verifies credentials and returns the scope they carry.
func authCheck(authKey string, user string, pwd string, now time.Time) (authScope, bool) {
	pwdDec, err := hex.DecodeString(pwd)
	if err != nil {
		return "", false
	}
	if subtle.ConstantTimeCompare(pwdDec, authSign(authKey, user)) != 1 {
		return "", false
	}

	fields := strings.SplitN(user, "$", 3)
	if len(fields) < 2 {
		return "", false
	}

	expiry, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || now.Unix() > expiry {
		return "", false
	}

	switch scope := authScope(fields[1]); scope {
	case scopeRead, scopeControl:
		return scope, true
	}
	return "", false
}

// authAllows reports whether scope may perform rq. Only GET requests leave
// the pins untouched.
func authAllows(scope authScope, rq *http.Request) bool {
	return scope == scopeControl || rq.Method == http.MethodGet
}

func authProcess(handler http.HandlerFunc, authKey string) http.HandlerFunc {
	if len(authKey) == 0 {
		return handler
	}

	return func(rw http.ResponseWriter, rq *http.Request) {
		user, pwd, ok := rq.BasicAuth()
		if ok {
			var scope authScope
			if scope, ok = authCheck(authKey, user, pwd, time.Now()); ok && !authAllows(scope, rq) {
				http.Error(rw, "Credentials are read-only", http.StatusForbidden)
				return
			}
		}

		if !ok {
			rw.Header().Set("WWW-Authenticate", "Basic")
			rw.WriteHeader(http.StatusUnauthorized)
			return
		}

		handler(rw, rq)
	}
}
