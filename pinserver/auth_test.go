package main

import (
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestAuthProcess(t *testing.T) {
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	handler := authProcess(ok, "secret")

	check := func(method, user, pass string, set bool) int {
		r := httptest.NewRequest(method, "/pins/relay/write", nil)
		if set {
			r.SetBasicAuth(user, pass)
		}
		w := httptest.NewRecorder()
		handler(w, r)
		return w.Code
	}

	expiry := time.Now().Add(time.Hour)
	user, pass := authCalculate("secret", scopeControl, "test", expiry)
	if user != strconv.FormatInt(expiry.Unix(), 10)+"$control$test" {
		t.Fatalf("user %q", user)
	}
	if code := check("POST", user, pass, true); code != http.StatusOK {
		t.Fatalf("control credentials: %d", code)
	}

	roUser, roPass := authCalculate("secret", scopeRead, "", expiry)
	if code := check("GET", roUser, roPass, true); code != http.StatusOK {
		t.Fatalf("read credentials on GET: %d", code)
	}
	if code := check("POST", roUser, roPass, true); code != http.StatusForbidden {
		t.Fatalf("read credentials on POST: %d", code)
	}

	if code := check("GET", user, pass, false); code != http.StatusUnauthorized {
		t.Fatalf("no credentials: %d", code)
	}
	if code := check("GET", user, "zz", true); code != http.StatusUnauthorized {
		t.Fatalf("bad hex: %d", code)
	}

	otherUser, otherPass := authCalculate("other", scopeControl, "test", expiry)
	if code := check("GET", otherUser, otherPass, true); code != http.StatusUnauthorized {
		t.Fatalf("wrong key: %d", code)
	}

	oldUser, oldPass := authCalculate("secret", scopeControl, "", time.Now().Add(-time.Hour))
	if code := check("GET", oldUser, oldPass, true); code != http.StatusUnauthorized {
		t.Fatalf("expired: %d", code)
	}

	// Validly signed, but without a known scope.
	bare := strconv.FormatInt(expiry.Unix(), 10) + "$admin"
	if code := check("GET", bare, hex.EncodeToString(authSign("secret", bare)), true); code != http.StatusUnauthorized {
		t.Fatalf("unknown scope: %d", code)
	}

	r := httptest.NewRequest("POST", "/", nil)
	w := httptest.NewRecorder()
	authProcess(ok, "")(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("open server: %d", w.Code)
	}
}

func TestBusPath(t *testing.T) {
	p, err := busPath("platform:/dev/spidev0.1", 0)
	if err != nil || p != "platform:/dev/spidev0.1" {
		t.Fatalf("got %q %v", p, err)
	}

	p, err = busPath("platform:/dev/spidev0.1:1000000", 4000000)
	if err != nil || p != "platform:/dev/spidev0.1:4000000" {
		t.Fatalf("got %q %v", p, err)
	}

	if _, err := busPath("usb:", 1); err == nil {
		t.Fatalf("usb bus accepted")
	}

	var l pathList
	if l.Set("GPIO17") == nil || l.Set("relay=platform:GPIO17") != nil || l.String() != "relay=platform:GPIO17" {
		t.Fatalf("pathList=%v", l)
	}
}
